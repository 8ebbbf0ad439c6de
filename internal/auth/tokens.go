// Package auth issues and verifies the signed tokens backing the account
// session workflow. Access tokens are short-lived bearer credentials carrying
// identity claims; refresh tokens are longer-lived, carry only the subject,
// and are matched against the single stored token before rotation.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenExpired reports a structurally valid token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenMalformed reports a token that failed parsing or signature
	// verification for any reason other than expiry.
	ErrTokenMalformed = errors.New("token malformed")
)

const defaultIssuer = "streamnest"

// TokenConfig carries the signing material and lifetimes for both token
// kinds. Access and refresh tokens are signed with distinct secrets so a
// leaked refresh token can never be replayed as an access token.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

func applyTokenDefaults(cfg TokenConfig) TokenConfig {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	return cfg
}

// AccessClaims is the payload embedded in access tokens. Subject holds the
// user id.
type AccessClaims struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

// TokenPair bundles the two tokens minted by a successful login or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// TokenService mints and verifies HMAC-signed session tokens.
type TokenService struct {
	cfg TokenConfig
	now func() time.Time
}

// NewTokenService validates the signing configuration and returns a service.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	cfg = applyTokenDefaults(cfg)
	if strings.TrimSpace(cfg.AccessSecret) == "" {
		return nil, errors.New("access token secret is required")
	}
	if strings.TrimSpace(cfg.RefreshSecret) == "" {
		return nil, errors.New("refresh token secret is required")
	}
	return &TokenService{cfg: cfg, now: time.Now}, nil
}

// AccessTTL reports the configured access token lifetime.
func (s *TokenService) AccessTTL() time.Duration {
	return s.cfg.AccessTTL
}

// RefreshTTL reports the configured refresh token lifetime.
func (s *TokenService) RefreshTTL() time.Duration {
	return s.cfg.RefreshTTL
}

// IssuePair mints a fresh access/refresh token pair for the user.
func (s *TokenService) IssuePair(userID, username, email string) (TokenPair, error) {
	if strings.TrimSpace(userID) == "" {
		return TokenPair{}, errors.New("user id is required")
	}
	now := s.now().UTC()

	access := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessClaims{
		Username: username,
		Email:    email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTTL)),
		},
	})
	accessToken, err := access.SignedString([]byte(s.cfg.AccessSecret))
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}

	refresh := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    s.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.RefreshTTL)),
	})
	refreshToken, err := refresh.SignedString([]byte(s.cfg.RefreshSecret))
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// VerifyAccess parses and validates an access token and returns its claims.
func (s *TokenService) VerifyAccess(token string) (AccessClaims, error) {
	var claims AccessClaims
	if err := s.parse(token, &claims, s.cfg.AccessSecret); err != nil {
		return AccessClaims{}, err
	}
	return claims, nil
}

// VerifyRefresh parses and validates a refresh token and returns the subject
// user id.
func (s *TokenService) VerifyRefresh(token string) (string, error) {
	var claims jwt.RegisteredClaims
	if err := s.parse(token, &claims, s.cfg.RefreshSecret); err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (s *TokenService) parse(token string, claims jwt.Claims, secret string) error {
	if strings.TrimSpace(token) == "" {
		return ErrTokenMalformed
	}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Header["alg"])
		}
		return []byte(secret), nil
	},
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if !parsed.Valid {
		return ErrTokenMalformed
	}
	return nil
}
