// Package storage persists account records. Two drivers implement the
// Repository contract: a JSON-file store used for development and tests, and
// the MongoDB store used in production. Password hashing happens on write
// inside the drivers so plaintext never reaches the dataset.
package storage

import (
	"context"
	"errors"

	"streamnest/internal/models"
)

var (
	// ErrInvalidCredentials is returned when a presented password does not
	// match the stored hash.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDuplicateUser is returned when a create or update would violate the
	// username/email uniqueness invariant.
	ErrDuplicateUser = errors.New("user with email or username already exists")
	// ErrUserNotFound is returned by mutations targeting an unknown user id.
	ErrUserNotFound = errors.New("user not found")
)

// CreateUserParams carries the validated registration input. Password is
// plaintext here and hashed by the driver on write.
type CreateUserParams struct {
	FullName      string
	Email         string
	Username      string
	Password      string
	AvatarURL     string
	CoverImageURL string
}

// UserUpdate describes a partial update. Nil fields are left untouched.
// Username and Email changes are re-checked against the uniqueness invariant
// inside the driver, where the check can be made atomically.
type UserUpdate struct {
	FullName      *string
	Email         *string
	Username      *string
	AvatarURL     *string
	CoverImageURL *string
}

// Repository exposes the credential-store operations required by the account
// workflow handlers.
type Repository interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, params CreateUserParams) (models.User, error)
	GetUser(ctx context.Context, id string) (models.User, bool, error)
	// FindByIdentity looks up a record matching either identity key. Username
	// is matched in its normalized (lowercase) form.
	FindByIdentity(ctx context.Context, username, email string) (models.User, bool, error)
	UpdateUser(ctx context.Context, id string, update UserUpdate) (models.User, error)
	// SetRefreshToken persists the single active refresh token for the user.
	// An empty token clears it (logout).
	SetRefreshToken(ctx context.Context, id, token string) error
	// SetUserPassword replaces the stored hash, hashing the plaintext on write.
	SetUserPassword(ctx context.Context, id, password string) error
}
