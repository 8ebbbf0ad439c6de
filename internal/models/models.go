// Package models defines the persisted domain records shared by the storage
// drivers and the API layer.
package models

import (
	"strings"
	"time"
)

// User is the account record held in the credential store. PasswordHash and
// RefreshToken never leave the process: response shaping strips them before
// anything is written to a client.
type User struct {
	ID            string    `bson:"_id" json:"id"`
	Username      string    `bson:"username" json:"username"`
	Email         string    `bson:"email" json:"email"`
	FullName      string    `bson:"fullName" json:"fullName"`
	PasswordHash  string    `bson:"passwordHash" json:"-"`
	AvatarURL     string    `bson:"avatarUrl" json:"avatarUrl"`
	CoverImageURL string    `bson:"coverImageUrl,omitempty" json:"coverImageUrl,omitempty"`
	RefreshToken  string    `bson:"refreshToken,omitempty" json:"-"`
	WatchHistory  []string  `bson:"watchHistory,omitempty" json:"watchHistory,omitempty"`
	CreatedAt     time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time `bson:"updatedAt" json:"updatedAt"`
}

// NormalizeUsername applies the canonical form used for storage and lookup.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// NormalizeEmail trims surrounding whitespace from an email identity key.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(email)
}
