// Package model defines the data structures used throughout the application.
package model

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/sakif/social-blog/internal/apperror"
)

// User represents a registered account.
//
// PasswordHash is the only password material ever stored. The plaintext is
// write-only: SetPassword hashes it and Password always fails.
//
// RoleID is a reference, not an embedded Role. Resolve it through the role
// repository at the point of use (see service.UserService.Principal).
//
// GitHubID is set for accounts created or linked through GitHub sign-in.
type User struct {
	ID           string    `json:"id"                 db:"id"`
	Email        string    `json:"email"              db:"email"`
	Username     string    `json:"username"           db:"username"`
	PasswordHash string    `json:"-"                  db:"password_hash"`
	Confirmed    bool      `json:"confirmed"          db:"confirmed"`
	RoleID       *string   `json:"roleId,omitempty"   db:"role_id"`
	Name         string    `json:"name"               db:"name"`
	Location     string    `json:"location"           db:"location"`
	AboutMe      string    `json:"aboutMe"            db:"about_me"`
	AvatarHash   string    `json:"avatarHash"         db:"avatar_hash"`
	GitHubID     *int64    `json:"githubId,omitempty" db:"github_id"`
	MemberSince  time.Time `json:"memberSince"        db:"member_since"`
	LastSeen     time.Time `json:"lastSeen"           db:"last_seen"`
}

// PasswordHasher is satisfied by auth.PasswordService.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(hash, plaintext string) error
}

// Password always fails: the plaintext password is never kept.
func (u *User) Password() (string, error) {
	return "", apperror.NotReadable("password")
}

// SetPassword replaces PasswordHash with a fresh salted hash of plaintext.
func (u *User) SetPassword(h PasswordHasher, plaintext string) error {
	hash, err := h.Hash(plaintext)
	if err != nil {
		return fmt.Errorf("model: setting password: %w", err)
	}
	u.PasswordHash = hash
	return nil
}

// VerifyPassword checks plaintext against the stored hash. Accounts without
// a password (GitHub sign-in only) never verify.
func (u *User) VerifyPassword(h PasswordHasher, plaintext string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return h.Verify(u.PasswordHash, plaintext) == nil
}

// AvatarHashFor is the gravatar fingerprint of an email: hex MD5 of the
// trimmed, lower-cased address.
func AvatarHashFor(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

// Gravatar returns the avatar URL for the user at the given pixel size.
func (u *User) Gravatar(size int, secure bool) string {
	base := "http://www.gravatar.com/avatar"
	if secure {
		base = "https://secure.gravatar.com/avatar"
	}
	hash := u.AvatarHash
	if hash == "" {
		hash = AvatarHashFor(u.Email)
	}
	return fmt.Sprintf("%s/%s?s=%d&d=identicon&r=g", base, hash, size)
}
