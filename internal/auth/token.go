// Package auth provides signed tokens, password hashing and the HTTP
// authentication middleware.
//
// TOKENS:
// Every token is an HS256 JWT carrying a purpose tag next to the standard
// claims:
//
//	{"purpose":"confirm","sub":"<userID>","jti":"<uuid>","exp":1700000000}
//
// The purpose keeps a token minted for one flow from being replayed in
// another: a password-reset token cannot confirm an account, and a session
// cookie cannot reset a password. Email-change tokens also carry the pending
// address in "new_email".
//
// The server can verify the signature without any DB lookup, just the secret.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sakif/social-blog/internal/apperror"
)

const issuer = "social-blog"

// Purpose tags what a token may be used for.
type Purpose string

const (
	PurposeSession     Purpose = "session"
	PurposeConfirm     Purpose = "confirm"
	PurposeReset       Purpose = "reset"
	PurposeChangeEmail Purpose = "change_email"
)

// Claims is the JWT payload.
type Claims struct {
	Purpose  Purpose `json:"purpose"`
	NewEmail string  `json:"new_email,omitempty"`
	jwt.RegisteredClaims
}

// UserID is the subject the token was issued to.
func (c *Claims) UserID() string { return c.Subject }

// TokenService signs and verifies every token the application hands out.
type TokenService struct {
	secret     []byte
	sessionTTL time.Duration
	now        func() time.Time
}

// TokenOption customises a TokenService.
type TokenOption func(*TokenService)

// WithSessionTTL sets the lifetime of session tokens (default 24h).
func WithSessionTTL(d time.Duration) TokenOption {
	return func(s *TokenService) {
		if d > 0 {
			s.sessionTTL = d
		}
	}
}

// WithClock replaces time.Now. Tests use it to move past a token's expiry
// without sleeping.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) { s.now = now }
}

// NewTokenService creates a TokenService with the given secret.
// The secret should be at least 32 bytes of random data in production.
// Example: BLOG_AUTH_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string, opts ...TokenOption) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: token secret must be at least 16 characters")
	}
	s := &TokenService{
		secret:     []byte(secret),
		sessionTTL: 24 * time.Hour,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a token for purpose and userID that expires after ttl.
func (s *TokenService) Issue(purpose Purpose, userID string, ttl time.Duration) (string, error) {
	return s.sign(Claims{Purpose: purpose}, userID, ttl)
}

// IssueEmailChange signs a change_email token binding the pending address.
func (s *TokenService) IssueEmailChange(userID, newEmail string, ttl time.Duration) (string, error) {
	return s.sign(Claims{Purpose: PurposeChangeEmail, NewEmail: newEmail}, userID, ttl)
}

func (s *TokenService) sign(c Claims, userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("auth: token subject must not be empty")
	}
	now := s.now()
	c.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   userID,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Parse verifies tokenStr and checks that it was issued for purpose.
//
// Errors (all *apperror.AppError):
//   - apperror.ErrTokenExpired:   signature fine, exp in the past
//   - apperror.ErrTokenSignature: malformed, tampered, wrong key or algorithm
//   - apperror.ErrTokenPurpose:   valid token minted for a different flow
func (s *TokenService) Parse(tokenStr string, purpose Purpose) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperror.Token(apperror.ErrTokenExpired)
		}
		return nil, apperror.Token(apperror.ErrTokenSignature)
	}

	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || c.Subject == "" {
		return nil, apperror.Token(apperror.ErrTokenSignature)
	}
	if c.Purpose != purpose {
		return nil, apperror.Token(apperror.ErrTokenPurpose)
	}
	return c, nil
}

// Generate creates a session token for userID.
func (s *TokenService) Generate(userID string) (string, error) {
	return s.Issue(PurposeSession, userID, s.sessionTTL)
}

// SessionTTL is how long Generate's tokens live; the cookie uses the same age.
func (s *TokenService) SessionTTL() time.Duration {
	return s.sessionTTL
}

// Validate parses a session token and returns its user ID.
func (s *TokenService) Validate(tokenStr string) (string, error) {
	c, err := s.Parse(tokenStr, PurposeSession)
	if err != nil {
		return "", err
	}
	return c.Subject, nil
}
