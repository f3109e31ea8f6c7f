package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Logger is the logging surface used across the package. Messages are
// either printf style formats or a message followed by key/value pairs.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Identity is the authenticated identity forwarded to request handlers
type Identity struct {
	UserID       uuid.UUID    `json:"user_id"`
	Email        string       `json:"email"`
	BusinessID   uuid.UUID    `json:"business_id"`
	BusinessRole BusinessRole `json:"business_role_id"`
}

// PasswordHasher hashes and verifies passwords
type PasswordHasher interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// CredentialStore tracks issued refresh tokens so they can be revoked
type CredentialStore interface {
	Save(ctx context.Context, userID uuid.UUID, token string) error
	Find(ctx context.Context, token string) (*RefreshCredential, error)
	Delete(ctx context.Context, token string) error
}

// Clock returns the current time, tests inject fixed clocks
type Clock func() time.Time
