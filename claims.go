package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the payload of both access and refresh tokens
type Claims struct {
	jwt.RegisteredClaims
	Email        string       `json:"email,omitempty"`
	BusinessID   string       `json:"bid,omitempty"`
	BusinessRole BusinessRole `json:"brid,omitempty"`
}

// ClaimsFromUser builds the tenant claims for a user
func ClaimsFromUser(u *User) Claims {
	c := Claims{
		Email:        u.Email,
		BusinessRole: u.BusinessRole,
	}
	c.RegisteredClaims.Subject = u.ID.String()
	if u.BusinessID != uuid.Nil {
		c.BusinessID = u.BusinessID.String()
	}
	return c
}

// UserID returns the subject as a user id
func (c *Claims) UserID() string {
	return c.RegisteredClaims.Subject
}

// Identity converts claims into the request identity. Malformed ids
// come back as uuid.Nil.
func (c *Claims) Identity() Identity {
	uid, _ := uuid.Parse(c.RegisteredClaims.Subject)
	bid, _ := uuid.Parse(c.BusinessID)
	return Identity{
		UserID:       uid,
		Email:        c.Email,
		BusinessID:   bid,
		BusinessRole: c.BusinessRole,
	}
}

// Can checks a business level capability without a database round trip
func (c *Claims) Can(capability Capability) bool {
	return c.BusinessRole.Allows(capability)
}

// Expires returns the expiration time
func (c *Claims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *Claims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}
