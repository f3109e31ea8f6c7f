package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserStatus is the lifecycle state of a user account
type UserStatus string

const (
	// UserStatusPending is an invited user that has not set a password yet
	UserStatusPending UserStatus = "pending"
	// UserStatusActive can authenticate
	UserStatusActive UserStatus = "active"
	// UserStatusInactive was deactivated by a business admin
	UserStatusInactive UserStatus = "inactive"
)

// User is the user model. PasswordHash is empty (NULL) and InviteToken
// is set only while the user is pending.
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	ID            uuid.UUID    `bun:"id,pk,nullzero,type:uuid" json:"id"`
	Name          string       `bun:"name,notnull" json:"name"`
	Email         string       `bun:"email,notnull,unique" json:"email"`
	PasswordHash  string       `bun:"password_hash,nullzero" json:"-"`
	BusinessRole  BusinessRole `bun:"business_role_id,notnull" json:"business_role_id"`
	BusinessID    uuid.UUID    `bun:"business_id,nullzero,type:uuid" json:"business_id,omitempty"`
	Status        UserStatus   `bun:"status,notnull" json:"status"`
	InviteToken   string       `bun:"invite_token,nullzero,unique" json:"-"`
	InvitedAt     *time.Time   `bun:"invited_at,nullzero" json:"invited_at,omitempty"`
	ActivatedAt   *time.Time   `bun:"activated_at,nullzero" json:"activated_at,omitempty"`
	CreatedAt     *time.Time   `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time   `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// EnsureStatus defaults an empty status to active
func (u *User) EnsureStatus() {
	if u.Status == "" {
		u.Status = UserStatusActive
	}
}

func (u *User) IsPending() bool  { return u.Status == UserStatusPending }
func (u *User) IsActive() bool   { return u.Status == UserStatusActive }
func (u *User) IsInactive() bool { return u.Status == UserStatusInactive }

// Public returns the fields safe to hand back to API clients
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		BusinessID:   u.BusinessID,
		BusinessRole: u.BusinessRole,
		Status:       u.Status,
	}
}

// PublicUser is the user payload returned by the session endpoints
type PublicUser struct {
	ID           uuid.UUID    `json:"id"`
	Name         string       `json:"name"`
	Email        string       `json:"email"`
	BusinessID   uuid.UUID    `json:"business_id"`
	BusinessRole BusinessRole `json:"business_role_id"`
	Status       UserStatus   `json:"status"`
}

// Business is the tenant boundary
type Business struct {
	bun.BaseModel `bun:"table:businesses,alias:biz"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id"`
	Name          string     `bun:"name,notnull" json:"name"`
	OwnerID       uuid.UUID  `bun:"owner_id,nullzero,type:uuid" json:"owner_id,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// RefreshCredential is a server side record of an issued refresh token.
// Only the sha256 digest of the token is stored.
type RefreshCredential struct {
	bun.BaseModel `bun:"table:refresh_credentials,alias:rc"`
	TokenHash     string     `bun:"token_hash,pk" json:"-"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// ProjectMembership joins a user to a project with a project level role
type ProjectMembership struct {
	bun.BaseModel `bun:"table:project_memberships,alias:pm"`
	ProjectID     uuid.UUID   `bun:"project_id,pk,type:uuid" json:"project_id"`
	UserID        uuid.UUID   `bun:"user_id,pk,type:uuid" json:"user_id"`
	BusinessID    uuid.UUID   `bun:"business_id,notnull,type:uuid" json:"business_id"`
	Role          ProjectRole `bun:"role,notnull" json:"role"`
	CreatedAt     *time.Time  `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time  `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// AuthResult is returned by the login and signup flows
type AuthResult struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	User         PublicUser `json:"user"`
	Business     *Business  `json:"business,omitempty"`
}
