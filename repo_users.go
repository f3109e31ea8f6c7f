package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// StatusChange describes a persisted status transition
type StatusChange struct {
	From UserStatus
	To   UserStatus
	At   time.Time
	// Activation is set when a pending user consumes an invite
	Activation *Activation
}

// Activation holds the fields written when an invite is consumed
type Activation struct {
	InviteToken  string
	Name         string
	PasswordHash string
}

type Users interface {
	CreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetActiveByEmail(ctx context.Context, email string) (*User, error)
	GetPendingByInviteTokenTx(ctx context.Context, tx bun.IDB, token string) (*User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	EmailExistsTx(ctx context.Context, tx bun.IDB, email string) (bool, error)
	UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, change StatusChange) error
}

type users struct {
	repo repository.Repository[*User]
	db   *bun.DB
}

var _ Users = (*users)(nil)

func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &users{
		repo: repo,
		db:   db,
	}
}

// NormalizeEmail is the canonical form emails are stored and matched in
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error) {
	prepareUserDefaults(record)

	created, err := a.repo.CreateTx(ctx, tx, record)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "could not create user")
	}
	return created, nil
}

func (a *users) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return a.GetByIDTx(ctx, a.db, id)
}

func (a *users) GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, "failed to load user")
	}
	return record, nil
}

func (a *users) GetByEmail(ctx context.Context, email string) (*User, error) {
	record, err := a.repo.GetByIdentifierTx(ctx, a.db, NormalizeEmail(email))
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, notFoundOr(err, "failed to load user by email")
	}
	return record, nil
}

func (a *users) GetActiveByEmail(ctx context.Context, email string) (*User, error) {
	record := &User{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Where("?TableAlias.status = ?", UserStatusActive).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, "failed to load active user")
	}
	return record, nil
}

func (a *users) GetPendingByInviteTokenTx(ctx context.Context, tx bun.IDB, token string) (*User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrUserNotFound
	}

	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.invite_token = ?", token).
		Where("?TableAlias.status = ?", UserStatusPending).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, "failed to load invited user")
	}
	return record, nil
}

func (a *users) EmailExists(ctx context.Context, email string) (bool, error) {
	return a.EmailExistsTx(ctx, a.db, email)
}

func (a *users) EmailExistsTx(ctx context.Context, tx bun.IDB, email string) (bool, error) {
	exists, err := tx.NewSelect().
		Model((*User)(nil)).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Exists(ctx)
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email")
	}
	return exists, nil
}

// UpdateStatusTx persists a status change only if the row is still in the
// expected source status. Zero affected rows means somebody else moved
// the user first and yields ErrInvalidTransition.
func (a *users) UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, change StatusChange) error {
	q := tx.NewUpdate().
		Model((*User)(nil)).
		Set("status = ?", change.To).
		Set("updated_at = ?", change.At).
		Where("id = ?", id).
		Where("status = ?", change.From)

	if act := change.Activation; act != nil {
		q = q.
			Set("name = ?", act.Name).
			Set("password_hash = ?", act.PasswordHash).
			Set("activated_at = ?", change.At).
			Set("invite_token = NULL").
			Where("invite_token = ?", act.InviteToken)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user status")
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	if record.BusinessRole == "" {
		record.BusinessRole = BusinessRoleMember
	}

	record.Email = NormalizeEmail(record.Email)
	record.EnsureStatus()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}

func notFoundOr(err error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUserNotFound
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}
