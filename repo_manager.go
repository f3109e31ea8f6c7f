package auth

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	Validate() error
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
	DB() *bun.DB
	Users() Users
	Businesses() Businesses
	Credentials() Credentials
	Memberships() Memberships
}

type mngr struct {
	db          *bun.DB
	users       Users
	businesses  Businesses
	credentials Credentials
	memberships Memberships
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:          db,
		users:       NewUsersRepository(db),
		businesses:  NewBusinessesRepository(db),
		credentials: NewCredentialsRepository(db),
		memberships: NewMembershipsRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("database should be initialized")
	}

	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.businesses == nil {
		return errors.New("repository businesses should be initialized")
	}

	if m.credentials == nil {
		return errors.New("repository credentials should be initialized")
	}

	if m.memberships == nil {
		return errors.New("repository memberships should be initialized")
	}

	return nil
}

// RunInTx runs f in a transaction. Activity recorded inside f is published
// once the transaction has ended, and dropped if it rolled back.
func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	txCtx, buf, owned := withActivityBuffer(ctx)
	err := m.db.RunInTx(txCtx, opts, f)
	if owned {
		buf.flush(ctx, err == nil)
	}
	return err
}

func (m mngr) DB() *bun.DB {
	return m.db
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) Businesses() Businesses {
	return m.businesses
}

func (m mngr) Credentials() Credentials {
	return m.credentials
}

func (m mngr) Memberships() Memberships {
	return m.memberships
}
