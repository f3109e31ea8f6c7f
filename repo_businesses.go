package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var ErrBusinessNotFound = goerrors.New("business not found", goerrors.CategoryNotFound).
	WithTextCode("BUSINESS_NOT_FOUND").
	WithCode(goerrors.CodeNotFound)

type Businesses interface {
	CreateTx(ctx context.Context, tx bun.IDB, record *Business) (*Business, error)
	SetOwnerTx(ctx context.Context, tx bun.IDB, businessID, ownerID uuid.UUID) error
}

type businesses struct {
	repo repository.Repository[*Business]
}

var _ Businesses = (*businesses)(nil)

func NewBusinessesRepository(db *bun.DB) Businesses {
	repo := repository.NewRepository[*Business](db, repository.ModelHandlers[*Business]{
		NewRecord: func() *Business { return &Business{} },
		GetID: func(b *Business) uuid.UUID {
			if b == nil {
				return uuid.Nil
			}
			return b.ID
		},
		SetID: func(b *Business, id uuid.UUID) {
			if b != nil {
				b.ID = id
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
	})
	return &businesses{repo: repo}
}

func (b *businesses) CreateTx(ctx context.Context, tx bun.IDB, record *Business) (*Business, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	created, err := b.repo.CreateTx(ctx, tx, record)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "could not create business")
	}
	return created, nil
}

// SetOwnerTx back-fills the owner once the first admin exists
func (b *businesses) SetOwnerTx(ctx context.Context, tx bun.IDB, businessID, ownerID uuid.UUID) error {
	res, err := tx.NewUpdate().
		Model((*Business)(nil)).
		Set("owner_id = ?", ownerID).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", businessID).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to set business owner")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrBusinessNotFound
	}
	return nil
}
