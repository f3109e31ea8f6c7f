package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Credentials is the relational credential store. Tokens are keyed by
// their sha256 digest; the raw token is never persisted.
type Credentials interface {
	CredentialStore
	SaveTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, token string) error
	DeleteAllForUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (int64, error)
	CountForUser(ctx context.Context, userID uuid.UUID) (int, error)
}

type credentials struct {
	db *bun.DB
}

var _ Credentials = (*credentials)(nil)

// NewCredentialsRepository returns the bun backed credential store
func NewCredentialsRepository(db *bun.DB) Credentials {
	return &credentials{db: db}
}

// HashToken returns the storage key of a refresh token
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (c *credentials) Save(ctx context.Context, userID uuid.UUID, token string) error {
	return c.SaveTx(ctx, c.db, userID, token)
}

func (c *credentials) SaveTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, token string) error {
	record := &RefreshCredential{
		TokenHash: HashToken(token),
		UserID:    userID,
	}

	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to save refresh credential")
	}
	return nil
}

func (c *credentials) Find(ctx context.Context, token string) (*RefreshCredential, error) {
	record := &RefreshCredential{}
	err := c.db.NewSelect().
		Model(record).
		Where("?TableAlias.token_hash = ?", HashToken(token)).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find refresh credential")
	}
	return record, nil
}

// Delete removes the credential, deleting an absent token is not an error
func (c *credentials) Delete(ctx context.Context, token string) error {
	_, err := c.db.NewDelete().
		Model((*RefreshCredential)(nil)).
		Where("token_hash = ?", HashToken(token)).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete refresh credential")
	}
	return nil
}

func (c *credentials) DeleteAllForUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID) (int64, error) {
	res, err := tx.NewDelete().
		Model((*RefreshCredential)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke refresh credentials")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (c *credentials) CountForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	return c.db.NewSelect().
		Model((*RefreshCredential)(nil)).
		Where("user_id = ?", userID).
		Count(ctx)
}
