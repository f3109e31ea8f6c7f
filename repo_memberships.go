package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

var ErrDuplicateMembership = goerrors.New("user is already a project member", goerrors.CategoryConflict).
	WithTextCode("DUPLICATE_MEMBERSHIP").
	WithCode(goerrors.CodeConflict)

type Memberships interface {
	AddTx(ctx context.Context, tx bun.IDB, record *ProjectMembership) error
	GetTx(ctx context.Context, tx bun.IDB, projectID, userID uuid.UUID) (*ProjectMembership, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]ProjectMembership, error)
	// ProjectBusinessTx resolves the business owning a project from its
	// memberships, found is false for a project without members
	ProjectBusinessTx(ctx context.Context, tx bun.IDB, projectID uuid.UUID) (businessID uuid.UUID, found bool, err error)
	// LockProjectTx row locks every membership of the project until the
	// transaction ends. It is a no-op on dialects without FOR UPDATE.
	LockProjectTx(ctx context.Context, tx bun.IDB, projectID uuid.UUID) error
	CountAdminsTx(ctx context.Context, tx bun.IDB, projectID uuid.UUID) (int, error)
	UpdateRoleTx(ctx context.Context, tx bun.IDB, projectID, userID uuid.UUID, role ProjectRole) error
	DeleteTx(ctx context.Context, tx bun.IDB, projectID, userID uuid.UUID) error
}

type memberships struct {
	db *bun.DB
}

var _ Memberships = (*memberships)(nil)

func NewMembershipsRepository(db *bun.DB) Memberships {
	return &memberships{db: db}
}

func (m *memberships) AddTx(ctx context.Context, tx bun.IDB, record *ProjectMembership) error {
	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateMembership
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to add project member")
	}
	return nil
}

func (m *memberships) GetTx(ctx context.Context, tx bun.IDB, projectID, userID uuid.UUID) (*ProjectMembership, error) {
	record := &ProjectMembership{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.project_id = ?", projectID).
		Where("?TableAlias.user_id = ?", userID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMembershipNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load project member")
	}
	return record, nil
}

func (m *memberships) ListByProject(ctx context.Context, projectID uuid.UUID) ([]ProjectMembership, error) {
	var records []ProjectMembership
	err := m.db.NewSelect().
		Model(&records).
		Where("?TableAlias.project_id = ?", projectID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list project members")
	}
	return records, nil
}

func (m *memberships) ProjectBusinessTx(ctx context.Context, tx bun.IDB, projectID uuid.UUID) (uuid.UUID, bool, error) {
	var businessID uuid.UUID
	err := tx.NewSelect().
		Model((*ProjectMembership)(nil)).
		Column("business_id").
		Where("project_id = ?", projectID).
		Limit(1).
		Scan(ctx, &businessID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve project business")
	}
	return businessID, true, nil
}

func (m *memberships) LockProjectTx(ctx context.Context, tx bun.IDB, projectID uuid.UUID) error {
	if tx.Dialect().Name() != dialect.PG {
		return nil
	}

	var ids []uuid.UUID
	err := tx.NewSelect().
		Model((*ProjectMembership)(nil)).
		Column("user_id").
		Where("project_id = ?", projectID).
		For("UPDATE").
		Scan(ctx, &ids)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to lock project members")
	}
	return nil
}

func (m *memberships) CountAdminsTx(ctx context.Context, tx bun.IDB, projectID uuid.UUID) (int, error) {
	n, err := tx.NewSelect().
		Model((*ProjectMembership)(nil)).
		Where("project_id = ?", projectID).
		Where("role = ?", ProjectRoleAdmin).
		Count(ctx)
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to count project admins")
	}
	return n, nil
}

func (m *memberships) UpdateRoleTx(ctx context.Context, tx bun.IDB, projectID, userID uuid.UUID, role ProjectRole) error {
	res, err := tx.NewUpdate().
		Model((*ProjectMembership)(nil)).
		Set("role = ?", role).
		Set("updated_at = ?", time.Now().UTC()).
		Where("project_id = ?", projectID).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update project role")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

func (m *memberships) DeleteTx(ctx context.Context, tx bun.IDB, projectID, userID uuid.UUID) error {
	res, err := tx.NewDelete().
		Model((*ProjectMembership)(nil)).
		Where("project_id = ?", projectID).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to remove project member")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrMembershipNotFound
	}
	return nil
}
