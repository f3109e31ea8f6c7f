package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-tenant-auth/metrics"
)

// Can reports whether the identity's business role grants the capability.
// It only looks at token claims and never touches the database.
func Can(actor Identity, capability Capability) bool {
	if actor.UserID == uuid.Nil {
		return false
	}
	return actor.BusinessRole.Allows(capability)
}

// RequireCapability is Can returning ErrForbidden
func RequireCapability(actor Identity, capability Capability) error {
	if !Can(actor, capability) {
		return ErrForbidden
	}
	return nil
}

// Authorizer evaluates project level roles and guards project membership
// changes so a project never loses its last admin.
//
// The admin count and the mutation share one transaction. On Postgres the
// project's membership rows are locked first. On every dialect the count
// is checked again after the mutation and the transaction is aborted if no
// admin is left.
type Authorizer struct {
	repo     RepositoryManager
	activity activityRecorder
	logger   Logger
}

type AuthorizerOption func(*Authorizer)

func WithAuthorizerLogger(logger Logger) AuthorizerOption {
	return func(a *Authorizer) {
		a.logger = normalizeLogger(logger)
	}
}

func WithAuthorizerActivitySink(sink ActivitySink) AuthorizerOption {
	return func(a *Authorizer) {
		a.activity.sink = sink
	}
}

func WithAuthorizerClock(clock Clock) AuthorizerOption {
	return func(a *Authorizer) {
		if clock != nil {
			a.activity.now = clock
		}
	}
}

func NewAuthorizer(repo RepositoryManager, opts ...AuthorizerOption) *Authorizer {
	a := &Authorizer{
		repo:     repo,
		logger:   nopLogger{},
		activity: activityRecorder{now: time.Now},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	a.activity.logger = a.logger
	return a
}

// ProjectRole returns the actor's role in a project of their business
func (a *Authorizer) ProjectRole(ctx context.Context, actor Identity, projectID uuid.UUID) (ProjectRole, error) {
	m, err := a.repo.Memberships().GetTx(ctx, a.repo.DB(), projectID, actor.UserID)
	if err != nil {
		return "", err
	}
	if m.BusinessID != actor.BusinessID {
		return "", ErrMembershipNotFound
	}
	return m.Role, nil
}

// Members lists a project's memberships. The business owner and project
// members may read it.
func (a *Authorizer) Members(ctx context.Context, actor Identity, projectID uuid.UUID) ([]ProjectMembership, error) {
	if err := RequireCapability(actor, CapViewProjects); err != nil {
		return nil, err
	}

	records, err := a.repo.Memberships().ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return records, nil
	}
	if records[0].BusinessID != actor.BusinessID {
		return nil, ErrForbidden
	}
	if actor.BusinessRole == BusinessRoleOwner {
		return records, nil
	}
	for _, r := range records {
		if r.UserID == actor.UserID {
			return records, nil
		}
	}
	return nil, ErrForbidden
}

// AddMember adds a user of the actor's business to a project. The first
// member of a project has to be an admin.
func (a *Authorizer) AddMember(ctx context.Context, actor Identity, projectID, userID uuid.UUID, role ProjectRole) (*ProjectMembership, error) {
	if !role.IsValid() {
		return nil, ErrInvalidProjectRole
	}

	record := &ProjectMembership{
		ProjectID:  projectID,
		UserID:     userID,
		BusinessID: actor.BusinessID,
		Role:       role,
	}

	err := a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		members := a.repo.Memberships()
		if err := members.LockProjectTx(ctx, tx, projectID); err != nil {
			return err
		}

		_, found, err := members.ProjectBusinessTx(ctx, tx, projectID)
		if err != nil {
			return err
		}

		if found {
			if err := a.authorizeProjectAdminTx(ctx, tx, actor, projectID); err != nil {
				return err
			}
		} else {
			if err := RequireCapability(actor, CapManageProjects); err != nil {
				return err
			}
			if role != ProjectRoleAdmin {
				return a.lastAdminViolation(ctx, actor, projectID, userID, "add")
			}
		}

		user, err := a.repo.Users().GetByIDTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user.BusinessID != actor.BusinessID || user.IsInactive() {
			return ErrUserNotFound
		}

		return members.AddTx(ctx, tx, record)
	})
	if err != nil {
		return nil, err
	}

	a.activity.record(ctx, ActivityEvent{
		EventType:  ActivityEventMemberAdded,
		Actor:      ActorFromIdentity(actor),
		UserID:     userID.String(),
		BusinessID: actor.BusinessID.String(),
		Metadata:   map[string]any{"project_id": projectID.String(), "role": string(role)},
	})
	return record, nil
}

// ChangeRole updates a member's project role. Demoting the last admin
// returns ErrLastAdminProtected and leaves the membership untouched.
func (a *Authorizer) ChangeRole(ctx context.Context, actor Identity, projectID, userID uuid.UUID, role ProjectRole) error {
	if !role.IsValid() {
		return ErrInvalidProjectRole
	}

	var from ProjectRole
	err := a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := a.prepareMutationTx(ctx, tx, actor, projectID, userID)
		if err != nil {
			return err
		}

		from = current.Role
		if from == role {
			return nil
		}

		demotion := from == ProjectRoleAdmin
		if demotion {
			if err := a.ensureAnotherAdminTx(ctx, tx, actor, projectID, userID, "change_role"); err != nil {
				return err
			}
		}

		if err := a.repo.Memberships().UpdateRoleTx(ctx, tx, projectID, userID, role); err != nil {
			return err
		}

		if demotion {
			return a.verifyAdminRemainsTx(ctx, tx, actor, projectID, userID, "change_role")
		}
		return nil
	})
	if err != nil {
		return err
	}

	if from != role {
		a.activity.record(ctx, ActivityEvent{
			EventType:  ActivityEventMemberRoleChanged,
			Actor:      ActorFromIdentity(actor),
			UserID:     userID.String(),
			BusinessID: actor.BusinessID.String(),
			Metadata: map[string]any{
				"project_id": projectID.String(),
				"from":       string(from),
				"to":         string(role),
			},
		})
	}
	return nil
}

// RemoveMember deletes a membership. Removing the last admin returns
// ErrLastAdminProtected and leaves the membership untouched.
func (a *Authorizer) RemoveMember(ctx context.Context, actor Identity, projectID, userID uuid.UUID) error {
	err := a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := a.prepareMutationTx(ctx, tx, actor, projectID, userID)
		if err != nil {
			return err
		}

		wasAdmin := current.Role == ProjectRoleAdmin
		if wasAdmin {
			if err := a.ensureAnotherAdminTx(ctx, tx, actor, projectID, userID, "remove"); err != nil {
				return err
			}
		}

		if err := a.repo.Memberships().DeleteTx(ctx, tx, projectID, userID); err != nil {
			return err
		}

		if wasAdmin {
			return a.verifyAdminRemainsTx(ctx, tx, actor, projectID, userID, "remove")
		}
		return nil
	})
	if err != nil {
		return err
	}

	a.activity.record(ctx, ActivityEvent{
		EventType:  ActivityEventMemberRemoved,
		Actor:      ActorFromIdentity(actor),
		UserID:     userID.String(),
		BusinessID: actor.BusinessID.String(),
		Metadata:   map[string]any{"project_id": projectID.String()},
	})
	return nil
}

// prepareMutationTx locks the project, authorizes the actor and loads the
// target membership
func (a *Authorizer) prepareMutationTx(ctx context.Context, tx bun.IDB, actor Identity, projectID, userID uuid.UUID) (*ProjectMembership, error) {
	members := a.repo.Memberships()
	if err := members.LockProjectTx(ctx, tx, projectID); err != nil {
		return nil, err
	}

	if err := a.authorizeProjectAdminTx(ctx, tx, actor, projectID); err != nil {
		return nil, err
	}

	current, err := members.GetTx(ctx, tx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if current.BusinessID != actor.BusinessID {
		return nil, ErrMembershipNotFound
	}
	return current, nil
}

// authorizeProjectAdminTx allows the business owner and project admins
func (a *Authorizer) authorizeProjectAdminTx(ctx context.Context, tx bun.IDB, actor Identity, projectID uuid.UUID) error {
	if actor.UserID == uuid.Nil {
		return ErrForbidden
	}

	businessID, found, err := a.repo.Memberships().ProjectBusinessTx(ctx, tx, projectID)
	if err != nil {
		return err
	}
	if !found {
		return ErrMembershipNotFound
	}
	if businessID != actor.BusinessID {
		return ErrForbidden
	}

	if Can(actor, CapManageBusiness) {
		return nil
	}

	m, err := a.repo.Memberships().GetTx(ctx, tx, projectID, actor.UserID)
	if err != nil {
		if errors.Is(err, ErrMembershipNotFound) {
			return ErrForbidden
		}
		return err
	}
	if m.Role != ProjectRoleAdmin {
		return ErrForbidden
	}
	return nil
}

func (a *Authorizer) ensureAnotherAdminTx(ctx context.Context, tx bun.IDB, actor Identity, projectID, userID uuid.UUID, op string) error {
	admins, err := a.repo.Memberships().CountAdminsTx(ctx, tx, projectID)
	if err != nil {
		return err
	}
	if admins <= 1 {
		return a.lastAdminViolation(ctx, actor, projectID, userID, op)
	}
	return nil
}

func (a *Authorizer) verifyAdminRemainsTx(ctx context.Context, tx bun.IDB, actor Identity, projectID, userID uuid.UUID, op string) error {
	admins, err := a.repo.Memberships().CountAdminsTx(ctx, tx, projectID)
	if err != nil {
		return err
	}
	if admins == 0 {
		a.logger.Warn("concurrent change removed the last project admin, rolling back",
			"project_id", projectID.String(), "user_id", userID.String())
		return a.lastAdminViolation(ctx, actor, projectID, userID, op)
	}
	return nil
}

func (a *Authorizer) lastAdminViolation(ctx context.Context, actor Identity, projectID, userID uuid.UUID, op string) error {
	metrics.LastAdminRejectionsTotal.Inc()
	a.activity.recordRejection(ctx, ActivityEvent{
		EventType:  ActivityEventLastAdminProtected,
		Actor:      ActorFromIdentity(actor),
		UserID:     userID.String(),
		BusinessID: actor.BusinessID.String(),
		Metadata:   map[string]any{"project_id": projectID.String(), "operation": op},
	})
	return ErrLastAdminProtected
}
