package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const inviteTokenBytes = 32

// Invitation is returned to the inviting admin, the token is delivered
// to the invitee out of band
type Invitation struct {
	User        PublicUser `json:"user"`
	InviteToken string     `json:"invite_token"`
}

// Onboarding manages the invited -> active lifecycle of users and the
// later deactivation and reactivation of their accounts
type Onboarding struct {
	repo     RepositoryManager
	machine  UserStateMachine
	hasher   PasswordHasher
	activity activityRecorder
	logger   Logger
	now      Clock
}

type OnboardingOption func(*Onboarding)

func WithOnboardingClock(clock Clock) OnboardingOption {
	return func(o *Onboarding) {
		if clock != nil {
			o.now = clock
		}
	}
}

func WithOnboardingLogger(logger Logger) OnboardingOption {
	return func(o *Onboarding) {
		o.logger = normalizeLogger(logger)
	}
}

func WithOnboardingActivitySink(sink ActivitySink) OnboardingOption {
	return func(o *Onboarding) {
		o.activity.sink = sink
	}
}

// WithOnboardingStateMachine replaces the default user state machine
func WithOnboardingStateMachine(sm UserStateMachine) OnboardingOption {
	return func(o *Onboarding) {
		if sm != nil {
			o.machine = sm
		}
	}
}

func NewOnboarding(repo RepositoryManager, hasher PasswordHasher, opts ...OnboardingOption) *Onboarding {
	o := &Onboarding{
		repo:   repo,
		hasher: hasher,
		logger: nopLogger{},
		now:    time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	o.activity.logger = o.logger
	o.activity.now = o.now

	if o.machine == nil {
		o.machine = NewUserStateMachine(repo.Users(),
			WithStateMachineClock(o.now),
			WithStateMachineLogger(o.logger),
			WithStateMachineActivitySink(o.activity.sink),
		)
	}

	return o
}

// StateMachine exposes the user state machine
func (o *Onboarding) StateMachine() UserStateMachine {
	return o.machine
}

// Invite creates a pending user in the actor's business. Emails are unique
// across every business and every status.
func (o *Onboarding) Invite(ctx context.Context, actor Identity, email string, role BusinessRole) (*Invitation, error) {
	if err := RequireCapability(actor, CapInviteUsers); err != nil {
		return nil, err
	}

	if role == "" {
		role = BusinessRoleMember
	}

	email = NormalizeEmail(email)
	err := validation.Errors{
		"email": validation.Validate(email, validation.Required, is.EmailFormat),
		"role":  validation.Validate(string(role), validation.In(string(BusinessRoleMember), string(BusinessRoleAdmin))),
	}.Filter()
	if err != nil {
		return nil, goerrors.FromOzzoValidation(err, "invalid invite")
	}

	if !actor.BusinessRole.IsAtLeast(role) {
		return nil, ErrForbidden
	}

	token, err := NewInviteToken()
	if err != nil {
		return nil, err
	}

	var created *User
	err = o.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := o.repo.Users().EmailExistsTx(ctx, tx, email)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateEmail
		}

		invitedAt := o.now()
		created, err = o.repo.Users().CreateTx(ctx, tx, &User{
			Email:        email,
			BusinessRole: role,
			BusinessID:   actor.BusinessID,
			Status:       UserStatusPending,
			InviteToken:  token,
			InvitedAt:    &invitedAt,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("user invited", "user_id", created.ID.String(), "business_id", actor.BusinessID.String())
	o.activity.record(ctx, ActivityEvent{
		EventType:  ActivityEventUserInvited,
		Actor:      ActorFromIdentity(actor),
		UserID:     created.ID.String(),
		BusinessID: actor.BusinessID.String(),
		Metadata:   map[string]any{"role": string(role)},
	})

	return &Invitation{User: created.Public(), InviteToken: token}, nil
}

// Activate consumes an invite token in its own transaction
func (o *Onboarding) Activate(ctx context.Context, inviteToken, name, password string) (*User, error) {
	var user *User
	err := o.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = o.ActivateTx(ctx, tx, inviteToken, name, password)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ActivateTx moves a pending user to active inside tx. Unknown and already
// consumed tokens both return ErrInvalidInviteToken.
func (o *Onboarding) ActivateTx(ctx context.Context, tx bun.IDB, inviteToken, name, password string) (*User, error) {
	inviteToken = strings.TrimSpace(inviteToken)

	user, err := o.repo.Users().GetPendingByInviteTokenTx(ctx, tx, inviteToken)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidInviteToken
		}
		return nil, err
	}

	hash, err := o.hasher.HashPassword(password)
	if err != nil {
		return nil, err
	}

	actor := ActorRef{ID: user.ID.String(), Type: "invitee"}
	_, err = o.machine.Transition(ctx, tx, actor, user, UserStatusActive,
		WithActivation(strings.TrimSpace(name), hash),
		WithTransitionReason("invite accepted"),
	)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return nil, ErrInvalidInviteToken
		}
		return nil, err
	}

	o.activity.record(ctx, ActivityEvent{
		EventType:  ActivityEventUserActivated,
		Actor:      actor,
		UserID:     user.ID.String(),
		BusinessID: businessIDString(user.BusinessID),
	})

	return user, nil
}

// Deactivate moves an active user of the actor's business to inactive and
// revokes all of their refresh credentials in the same transaction
func (o *Onboarding) Deactivate(ctx context.Context, actor Identity, userID uuid.UUID, reason string) (*User, error) {
	revoke := func(ctx context.Context, tx bun.IDB, tc TransitionContext) error {
		n, err := o.repo.Credentials().DeleteAllForUserTx(ctx, tx, tc.User.ID)
		if err != nil {
			return err
		}
		o.activity.record(ctx, ActivityEvent{
			EventType:  ActivityEventCredentialsRevoked,
			Actor:      tc.Actor,
			UserID:     tc.User.ID.String(),
			BusinessID: businessIDString(tc.User.BusinessID),
			Metadata:   map[string]any{"count": n},
		})
		return nil
	}

	return o.changeStatus(ctx, actor, userID, UserStatusInactive,
		WithTransitionReason(reason),
		WithAfterTransitionHook(revoke),
	)
}

// Reactivate moves an inactive user back to active
func (o *Onboarding) Reactivate(ctx context.Context, actor Identity, userID uuid.UUID, reason string) (*User, error) {
	return o.changeStatus(ctx, actor, userID, UserStatusActive, WithTransitionReason(reason))
}

func (o *Onboarding) changeStatus(ctx context.Context, actor Identity, userID uuid.UUID, target UserStatus, opts ...TransitionOption) (*User, error) {
	if err := RequireCapability(actor, CapManageUsers); err != nil {
		return nil, err
	}
	if actor.UserID == userID {
		return nil, ErrForbidden
	}

	var user *User
	err := o.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = o.repo.Users().GetByIDTx(ctx, tx, userID)
		if err != nil {
			return err
		}

		if user.BusinessID != actor.BusinessID {
			return ErrUserNotFound
		}
		if user.BusinessRole == BusinessRoleOwner || !actor.BusinessRole.IsAtLeast(user.BusinessRole) {
			return ErrForbidden
		}
		if user.IsPending() {
			return ErrInvalidTransition
		}

		_, err = o.machine.Transition(ctx, tx, ActorFromIdentity(actor), user, target, opts...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// NewInviteToken returns 32 random bytes encoded as unpadded base64url
func NewInviteToken() (string, error) {
	buf := make([]byte, inviteTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate invite token")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
