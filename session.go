package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-tenant-auth/metrics"
)

// SignupBusinessInput carries the data needed to open a new business
type SignupBusinessInput struct {
	Name       string
	AdminName  string
	AdminEmail string
	Password   string
}

func (i SignupBusinessInput) Validate() error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.Name, validation.Required, validation.Length(1, 255)),
		validation.Field(&i.AdminName, validation.Required, validation.Length(1, 255)),
		validation.Field(&i.AdminEmail, validation.Required, is.EmailFormat),
		validation.Field(&i.Password, validation.Required),
	)
}

// Sessions composes the token service, credential store, failure guard
// and onboarding into the login, signup, refresh and logout flows
type Sessions struct {
	repo       RepositoryManager
	tokens     *TokenService
	guard      *FailureGuard
	onboarding *Onboarding
	hasher     PasswordHasher
	activity   activityRecorder
	logger     Logger
	now        Clock
}

type SessionsOption func(*Sessions)

func WithSessionsLogger(logger Logger) SessionsOption {
	return func(s *Sessions) {
		s.logger = normalizeLogger(logger)
	}
}

func WithSessionsActivitySink(sink ActivitySink) SessionsOption {
	return func(s *Sessions) {
		s.activity.sink = sink
	}
}

func WithSessionsClock(clock Clock) SessionsOption {
	return func(s *Sessions) {
		if clock != nil {
			s.now = clock
		}
	}
}

func NewSessions(repo RepositoryManager, tokens *TokenService, guard *FailureGuard, onboarding *Onboarding, hasher PasswordHasher, opts ...SessionsOption) *Sessions {
	s := &Sessions{
		repo:       repo,
		tokens:     tokens,
		guard:      guard,
		onboarding: onboarding,
		hasher:     hasher,
		logger:     nopLogger{},
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.activity.logger = s.logger
	s.activity.now = s.now
	return s
}

// Login authenticates an active user. clientID identifies the caller for
// the failure guard, usually the source address. Blocked callers are
// rejected before any password hashing or database work.
func (s *Sessions) Login(ctx context.Context, clientID, email, password string) (*AuthResult, error) {
	if err := s.guard.Check(clientID); err != nil {
		metrics.LoginAttemptsTotal.WithLabelValues("blocked").Inc()
		s.activity.record(ctx, ActivityEvent{
			EventType: ActivityEventLoginBlocked,
			Metadata:  map[string]any{"client_id": clientID},
		})
		return nil, err
	}

	user, err := s.repo.Users().GetActiveByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrUserNotFound):
		// same hashing cost as a real comparison
		_ = s.hasher.ComparePasswordAndHash(password, "")
		return nil, s.loginFailed(ctx, clientID, uuid.Nil, "unknown_email")
	case err != nil:
		metrics.LoginAttemptsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if err := s.hasher.ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		return nil, s.loginFailed(ctx, clientID, user.ID, "wrong_password")
	}

	result, err := s.issueSessionTx(ctx, s.repo.DB(), user)
	if err != nil {
		metrics.LoginAttemptsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
	s.activity.record(ctx, ActivityEvent{
		EventType:  ActivityEventLoginSuccess,
		Actor:      ActorRef{ID: user.ID.String(), Type: string(user.BusinessRole)},
		UserID:     user.ID.String(),
		BusinessID: businessIDString(user.BusinessID),
	})
	return result, nil
}

func (s *Sessions) loginFailed(ctx context.Context, clientID string, userID uuid.UUID, reason string) error {
	attempts := s.guard.RecordFailure(clientID)
	metrics.LoginAttemptsTotal.WithLabelValues("invalid_credentials").Inc()
	s.logger.Info("login failed", "client_id", clientID, "attempts", attempts, "reason", reason)

	event := ActivityEvent{
		EventType: ActivityEventLoginFailure,
		Metadata:  map[string]any{"client_id": clientID, "attempts": attempts, "reason": reason},
	}
	if userID != uuid.Nil {
		event.UserID = userID.String()
	}
	s.activity.record(ctx, event)

	return ErrInvalidCredentials
}

// Refresh exchanges a refresh token for a new access token. The refresh
// token itself is not rotated and stays valid until logout or expiry.
func (s *Sessions) Refresh(ctx context.Context, refreshToken string) (string, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return "", err
	}

	cred, err := s.repo.Credentials().Find(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return "", ErrTokenRevoked
		}
		return "", err
	}

	userID := claims.Identity().UserID
	if cred.UserID != userID {
		s.logger.Warn("refresh credential owner mismatch", "user_id", userID.String())
		return "", ErrTokenRevoked
	}

	user, err := s.repo.Users().GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", ErrTokenRevoked
		}
		return "", err
	}
	if !user.IsActive() {
		return "", ErrTokenRevoked
	}

	access, err := s.tokens.IssueAccessToken(ClaimsFromUser(user))
	if err != nil {
		return "", err
	}

	s.activity.record(ctx, ActivityEvent{
		EventType:  ActivityEventTokenRefreshed,
		Actor:      ActorRef{ID: user.ID.String(), Type: string(user.BusinessRole)},
		UserID:     user.ID.String(),
		BusinessID: businessIDString(user.BusinessID),
	})
	return access, nil
}

// Logout revokes a refresh token. Unknown tokens are not an error.
func (s *Sessions) Logout(ctx context.Context, refreshToken string) error {
	if err := s.repo.Credentials().Delete(ctx, refreshToken); err != nil {
		return err
	}

	event := ActivityEvent{EventType: ActivityEventLogout}
	if claims, err := s.tokens.VerifyRefresh(refreshToken); err == nil {
		event.UserID = claims.UserID()
		event.BusinessID = claims.BusinessID
	}
	s.activity.record(ctx, event)
	return nil
}

// LogoutAll revokes every refresh credential held by the user
func (s *Sessions) LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := s.repo.Credentials().DeleteAllForUserTx(ctx, s.repo.DB(), userID)
	if err != nil {
		return 0, err
	}

	s.activity.record(ctx, ActivityEvent{
		EventType: ActivityEventCredentialsRevoked,
		UserID:    userID.String(),
		Metadata:  map[string]any{"count": n},
	})
	return n, nil
}

// SignupBusiness creates a business with its owner and signs the owner in.
// Business, owner and refresh credential are written in one transaction.
func (s *Sessions) SignupBusiness(ctx context.Context, input SignupBusinessInput) (*AuthResult, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.AdminName = strings.TrimSpace(input.AdminName)
	input.AdminEmail = NormalizeEmail(input.AdminEmail)

	if err := input.Validate(); err != nil {
		return nil, goerrors.FromOzzoValidation(err, "invalid business signup")
	}

	exists, err := s.repo.Users().EmailExists(ctx, input.AdminEmail)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateEmail
	}

	hash, err := s.hasher.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	var result *AuthResult
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		business, err := s.repo.Businesses().CreateTx(ctx, tx, &Business{Name: input.Name})
		if err != nil {
			return err
		}

		activatedAt := s.now()
		owner, err := s.repo.Users().CreateTx(ctx, tx, &User{
			Name:         input.AdminName,
			Email:        input.AdminEmail,
			PasswordHash: hash,
			BusinessRole: BusinessRoleOwner,
			BusinessID:   business.ID,
			Status:       UserStatusActive,
			ActivatedAt:  &activatedAt,
		})
		if err != nil {
			return err
		}

		if err := s.repo.Businesses().SetOwnerTx(ctx, tx, business.ID, owner.ID); err != nil {
			return err
		}
		business.OwnerID = owner.ID

		result, err = s.issueSessionTx(ctx, tx, owner)
		if err != nil {
			return err
		}
		result.Business = business
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("business created", "business_id", result.Business.ID.String(), "owner_id", result.User.ID.String())
	s.activity.record(ctx, ActivityEvent{
		EventType:  ActivityEventBusinessSignup,
		Actor:      ActorRef{ID: result.User.ID.String(), Type: string(BusinessRoleOwner)},
		UserID:     result.User.ID.String(),
		BusinessID: result.Business.ID.String(),
	})
	return result, nil
}

// SignupUser activates an invited user and signs them in. A token that was
// never issued and one that was already used both fail with
// ErrInvalidInviteToken.
func (s *Sessions) SignupUser(ctx context.Context, inviteToken, name, password string) (*AuthResult, error) {
	if strings.TrimSpace(name) == "" {
		return nil, goerrors.NewValidation("invalid user signup", goerrors.FieldError{
			Field:   "name",
			Message: "cannot be blank",
		})
	}

	var result *AuthResult
	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := s.onboarding.ActivateTx(ctx, tx, inviteToken, name, password)
		if err != nil {
			return err
		}
		result, err = s.issueSessionTx(ctx, tx, user)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// issueSessionTx mints a token pair and stores the refresh credential
func (s *Sessions) issueSessionTx(ctx context.Context, tx bun.IDB, user *User) (*AuthResult, error) {
	access, refresh, err := s.tokens.IssuePair(ClaimsFromUser(user))
	if err != nil {
		return nil, err
	}

	if err := s.repo.Credentials().SaveTx(ctx, tx, user.ID, refresh); err != nil {
		return nil, err
	}

	return &AuthResult{
		AccessToken:  access,
		RefreshToken: refresh,
		User:         user.Public(),
	}, nil
}
