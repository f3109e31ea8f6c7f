package auth

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// AuthControllerRoutes holds the paths of the session endpoints
type AuthControllerRoutes struct {
	SignupBusiness string
	SignupUser     string
	Login          string
	Refresh        string
	Logout         string
	LogoutAll      string
	Invite         string
}

// DefaultAuthRoutes are mounted relative to the router passed to Register
var DefaultAuthRoutes = AuthControllerRoutes{
	SignupBusiness: "/auth/signup-business",
	SignupUser:     "/auth/signup-user",
	Login:          "/auth/login",
	Refresh:        "/auth/refresh",
	Logout:         "/auth/logout",
	LogoutAll:      "/auth/logout-all",
	Invite:         "/auth/invite",
}

// AuthController exposes the session, onboarding and membership flows
type AuthController struct {
	Routes     AuthControllerRoutes
	Sessions   *Sessions
	Onboarding *Onboarding
	Authorizer *Authorizer
	Tokens     *TokenService
	Logger     Logger
	// ClientIdentity names the caller for the failure guard, defaults to
	// the remote address
	ClientIdentity func(c *fiber.Ctx) string
}

type AuthControllerOption func(*AuthController)

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(ac *AuthController) {
		ac.Logger = normalizeLogger(logger)
	}
}

func WithControllerRoutes(routes AuthControllerRoutes) AuthControllerOption {
	return func(ac *AuthController) {
		ac.Routes = routes
	}
}

func WithClientIdentity(fn func(c *fiber.Ctx) string) AuthControllerOption {
	return func(ac *AuthController) {
		if fn != nil {
			ac.ClientIdentity = fn
		}
	}
}

func NewAuthController(sessions *Sessions, onboarding *Onboarding, authorizer *Authorizer, tokens *TokenService, opts ...AuthControllerOption) *AuthController {
	ac := &AuthController{
		Routes:     DefaultAuthRoutes,
		Sessions:   sessions,
		Onboarding: onboarding,
		Authorizer: authorizer,
		Tokens:     tokens,
		Logger:     nopLogger{},
		ClientIdentity: func(c *fiber.Ctx) string {
			return c.IP()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ac)
		}
	}
	return ac
}

// Register mounts the public session routes and the protected invite,
// user and membership routes
func (a *AuthController) Register(r fiber.Router) {
	r.Post(a.Routes.SignupBusiness, a.SignupBusiness)
	r.Post(a.Routes.SignupUser, a.SignupUser)
	r.Post(a.Routes.Login, a.Login)
	r.Post(a.Routes.Refresh, a.Refresh)
	r.Post(a.Routes.Logout, a.Logout)

	protected := ProtectedRoute(a.Tokens, NewErrorHandler(a.Logger))

	r.Post(a.Routes.LogoutAll, protected, a.LogoutAll)
	r.Post(a.Routes.Invite, protected, RequireCapabilityMiddleware(CapInviteUsers), a.Invite)

	users := r.Group("/users", protected, RequireCapabilityMiddleware(CapManageUsers))
	users.Post("/:userID/deactivate", a.Deactivate)
	users.Post("/:userID/reactivate", a.Reactivate)

	projects := r.Group("/projects/:projectID/members", protected)
	projects.Get("/", a.ListMembers)
	projects.Post("/", a.AddMember)
	projects.Patch("/:userID", a.ChangeRole)
	projects.Delete("/:userID", a.RemoveMember)
}

type SignupBusinessPayload struct {
	Name       string `json:"name"`
	AdminName  string `json:"admin_name"`
	AdminEmail string `json:"admin_email"`
	Password   string `json:"password"`
}

// Validate will run validation rules
func (r SignupBusinessPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 255)),
		validation.Field(&r.AdminName, validation.Required, validation.Length(1, 255)),
		validation.Field(&r.AdminEmail, validation.Required, validation.Length(3, 254), is.EmailFormat),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 72)),
	)
}

func (a *AuthController) SignupBusiness(c *fiber.Ctx) error {
	payload := SignupBusinessPayload{}
	if err := parsePayload(c, &payload); err != nil {
		return err
	}

	res, err := a.Sessions.SignupBusiness(c.UserContext(), SignupBusinessInput{
		Name:       payload.Name,
		AdminName:  payload.AdminName,
		AdminEmail: payload.AdminEmail,
		Password:   payload.Password,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

type SignupUserPayload struct {
	InviteToken string `json:"invite_token"`
	Name        string `json:"name"`
	Password    string `json:"password"`
}

// Validate will run validation rules
func (r SignupUserPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.InviteToken, validation.Required),
		validation.Field(&r.Name, validation.Required, validation.Length(1, 255)),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 72)),
	)
}

func (a *AuthController) SignupUser(c *fiber.Ctx) error {
	payload := SignupUserPayload{}
	if err := parsePayload(c, &payload); err != nil {
		return err
	}

	res, err := a.Sessions.SignupUser(c.UserContext(), payload.InviteToken, payload.Name, payload.Password)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

type LoginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate will run validation rules
func (r LoginPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

func (a *AuthController) Login(c *fiber.Ctx) error {
	payload := LoginPayload{}
	if err := parsePayload(c, &payload); err != nil {
		return err
	}

	res, err := a.Sessions.Login(c.UserContext(), a.ClientIdentity(c), payload.Email, payload.Password)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

type RefreshPayload struct {
	RefreshToken string `json:"refreshToken"`
}

// Validate will run validation rules
func (r RefreshPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RefreshToken, validation.Required),
	)
}

func (a *AuthController) Refresh(c *fiber.Ctx) error {
	payload := RefreshPayload{}
	if err := parsePayload(c, &payload); err != nil {
		return err
	}

	access, err := a.Sessions.Refresh(c.UserContext(), payload.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"accessToken": access})
}

func (a *AuthController) Logout(c *fiber.Ctx) error {
	payload := RefreshPayload{}
	if err := parsePayload(c, &payload); err != nil {
		return err
	}

	if err := a.Sessions.Logout(c.UserContext(), payload.RefreshToken); err != nil {
		return err
	}
	return c.JSON(fiber.Map{})
}

func (a *AuthController) LogoutAll(c *fiber.Ctx) error {
	id, _ := IdentityFromFiber(c)
	n, err := a.Sessions.LogoutAll(c.UserContext(), id.UserID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"revoked": n})
}

type InvitePayload struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Validate will run validation rules
func (r InvitePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.EmailFormat),
		validation.Field(&r.Role, validation.In(string(BusinessRoleMember), string(BusinessRoleAdmin))),
	)
}

func (a *AuthController) Invite(c *fiber.Ctx) error {
	payload := InvitePayload{}
	if err := parsePayload(c, &payload); err != nil {
		return err
	}

	id, _ := IdentityFromFiber(c)
	role := BusinessRoleMember
	if payload.Role != "" {
		parsed, ok := ParseBusinessRole(payload.Role)
		if !ok {
			return goerrors.NewValidation("invalid request payload", goerrors.FieldError{Field: "role", Message: "must be a valid value"})
		}
		role = parsed
	}

	inv, err := a.Onboarding.Invite(c.UserContext(), id, payload.Email, role)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(inv)
}

type StatusChangePayload struct {
	Reason string `json:"reason"`
}

func (a *AuthController) Deactivate(c *fiber.Ctx) error {
	return a.changeStatus(c, a.Onboarding.Deactivate)
}

func (a *AuthController) Reactivate(c *fiber.Ctx) error {
	return a.changeStatus(c, a.Onboarding.Reactivate)
}

type statusChangeFunc func(ctx context.Context, actor Identity, userID uuid.UUID, reason string) (*User, error)

func (a *AuthController) changeStatus(c *fiber.Ctx, fn statusChangeFunc) error {
	userID, err := uuidParam(c, "userID")
	if err != nil {
		return err
	}

	payload := StatusChangePayload{}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return ErrBadRequestBody
		}
	}

	id, _ := IdentityFromFiber(c)
	user, err := fn(c.UserContext(), id, userID, payload.Reason)
	if err != nil {
		return err
	}
	return c.JSON(user.Public())
}

func (a *AuthController) ListMembers(c *fiber.Ctx) error {
	projectID, err := uuidParam(c, "projectID")
	if err != nil {
		return err
	}

	id, _ := IdentityFromFiber(c)
	records, err := a.Authorizer.Members(c.UserContext(), id, projectID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"members": records})
}

type AddMemberPayload struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Validate will run validation rules
func (r AddMemberPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserID, validation.Required, is.UUID),
		validation.Field(&r.Role, validation.Required, validation.In(string(ProjectRoleAdmin), string(ProjectRoleMember))),
	)
}

func (a *AuthController) AddMember(c *fiber.Ctx) error {
	projectID, err := uuidParam(c, "projectID")
	if err != nil {
		return err
	}

	payload := AddMemberPayload{}
	if err := parsePayload(c, &payload); err != nil {
		return err
	}

	userID, err := uuidField("user_id", payload.UserID, "invalid request payload")
	if err != nil {
		return err
	}
	role, err := projectRoleField(payload.Role)
	if err != nil {
		return err
	}

	id, _ := IdentityFromFiber(c)
	m, err := a.Authorizer.AddMember(c.UserContext(), id, projectID, userID, role)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(m)
}

type ChangeRolePayload struct {
	Role string `json:"role"`
}

// Validate will run validation rules
func (r ChangeRolePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Role, validation.Required, validation.In(string(ProjectRoleAdmin), string(ProjectRoleMember))),
	)
}

func (a *AuthController) ChangeRole(c *fiber.Ctx) error {
	projectID, err := uuidParam(c, "projectID")
	if err != nil {
		return err
	}
	userID, err := uuidParam(c, "userID")
	if err != nil {
		return err
	}

	payload := ChangeRolePayload{}
	if err := parsePayload(c, &payload); err != nil {
		return err
	}

	role, err := projectRoleField(payload.Role)
	if err != nil {
		return err
	}

	id, _ := IdentityFromFiber(c)
	if err := a.Authorizer.ChangeRole(c.UserContext(), id, projectID, userID, role); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"project_id": projectID, "user_id": userID, "role": role})
}

func (a *AuthController) RemoveMember(c *fiber.Ctx) error {
	projectID, err := uuidParam(c, "projectID")
	if err != nil {
		return err
	}
	userID, err := uuidParam(c, "userID")
	if err != nil {
		return err
	}

	id, _ := IdentityFromFiber(c)
	if err := a.Authorizer.RemoveMember(c.UserContext(), id, projectID, userID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type validatable interface {
	Validate() error
}

func parsePayload(c *fiber.Ctx, payload validatable) error {
	if err := c.BodyParser(payload); err != nil {
		return ErrBadRequestBody
	}
	if err := payload.Validate(); err != nil {
		return goerrors.FromOzzoValidation(err, "invalid request payload")
	}
	return nil
}

func uuidParam(c *fiber.Ctx, name string) (uuid.UUID, error) {
	return uuidField(name, c.Params(name), "invalid path parameter")
}

func uuidField(name, value, message string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, goerrors.NewValidation(message, goerrors.FieldError{
			Field:   name,
			Message: "must be a valid UUID",
		})
	}
	return id, nil
}

func projectRoleField(value string) (ProjectRole, error) {
	role, ok := ParseProjectRole(value)
	if !ok {
		return "", ErrInvalidProjectRole
	}
	return role, nil
}
