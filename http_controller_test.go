package auth_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-tenant-auth"
)

type apiClient struct {
	t   *testing.T
	app *fiber.App
}

func newAPIClient(t *testing.T, env *testEnv) *apiClient {
	t.Helper()
	controller := auth.NewAuthController(env.sessions, env.onboarding, env.authorizer, env.tokens)
	return &apiClient{t: t, app: auth.NewApp(controller, nil)}
}

// do sends a request and decodes the JSON response body, if any
func (a *apiClient) do(method, path, token string, body any) (int, map[string]any) {
	a.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}

	resp, err := a.app.Test(req, -1)
	require.NoError(a.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(a.t, err)

	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(a.t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func errorKind(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	kind, _ := e["kind"].(string)
	return kind
}

func nested(body map[string]any, keys ...string) any {
	var cur any = body
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[k]
	}
	return cur
}

func TestHTTPAcmeSignupLoginRefreshLogout(t *testing.T) {
	env := newTestEnv(t)
	api := newAPIClient(t, env)

	status, body := api.do(http.MethodPost, "/auth/signup-business", "", map[string]any{
		"name":        "Acme",
		"admin_name":  "Ann",
		"admin_email": "ann@acme.test",
		"password":    "correct-horse",
	})
	require.Equal(t, http.StatusCreated, status, body)
	assert.NotEmpty(t, body["accessToken"])
	assert.NotEmpty(t, body["refreshToken"])
	assert.Equal(t, "owner", nested(body, "user", "business_role_id"))
	assert.Equal(t, "ann@acme.test", nested(body, "user", "email"))
	assert.Equal(t, "Acme", nested(body, "business", "name"))
	businessID := nested(body, "business", "id")

	status, body = api.do(http.MethodPost, "/auth/login", "", map[string]any{
		"email":    "ann@acme.test",
		"password": "correct-horse",
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, businessID, nested(body, "user", "business_id"))
	assert.Nil(t, body["business"])
	refresh, _ := body["refreshToken"].(string)
	require.NotEmpty(t, refresh)

	status, body = api.do(http.MethodPost, "/auth/refresh", "", map[string]any{"refreshToken": refresh})
	require.Equal(t, http.StatusOK, status, body)
	assert.NotEmpty(t, body["accessToken"])

	status, body = api.do(http.MethodPost, "/auth/logout", "", map[string]any{"refreshToken": refresh})
	require.Equal(t, http.StatusOK, status, body)
	assert.Empty(t, body)

	status, body = api.do(http.MethodPost, "/auth/refresh", "", map[string]any{"refreshToken": refresh})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, auth.TextCodeTokenRevoked, errorKind(body))
}

func TestHTTPErrorEnvelope(t *testing.T) {
	env := newTestEnv(t)
	api := newAPIClient(t, env)
	env.signupBusiness(t, "Acme", "ann@acme.test")

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		kind   string
	}{
		{
			name:   "wrong password",
			path:   "/auth/login",
			body:   map[string]any{"email": "ann@acme.test", "password": "nope"},
			status: http.StatusUnauthorized,
			kind:   auth.TextCodeInvalidCredentials,
		},
		{
			name:   "unknown email",
			path:   "/auth/login",
			body:   map[string]any{"email": "ghost@acme.test", "password": "nope"},
			status: http.StatusUnauthorized,
			kind:   auth.TextCodeInvalidCredentials,
		},
		{
			name:   "duplicate email",
			path:   "/auth/signup-business",
			body:   map[string]any{"name": "Other", "admin_name": "Ann", "admin_email": "ann@acme.test", "password": "correct-horse"},
			status: http.StatusBadRequest,
			kind:   auth.TextCodeDuplicateEmail,
		},
		{
			name:   "missing fields",
			path:   "/auth/signup-business",
			body:   map[string]any{"name": "Other"},
			status: http.StatusBadRequest,
			kind:   "BAD_REQUEST",
		},
		{
			name:   "unknown invite",
			path:   "/auth/signup-user",
			body:   map[string]any{"invite_token": "never-issued", "name": "Bob", "password": "correct-horse"},
			status: http.StatusUnauthorized,
			kind:   auth.TextCodeInvalidInvite,
		},
		{
			name:   "garbage refresh token",
			path:   "/auth/refresh",
			body:   map[string]any{"refreshToken": "garbage"},
			status: http.StatusUnauthorized,
			kind:   auth.TextCodeInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := api.do(http.MethodPost, tt.path, "", tt.body)
			assert.Equal(t, tt.status, status, body)
			assert.Equal(t, tt.kind, errorKind(body))
			assert.NotEmpty(t, nested(body, "error", "message"))
		})
	}
}

func TestHTTPValidationErrorsListFields(t *testing.T) {
	env := newTestEnv(t)
	api := newAPIClient(t, env)

	status, body := api.do(http.MethodPost, "/auth/signup-business", "", map[string]any{
		"name":        "Acme",
		"admin_name":  "Ann",
		"admin_email": "not-an-email",
		"password":    "short",
	})
	require.Equal(t, http.StatusBadRequest, status)

	fields := validationFields(body)
	assert.True(t, fields["admin_email"], body)
	assert.True(t, fields["password"], body)
}

func validationFields(body map[string]any) map[string]bool {
	fields := map[string]bool{}
	list, _ := nested(body, "error", "validation").([]any)
	for _, item := range list {
		if fe, ok := item.(map[string]any); ok {
			name, _ := fe["field"].(string)
			fields[name] = true
		}
	}
	return fields
}

func TestHTTPMembershipAndInviteRejectMalformedPayloads(t *testing.T) {
	env := newTestEnv(t)
	api := newAPIClient(t, env)

	ownerRes := env.signupBusiness(t, "Acme", "ann@acme.test")
	members := "/projects/" + uuid.NewString() + "/members"

	tests := []struct {
		name  string
		path  string
		body  map[string]any
		field string
	}{
		{
			name:  "user id is not a uuid",
			path:  members,
			body:  map[string]any{"user_id": "not-a-uuid", "role": "admin"},
			field: "user_id",
		},
		{
			name:  "user id missing",
			path:  members,
			body:  map[string]any{"role": "admin"},
			field: "user_id",
		},
		{
			name:  "unknown project role",
			path:  members,
			body:  map[string]any{"user_id": ownerRes.User.ID.String(), "role": "viewer"},
			field: "role",
		},
		{
			name:  "owner cannot be invited",
			path:  "/auth/invite",
			body:  map[string]any{"email": "bob@acme.test", "role": "owner"},
			field: "role",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := api.do(http.MethodPost, tt.path, ownerRes.AccessToken, tt.body)
			require.Equal(t, http.StatusBadRequest, status, body)
			assert.Equal(t, "BAD_REQUEST", errorKind(body))
			assert.True(t, validationFields(body)[tt.field], body)
		})
	}
}

func TestHTTPLoginIsRateLimited(t *testing.T) {
	env := newTestEnv(t)
	api := newAPIClient(t, env)
	env.signupBusiness(t, "Acme", "ann@acme.test")

	for i := 0; i < auth.DefaultGuardMaxAttempts; i++ {
		status, _ := api.do(http.MethodPost, "/auth/login", "", map[string]any{"email": "ann@acme.test", "password": "nope"})
		require.Equal(t, http.StatusUnauthorized, status)
	}

	status, body := api.do(http.MethodPost, "/auth/login", "", map[string]any{"email": "ann@acme.test", "password": "pw-owner-123"})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, auth.TextCodeTooManyAttempts, errorKind(body))
}

func TestHTTPProtectedRoutesRequireAccessToken(t *testing.T) {
	env := newTestEnv(t)
	api := newAPIClient(t, env)
	res := env.signupBusiness(t, "Acme", "ann@acme.test")

	status, body := api.do(http.MethodPost, "/auth/invite", "", map[string]any{"email": "bob@acme.test"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, auth.TextCodeInvalidToken, errorKind(body))

	status, body = api.do(http.MethodPost, "/auth/invite", res.RefreshToken, map[string]any{"email": "bob@acme.test"})
	assert.Equal(t, http.StatusUnauthorized, status, "refresh tokens are not access tokens")
	assert.Equal(t, auth.TextCodeInvalidToken, errorKind(body))

	status, body = api.do(http.MethodGet, "/projects/"+uuid.NewString()+"/members", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, auth.TextCodeInvalidToken, errorKind(body))
}

func TestHTTPInviteAndSignupUser(t *testing.T) {
	env := newTestEnv(t)
	api := newAPIClient(t, env)
	owner := env.signupBusiness(t, "Acme", "ann@acme.test")

	status, body := api.do(http.MethodPost, "/auth/invite", owner.AccessToken, map[string]any{"email": "bob@acme.test", "role": "member"})
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "pending", nested(body, "user", "status"))
	token, _ := body["invite_token"].(string)
	require.NotEmpty(t, token)

	status, body = api.do(http.MethodPost, "/auth/signup-user", "", map[string]any{
		"invite_token": token,
		"name":         "Bob",
		"password":     "bob-password",
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "active", nested(body, "user", "status"))
	assert.Equal(t, owner.User.BusinessID.String(), nested(body, "user", "business_id"))
	memberToken, _ := body["accessToken"].(string)

	status, body = api.do(http.MethodPost, "/auth/invite", memberToken, map[string]any{"email": "carol@acme.test"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, auth.TextCodeForbidden, errorKind(body))

	status, body = api.do(http.MethodPost, "/auth/signup-user", "", map[string]any{
		"invite_token": token,
		"name":         "Mallory",
		"password":     "mallory-password",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, auth.TextCodeInvalidInvite, errorKind(body))
}

func TestHTTPProjectMembershipLastAdmin(t *testing.T) {
	env := newTestEnv(t)
	api := newAPIClient(t, env)

	ownerRes := env.signupBusiness(t, "Acme", "ann@acme.test")
	owner := identityOf(t, env.tokens, ownerRes)
	bob := env.inviteAndActivate(t, owner, "bob@acme.test", auth.BusinessRoleMember)
	carol := env.inviteAndActivate(t, owner, "carol@acme.test", auth.BusinessRoleMember)

	project := uuid.NewString()
	members := "/projects/" + project + "/members"

	status, body := api.do(http.MethodPost, members, ownerRes.AccessToken, map[string]any{
		"user_id": bob.User.ID.String(),
		"role":    "member",
	})
	assert.Equal(t, http.StatusConflict, status, "first member must be an admin")
	assert.Equal(t, auth.TextCodeLastAdmin, errorKind(body))

	status, body = api.do(http.MethodPost, members, ownerRes.AccessToken, map[string]any{
		"user_id": bob.User.ID.String(),
		"role":    "admin",
	})
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "admin", body["role"])

	status, body = api.do(http.MethodPost, members, bob.AccessToken, map[string]any{
		"user_id": carol.User.ID.String(),
		"role":    "member",
	})
	require.Equal(t, http.StatusCreated, status, body)

	status, body = api.do(http.MethodPatch, members+"/"+bob.User.ID.String(), bob.AccessToken, map[string]any{"role": "member"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, auth.TextCodeLastAdmin, errorKind(body))

	status, body = api.do(http.MethodDelete, members+"/"+bob.User.ID.String(), ownerRes.AccessToken, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, auth.TextCodeLastAdmin, errorKind(body))

	status, body = api.do(http.MethodPatch, members+"/"+carol.User.ID.String(), carol.AccessToken, map[string]any{"role": "admin"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, auth.TextCodeForbidden, errorKind(body))

	status, body = api.do(http.MethodPatch, members+"/"+carol.User.ID.String(), bob.AccessToken, map[string]any{"role": "admin"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "admin", body["role"])

	status, _ = api.do(http.MethodDelete, members+"/"+bob.User.ID.String(), carol.AccessToken, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, body = api.do(http.MethodGet, members, carol.AccessToken, nil)
	require.Equal(t, http.StatusOK, status, body)
	list, _ := body["members"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, carol.User.ID.String(), nested(list[0].(map[string]any), "user_id"))

	status, body = api.do(http.MethodPatch, members+"/not-a-uuid", carol.AccessToken, map[string]any{"role": "admin"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "BAD_REQUEST", errorKind(body))
}

func TestHTTPDeactivateAndLogoutAll(t *testing.T) {
	env := newTestEnv(t)
	api := newAPIClient(t, env)

	ownerRes := env.signupBusiness(t, "Acme", "ann@acme.test")
	owner := identityOf(t, env.tokens, ownerRes)
	bob := env.inviteAndActivate(t, owner, "bob@acme.test", auth.BusinessRoleMember)

	status, body := api.do(http.MethodPost, "/users/"+bob.User.ID.String()+"/deactivate", bob.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, auth.TextCodeForbidden, errorKind(body))

	status, body = api.do(http.MethodPost, "/users/"+bob.User.ID.String()+"/deactivate", ownerRes.AccessToken, map[string]any{"reason": "left"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "inactive", body["status"])

	status, body = api.do(http.MethodPost, "/auth/refresh", "", map[string]any{"refreshToken": bob.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, auth.TextCodeTokenRevoked, errorKind(body))

	status, body = api.do(http.MethodPost, "/users/"+bob.User.ID.String()+"/reactivate", ownerRes.AccessToken, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "active", body["status"])

	status, body = api.do(http.MethodPost, "/auth/logout-all", ownerRes.AccessToken, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 1, body["revoked"])

	status, body = api.do(http.MethodPost, "/auth/refresh", "", map[string]any{"refreshToken": ownerRes.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, auth.TextCodeTokenRevoked, errorKind(body))
}

func TestHTTPHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	api := newAPIClient(t, env)

	status, body := api.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := api.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "go_goroutines")
}
