package auth

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/goliatone/go-tenant-auth/middleware/jwtware"
)

const (
	// LocalsIdentityKey holds the request Identity in fiber Locals
	LocalsIdentityKey = "identity"
	// LocalsClaimsKey holds the verified access token claims in fiber Locals
	LocalsClaimsKey = "claims"
)

// ProtectedRoute authenticates requests with an access token sent as
// "Authorization: Bearer <token>". The identity is stored in Locals and in
// the user context for downstream handlers.
func ProtectedRoute(tokens *TokenService, errorHandler fiber.ErrorHandler) fiber.Handler {
	return jwtware.New(jwtware.Config[*Claims]{
		Validate:     tokens.VerifyAccess,
		ErrorHandler: errorHandler,
		ContextKey:   LocalsClaimsKey,
		ValidationListeners: []jwtware.ValidationListener[*Claims]{
			func(c *fiber.Ctx, claims *Claims) error {
				c.Locals(LocalsIdentityKey, claims.Identity())
				return nil
			},
		},
		ContextEnricher: func(ctx context.Context, claims *Claims) context.Context {
			return WithIdentity(WithClaimsContext(ctx, claims), claims.Identity())
		},
	})
}

// RequireCapabilityMiddleware rejects requests whose identity lacks the
// capability. It must run after ProtectedRoute.
func RequireCapabilityMiddleware(capability Capability) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := IdentityFromFiber(c)
		if !ok {
			return ErrInvalidToken
		}
		if err := RequireCapability(id, capability); err != nil {
			return err
		}
		return c.Next()
	}
}

// IdentityFromFiber returns the identity stored by ProtectedRoute
func IdentityFromFiber(c *fiber.Ctx) (Identity, bool) {
	id, ok := c.Locals(LocalsIdentityKey).(Identity)
	return id, ok
}
