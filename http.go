package auth

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"

	"github.com/goliatone/go-tenant-auth/middleware/jwtware"
)

// ErrBadRequestBody is returned when a request body cannot be decoded
var ErrBadRequestBody = goerrors.New("request body is malformed", goerrors.CategoryBadInput).
	WithTextCode("BAD_REQUEST").
	WithCode(goerrors.CodeBadRequest)

// ErrorBody is the JSON envelope of every error response
type ErrorBody struct {
	Error ErrorPayload `json:"error"`
}

type ErrorPayload struct {
	Kind       string                    `json:"kind"`
	Message    string                    `json:"message"`
	Validation goerrors.ValidationErrors `json:"validation,omitempty"`
}

// NewErrorHandler returns a fiber error handler that renders domain errors
// as {"error": {"kind", "message"}} with a 4xx status. Anything outside the
// taxonomy is logged and rendered as a 500.
func NewErrorHandler(logger Logger) fiber.ErrorHandler {
	logger = normalizeLogger(logger)

	return func(c *fiber.Ctx, err error) error {
		status, body := errorResponse(err)

		if status >= fiber.StatusInternalServerError {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) && len(richErr.Metadata) > 0 {
				logger.Error("request failed", "path", c.Path(), "error", err, "metadata", print.MaybePrettyJSON(richErr.Metadata))
			} else {
				logger.Error("request failed", "path", c.Path(), "error", err)
			}
		} else {
			logger.Debug("request rejected", "path", c.Path(), "status", status, "kind", body.Error.Kind)
		}

		return c.Status(status).JSON(body)
	}
}

func errorResponse(err error) (int, ErrorBody) {
	if errors.Is(err, jwtware.ErrJWTMissingOrMalformed) {
		err = ErrInvalidToken
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code, ErrorBody{Error: ErrorPayload{
			Kind:    goerrors.HTTPStatusToTextCode(fiberErr.Code),
			Message: fiberErr.Message,
		}}
	}

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return fiber.StatusInternalServerError, internalErrorBody()
	}

	status := richErr.Code
	if status == 0 {
		status = statusForCategory(richErr.Category)
	}
	if status >= fiber.StatusInternalServerError {
		return status, internalErrorBody()
	}

	kind := richErr.TextCode
	if kind == "" {
		kind = goerrors.HTTPStatusToTextCode(status)
	}

	return status, ErrorBody{Error: ErrorPayload{
		Kind:       kind,
		Message:    richErr.Message,
		Validation: richErr.ValidationErrors,
	}}
}

func statusForCategory(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryAuth:
		return fiber.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return fiber.StatusForbidden
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return fiber.StatusBadRequest
	case goerrors.CategoryNotFound:
		return fiber.StatusNotFound
	case goerrors.CategoryConflict:
		return fiber.StatusConflict
	case goerrors.CategoryRateLimit:
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}

func internalErrorBody() ErrorBody {
	return ErrorBody{Error: ErrorPayload{
		Kind:    "INTERNAL_ERROR",
		Message: "an unexpected error occurred",
	}}
}
