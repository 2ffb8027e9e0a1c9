package server

import (
	"errors"
	"net/http"

	entitlementdomain "github.com/fastingvibe/api/internal/entitlement/domain"
	paymentdomain "github.com/fastingvibe/api/internal/payment/domain"
	plandomain "github.com/fastingvibe/api/internal/plan/domain"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrNotFound       = errors.New("not_found")
)

// ErrorHandlingMiddleware converts the last recorded handler error into the
// response taxonomy. Handlers record errors via AbortWithError and never
// write failure bodies themselves.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Code:    err.Error(),
			Message: "invalid request",
		}

	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		// Signature failures are a client error by contract; a 500 here
		// would put the provider into a retry loop on hostile input.
		return http.StatusBadRequest, errorPayload{
			Type:    "signature_error",
			Code:    "invalid_signature",
			Message: "webhook signature verification failed",
		}

	case isConflictError(err):
		// Conflicts surface as 400 to purchase callers per the API contract.
		return http.StatusBadRequest, errorPayload{
			Type:    "conflict",
			Code:    err.Error(),
			Message: "request conflicts with current entitlement state",
		}

	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Code:    "unauthorized",
			Message: "unauthorized",
		}

	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Code:    "forbidden",
			Message: "forbidden",
		}

	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Code:    "not_found",
			Message: "not found",
		}

	case paymentdomain.IsUpstream(err), errors.Is(err, paymentdomain.ErrNotConfigured):
		return http.StatusBadGateway, errorPayload{
			Type:    "upstream_error",
			Code:    "payment_gateway_unavailable",
			Message: "payment provider request failed, please retry",
		}

	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Code:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, entitlementdomain.ErrInvalidOwner),
		errors.Is(err, entitlementdomain.ErrNoActiveEntitlement),
		errors.Is(err, plandomain.ErrInvalidPlan),
		errors.Is(err, plandomain.ErrInvalidPrice),
		errors.Is(err, plandomain.ErrInvalidProduct),
		errors.Is(err, plandomain.ErrInvalidInterval):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, entitlementdomain.ErrActiveEntitlementExists),
		errors.Is(err, plandomain.ErrPlanExists):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, plandomain.ErrNotFound),
		errors.Is(err, entitlementdomain.ErrNotFound),
		errors.Is(err, paymentdomain.ErrRemoteNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

// classifyErrorForLog feeds the request logger's error_type/error_code fields.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	return payload.Type, payload.Code
}
