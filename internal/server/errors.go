package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/smallbiznis/imagegen/internal/credit/domain"
	generationdomain "github.com/smallbiznis/imagegen/internal/generation/domain"
	"github.com/smallbiznis/imagegen/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/imagegen/internal/payment/domain"
	productdomain "github.com/smallbiznis/imagegen/internal/product/domain"
	tokendomain "github.com/smallbiznis/imagegen/internal/token/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

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
		if status >= http.StatusInternalServerError {
			logger.FromContext(c.Request.Context()).Error("request failed",
				zap.String("route", c.FullPath()),
				zap.Int("status", status),
				zap.Error(lastErr.Err),
			)
		}
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

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		message := validationErrorMessage(code)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: message,
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: message,
				},
			},
		}
	}

	switch {
	case errors.Is(err, generationdomain.ErrPaymentRequired):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "payment_required",
			Message: "No remaining generations. Please purchase a token.",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: notFoundMessage(err),
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, paymentdomain.ErrCheckoutFailed):
		return http.StatusBadGateway, errorPayload{
			Type:    "checkout_failed",
			Message: "Failed to create checkout session",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds error_type and error_code into the request log line.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status == http.StatusBadRequest:
		return "validation", validationErrorCode(err)
	case status >= http.StatusInternalServerError:
		return "server", payload.Type
	default:
		return "client", payload.Type
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case isGenerationValidationError(err),
		isPaymentValidationError(err),
		isTokenValidationError(err),
		errors.Is(err, creditdomain.ErrInvalidDevice),
		errors.Is(err, productdomain.ErrInvalidSKU):
		return true
	default:
		return false
	}
}

func isGenerationValidationError(err error) bool {
	switch {
	case errors.Is(err, generationdomain.ErrInvalidPrompt),
		errors.Is(err, generationdomain.ErrInvalidDevice),
		errors.Is(err, generationdomain.ErrInvalidStyle):
		return true
	default:
		return false
	}
}

func isPaymentValidationError(err error) bool {
	switch {
	case errors.Is(err, paymentdomain.ErrInvalidProvider),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidSignature),
		errors.Is(err, paymentdomain.ErrInvalidEvent),
		errors.Is(err, paymentdomain.ErrInvalidProduct),
		errors.Is(err, paymentdomain.ErrInvalidDevice),
		errors.Is(err, paymentdomain.ErrInvalidSuccessURL):
		return true
	default:
		return false
	}
}

func isTokenValidationError(err error) bool {
	switch {
	case errors.Is(err, tokendomain.ErrInvalidToken),
		errors.Is(err, tokendomain.ErrInvalidDevice):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, tokendomain.ErrNotFound),
		errors.Is(err, productdomain.ErrNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func notFoundMessage(err error) string {
	switch {
	case errors.Is(err, tokendomain.ErrNotFound):
		return "Token not found"
	case errors.Is(err, productdomain.ErrNotFound):
		return "Product not found"
	case errors.Is(err, paymentdomain.ErrProviderNotFound):
		return "Payment provider not found"
	default:
		return "not found"
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, paymentdomain.ErrInvalidProduct),
		errors.Is(err, productdomain.ErrInvalidSKU):
		return "invalid_product_sku"
	case errors.Is(err, paymentdomain.ErrInvalidDevice),
		errors.Is(err, generationdomain.ErrInvalidDevice),
		errors.Is(err, creditdomain.ErrInvalidDevice),
		errors.Is(err, tokendomain.ErrInvalidDevice):
		return "invalid_device_id"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_prompt":
		return "Prompt must be between 1 and 1000 characters"
	case "invalid_device_id":
		return "Device ID is required"
	case "invalid_style":
		return "Unknown style"
	case "invalid_product_sku":
		return "Invalid product SKU"
	case "invalid_success_url":
		return "Invalid success URL"
	case "invalid_signature":
		return "Invalid signature"
	case "invalid_payload":
		return "Invalid payload"
	case "invalid_event":
		return "Invalid event"
	case "invalid_token":
		return "Token is required"
	default:
		return "invalid value"
	}
}
