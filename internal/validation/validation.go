// Package validation provides request validation for the payment API.
package validation

import (
	"math"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// MaxRequestSize is the maximum request body size (64KB)
const MaxRequestSize = 64 << 10

// MaxNoteLength caps the free-text payment note.
const MaxNoteLength = 280

// MaxDestinationLength caps destination identifiers.
const MaxDestinationLength = 256

// AmountScale is the number of decimal places an amount may carry.
const AmountScale = 2

// MaxAmount caps a single payment.
var MaxAmount = decimal.NewFromInt(1_000_000_000_000)

// handleRegex matches payment handles of the form user@provider.
var handleRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]{2,256}@[a-zA-Z][a-zA-Z0-9]{1,63}$`)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidHandle reports whether s looks like a user@provider payment handle.
func IsValidHandle(s string) bool {
	return handleRegex.MatchString(s)
}

// NormalizeDestination trims and lower-cases a destination identifier.
// Handles are case-insensitive.
func NormalizeDestination(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// SanitizeString trims whitespace, strips null bytes and limits length.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\x00", "")
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors. A non-empty
// ValidationErrors is the invalid-input condition.
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs the validators and returns the collected errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// PositiveAmount checks that an amount is greater than zero, no larger
// than MaxAmount and has at most AmountScale decimal places.
func PositiveAmount(field string, value decimal.Decimal) func() *ValidationError {
	return func() *ValidationError {
		switch {
		case !value.IsPositive():
			return &ValidationError{Field: field, Message: "must be greater than zero"}
		case value.GreaterThan(MaxAmount):
			return &ValidationError{Field: field, Message: "exceeds maximum amount of " + MaxAmount.String()}
		case !value.Equal(value.Round(AmountScale)):
			return &ValidationError{Field: field, Message: "must have at most 2 decimal places"}
		}
		return nil
	}
}

// PositiveFloat is PositiveAmount for float inputs.
func PositiveFloat(field string, value float64) func() *ValidationError {
	return func() *ValidationError {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return &ValidationError{Field: field, Message: "must be a finite number"}
		}
		return PositiveAmount(field, decimal.NewFromFloat(value))()
	}
}

// DestinationParamMiddleware rejects empty or oversized :destination params.
func DestinationParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		dest := strings.TrimSpace(c.Param("destination"))
		if dest == "" || len(dest) > MaxDestinationLength {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_destination",
				"message": "destination must be a non-empty identifier",
			})
			return
		}
		c.Next()
	}
}
