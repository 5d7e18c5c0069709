// Package validation provides request validation helpers for the HTTP API.
package validation

import (
	"math/big"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

// MaxPayloadHexLength caps a hex-encoded calldata field (128KB of calldata).
const MaxPayloadHexLength = 2 + 2*128*1024

var (
	// hexRegex validates 0x-prefixed hex strings
	hexRegex = regexp.MustCompile(`^0x([a-fA-F0-9]{2})*$`)
	// integerRegex validates base-10 integers, sign allowed
	integerRegex = regexp.MustCompile(`^-?[0-9]+$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidHex checks for 0x-prefixed, even-length hex
func IsValidHex(s string) bool {
	return hexRegex.MatchString(s)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
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

// Integer checks that a field is a base-10 integer. The sign is not
// checked here: negative amounts are a domain failure, not a malformed
// request.
func Integer(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if len(value) > 80 || !integerRegex.MatchString(value) {
			return &ValidationError{Field: field, Message: "must be a base-10 integer"}
		}
		return nil
	}
}

// Hex checks that a field is 0x-prefixed hex of even length.
func Hex(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidHex(value) {
			return &ValidationError{Field: field, Message: "must be 0x-prefixed hex"}
		}
		return nil
	}
}

// UUID checks that a field is a UUID.
func UUID(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if _, err := uuid.Parse(value); err != nil {
			return &ValidationError{Field: field, Message: "must be a UUID"}
		}
		return nil
	}
}

// ParseInteger parses a value that passed Integer.
func ParseInteger(value string) (*big.Int, bool) {
	return new(big.Int).SetString(value, 10)
}

// UUIDParamMiddleware rejects requests whose URL parameter is not a UUID.
func UUIDParamMiddleware(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v := c.Param(param)
		if v != "" {
			if _, err := uuid.Parse(v); err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error":   "invalid_id",
					"message": param + " must be a UUID",
				})
				return
			}
		}
		c.Next()
	}
}
