package validation

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestIsValidHex(t *testing.T) {
	tests := []struct {
		s     string
		valid bool
	}{
		{"0x", true},
		{"0x38ed1739", true},
		{"0xABCDEF", true},

		// Invalid cases
		{"38ed1739", false}, // No 0x
		{"0x123", false},    // Odd length
		{"0xzz", false},     // Invalid chars
		{"", false},
	}

	for _, tc := range tests {
		result := IsValidHex(tc.s)
		if result != tc.valid {
			t.Errorf("IsValidHex(%q) = %v, want %v", tc.s, result, tc.valid)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 20, "helloworld"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	// Test valid input
	errors := Validate(
		Required("to", "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"),
		Integer("value", "100000"),
		Hex("payload", "0x38ed1739"),
		UUID("id", "9b2f1c1e-4a64-4a43-8b0e-4a1f3c2d5e6f"),
	)
	if len(errors) != 0 {
		t.Errorf("Expected no errors, got %v", errors)
	}

	// Test invalid input
	errors = Validate(
		Required("to", ""),
		Integer("value", "1.5"),
		Hex("payload", "38ed"),
		UUID("id", "tx-1"),
	)
	if len(errors) != 4 {
		t.Errorf("Expected 4 errors, got %d", len(errors))
	}
	if errors.Error() != "to: is required" {
		t.Errorf("unexpected summary %q", errors.Error())
	}
}

func TestInteger(t *testing.T) {
	tests := []struct {
		value string
		valid bool
	}{
		{"0", true},
		{"100000", true},
		{"-1", true},
		{"", true},
		{"115792089237316195423570985008687907853269984665640564039457584007913129639935", true},

		// Invalid
		{"1.0", false},
		{"1e18", false},
		{"0x10", false},
		{"--1", false},
	}

	for _, tc := range tests {
		err := Integer("value", tc.value)()
		valid := err == nil
		if valid != tc.valid {
			t.Errorf("Integer(%q) valid=%v, want %v", tc.value, valid, tc.valid)
		}
	}

	v, ok := ParseInteger("-42")
	if !ok || v.Int64() != -42 {
		t.Errorf("ParseInteger(-42) = %v, %v", v, ok)
	}
}

func TestMaxLength(t *testing.T) {
	// Under limit
	err := MaxLength("field", "hello", 10)()
	if err != nil {
		t.Error("Expected no error for string under limit")
	}

	// At limit
	err = MaxLength("field", "hello", 5)()
	if err != nil {
		t.Error("Expected no error for string at limit")
	}

	// Over limit
	err = MaxLength("field", "hello world", 5)()
	if err == nil {
		t.Error("Expected error for string over limit")
	}
}

func TestUUIDParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/journeys/:id", UUIDParamMiddleware("id"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	tests := []struct {
		path string
		code int
	}{
		{"/journeys/9b2f1c1e-4a64-4a43-8b0e-4a1f3c2d5e6f", http.StatusNoContent},
		{"/journeys/not-a-uuid", http.StatusBadRequest},
	}
	for _, tc := range tests {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if w.Code != tc.code {
			t.Errorf("GET %s = %d, want %d", tc.path, w.Code, tc.code)
		}
	}
}
