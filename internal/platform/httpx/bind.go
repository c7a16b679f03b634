package httpx

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-logistics/internal/shared"
)

// DateLayout is the wire format for date-only request fields.
const DateLayout = "2006-01-02"

var validate = validator.New()

// Bind decodes the JSON body into target and runs struct validation.
func Bind(r *http.Request, target any) error {
	if err := DecodeJSON(r, target); err != nil {
		return err
	}
	return validate.Struct(target)
}

// ParseDate parses an optional date-only field. Empty input yields the zero time.
func ParseDate(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, shared.Invalid(field, "expected YYYY-MM-DD")
	}
	return t, nil
}

// ParseDatePtr is ParseDate for nullable columns.
func ParseDatePtr(field, value string) (*time.Time, error) {
	t, err := ParseDate(field, value)
	if err != nil || t.IsZero() {
		return nil, err
	}
	return &t, nil
}
