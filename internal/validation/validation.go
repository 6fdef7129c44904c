// Package validation provides input validation for the analysis API.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tradecouncil/tradecouncil/internal/errs"
)

// tickerPattern accepts uppercase alphanumerics with an optional single dot
// segment, e.g. AAPL, BRK.B, 005930.KS. Total length is capped at 10.
var tickerPattern = regexp.MustCompile(`^[A-Z0-9]{1,9}(\.[A-Z0-9]{1,3})?$`)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_.-]{3,32}$`)

// NormalizeTicker uppercases and trims a raw ticker.
func NormalizeTicker(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// ValidateTicker checks a raw ticker and returns the normalized form.
func ValidateTicker(raw string) (string, error) {
	t := NormalizeTicker(raw)
	if t == "" {
		return "", errs.New(errs.KindInvalidArgument, "ticker is required")
	}
	if len(t) > 10 || !tickerPattern.MatchString(t) {
		return "", errs.Newf(errs.KindInvalidArgument, "invalid ticker %q", raw)
	}
	return t, nil
}

// ValidateAnalysisDate parses an ISO-8601 wall date (YYYY-MM-DD).
func ValidateAnalysisDate(raw string) (time.Time, error) {
	d, err := time.Parse("2006-01-02", strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, errs.Newf(errs.KindInvalidArgument, "invalid analysis_date %q, want YYYY-MM-DD", raw)
	}
	return d, nil
}

// ValidateUsername checks and normalizes a username to its lowercase handle.
func ValidateUsername(raw string) (string, error) {
	u := strings.ToLower(strings.TrimSpace(raw))
	if !usernamePattern.MatchString(u) {
		return "", errs.New(errs.KindInvalidArgument, "username must be 3-32 chars of [a-z0-9_.-]")
	}
	return u, nil
}

// ClampLimit bounds a page size to [1, max], substituting def when zero.
func ClampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors aggregates field failures for one request.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return "validation errors: " + strings.Join(msgs, "; ")
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator accumulates field-level checks for a request body.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{errors: make(ValidationErrors, 0)}
}

// AddError adds a validation error
func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// Required validates that a string is not empty
func (v *Validator) Required(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "is required")
	}
}

// Range validates that n lies in [min, max].
func (v *Validator) Range(field string, n, min, max int) {
	if n < min || n > max {
		v.AddError(field, fmt.Sprintf("must be between %d and %d", min, max))
	}
}

// OneOf validates that value is one of the allowed strings.
func (v *Validator) OneOf(field, value string, allowed ...string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.AddError(field, fmt.Sprintf("must be one of %s", strings.Join(allowed, ", ")))
}

// Err returns the accumulated failures as an InvalidArgument error, or nil.
func (v *Validator) Err() error {
	if len(v.errors) == 0 {
		return nil
	}
	return errs.Wrap(errs.KindInvalidArgument, "invalid request", v.errors)
}
