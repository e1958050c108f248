// SPDX-License-Identifier: MIT

// Package validate accumulates configuration validation failures so an
// operator sees every problem at once.
package validate

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Error is one failed check.
type Error struct {
	Field   string
	Value   any
	Message string
}

func (e Error) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// ValidationError bundles every failed check.
type ValidationError struct {
	errors []Error
}

func (e ValidationError) Errors() []Error { return e.errors }

func (e ValidationError) Error() string {
	var b strings.Builder
	for i, err := range e.errors {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(err.Error())
	}
	return b.String()
}

// Validator collects errors across checks. The zero value is ready to use.
type Validator struct {
	errors []Error
}

func New() *Validator { return &Validator{} }

func (v *Validator) failf(field string, value any, format string, args ...any) {
	v.errors = append(v.errors, Error{Field: field, Value: value, Message: fmt.Sprintf(format, args...)})
}

func (v *Validator) IsValid() bool { return len(v.errors) == 0 }

func (v *Validator) Errors() []Error { return v.errors }

// Err returns nil when every check passed.
func (v *Validator) Err() error {
	if v.IsValid() {
		return nil
	}
	return ValidationError{errors: slices.Clone(v.errors)}
}

// URL checks an absolute URL with one of the allowed schemes.
func (v *Validator) URL(field, value string, schemes []string) {
	if value == "" {
		v.failf(field, value, "URL cannot be empty")
		return
	}
	u, err := url.Parse(value)
	switch {
	case err != nil:
		v.failf(field, value, "invalid URL: %v", err)
	case u.Host == "":
		v.failf(field, value, "URL must have a host")
	case len(schemes) > 0 && !slices.Contains(schemes, u.Scheme):
		v.failf(field, value, "unsupported URL scheme %q (allowed: %v)", u.Scheme, schemes)
	}
}

// ListenAddr checks a host:port listen address. The host may be empty and
// port 0 asks the kernel for a free port.
func (v *Validator) ListenAddr(field, addr string) {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		v.failf(field, addr, "invalid listen address: %v", err)
		return
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		v.failf(field, addr, "port must be between 0 and 65535")
	}
}

func (v *Validator) Port(field string, port int) {
	if port < 1 || port > 65535 {
		v.failf(field, port, "port must be between 1 and 65535, got %d", port)
	}
}

func (v *Validator) Range(field string, value, lo, hi int) {
	if value < lo || value > hi {
		v.failf(field, value, "value must be between %d and %d, got %d", lo, hi, value)
	}
}

func (v *Validator) FloatRange(field string, value, lo, hi float64) {
	if value < lo || value > hi {
		v.failf(field, value, "value must be between %g and %g, got %g", lo, hi, value)
	}
}

func (v *Validator) MinDuration(field string, d, minVal time.Duration) {
	if d < minVal {
		v.failf(field, d, "duration must be at least %s, got %s", minVal, d)
	}
}

func (v *Validator) NotEmpty(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.failf(field, value, "value cannot be empty")
	}
}

func (v *Validator) OneOf(field, value string, allowed []string) {
	if !slices.Contains(allowed, value) {
		v.failf(field, value, "value must be one of %v, got %q", allowed, value)
	}
}

func (v *Validator) Positive(field string, value int) {
	if value <= 0 {
		v.failf(field, value, "value must be positive, got %d", value)
	}
}

func (v *Validator) NonNegative(field string, value int) {
	if value < 0 {
		v.failf(field, value, "value cannot be negative, got %d", value)
	}
}
