// Package quality implements the nullable-first field model. Every market
// data field carries its own quality state and a human-readable reason when
// absent, so downstream gates branch on quality instead of sentinel zeros.
package quality

import (
	"fmt"
	"math"
)

// Quality classifies a single field observation.
type Quality string

const (
	// Valid means the value is present and coerced to its target type.
	Valid Quality = "VALID"
	// Missing means the source did not provide the value.
	Missing Quality = "MISSING"
	// Error means the source provided something that could not be coerced.
	Error Quality = "ERROR"
)

// Field wraps a value together with its quality and reason.
// Invariant: Quality == Valid exactly when Value != nil.
type Field[T any] struct {
	Value   *T      `json:"value"`
	Quality Quality `json:"quality"`
	Reason  string  `json:"reason,omitempty"`
	Name    string  `json:"field_name"`
}

// ValidField builds a VALID field carrying v.
func ValidField[T any](name string, v T) Field[T] {
	return Field[T]{Value: &v, Quality: Valid, Name: name}
}

// MissingField builds a MISSING field with the canonical reason.
func MissingField[T any](name string) Field[T] {
	return Field[T]{
		Quality: Missing,
		Reason:  fmt.Sprintf("%s not provided by source", name),
		Name:    name,
	}
}

// ErrorField builds an ERROR field for a failed coercion.
func ErrorField[T any](name string, cause error) Field[T] {
	return Field[T]{
		Quality: Error,
		Reason:  fmt.Sprintf("%s coercion failed: %v", name, cause),
		Name:    name,
	}
}

// IsValid reports whether the field holds a usable value.
func (f Field[T]) IsValid() bool {
	return f.Quality == Valid && f.Value != nil
}

// State exposes (name, quality) without the type parameter, for completeness
// computation across heterogeneous fields.
func (f Field[T]) State() (string, Quality) {
	return f.Name, f.Quality
}

// Stater is any field that can report its name and quality.
type Stater interface {
	State() (string, Quality)
}

// WrapFloat converts a raw optional float into a Field. A nil raw value is
// MISSING. NaN and infinities are ERROR. Zero is VALID unless allowZero is
// false, in which case it is MISSING with the zero-specific reason.
func WrapFloat(name string, raw *float64, allowZero bool) Field[float64] {
	if raw == nil {
		return MissingField[float64](name)
	}
	if math.IsNaN(*raw) || math.IsInf(*raw, 0) {
		return ErrorField[float64](name, fmt.Errorf("non-finite value %v", *raw))
	}
	if *raw == 0 && !allowZero {
		return Field[float64]{
			Quality: Missing,
			Reason:  fmt.Sprintf("%s is zero (treated as missing)", name),
			Name:    name,
		}
	}
	return ValidField(name, *raw)
}

// WrapInt converts a raw optional integer into a Field, with the same zero
// policy as WrapFloat.
func WrapInt(name string, raw *int64, allowZero bool) Field[int64] {
	if raw == nil {
		return MissingField[int64](name)
	}
	if *raw == 0 && !allowZero {
		return Field[int64]{
			Quality: Missing,
			Reason:  fmt.Sprintf("%s is zero (treated as missing)", name),
			Name:    name,
		}
	}
	return ValidField(name, *raw)
}

// WrapString converts a raw optional string into a Field. Empty strings are
// MISSING; the literal "UNKNOWN" is forbidden for required fields and is
// treated as MISSING here so it can never leak downstream.
func WrapString(name string, raw *string) Field[string] {
	if raw == nil || *raw == "" {
		return MissingField[string](name)
	}
	if *raw == "UNKNOWN" {
		return Field[string]{
			Quality: Missing,
			Reason:  fmt.Sprintf("%s not provided by source", name),
			Name:    name,
		}
	}
	return ValidField(name, *raw)
}

// Completeness returns the VALID share of fields together with the names of
// the non-valid ones. An empty input is fully complete.
func Completeness(fields ...Stater) (float64, []string) {
	if len(fields) == 0 {
		return 1.0, nil
	}

	valid := 0
	var missing []string
	for _, f := range fields {
		name, q := f.State()
		if q == Valid {
			valid++
		} else {
			missing = append(missing, name)
		}
	}

	return float64(valid) / float64(len(fields)), missing
}
