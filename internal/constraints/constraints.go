// Package constraints validates argument and capability sets against
// declared rules: required presence, type tags, case-insensitive inclusion
// lists, default values, and optional per-argument JSON Schemas.
//
// Both the capability matcher and the extension-args parser consume this
// package as their validation collaborator.
package constraints

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"caps-gateway/internal/caps"
)

// ValidationFailure is the error code for a rejected argument value.
// Use errors.Is with ErrValidation to detect the class.
const ValidationFailure = "argument_validation_failure"

// ErrValidation is the sentinel all validation errors unwrap to.
var ErrValidation = errors.New("argument validation failure")

// ValidationError reports which argument failed and why.
type ValidationError struct {
	Code     string
	Argument string
	Message  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %q %s", e.Code, e.Argument, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func failf(argument, format string, args ...any) *ValidationError {
	return &ValidationError{
		Code:     ValidationFailure,
		Argument: argument,
		Message:  fmt.Sprintf(format, args...),
	}
}

// Constraint is the validation rule for one argument. All checks are
// optional; an empty Constraint accepts anything.
type Constraint struct {
	// Presence requires the argument to be supplied (or defaulted).
	Presence bool `json:"presence,omitempty"`

	// Exactly-one-of type tags. Unset tags impose no type requirement.
	IsString  bool `json:"isString,omitempty"`
	IsNumber  bool `json:"isNumber,omitempty"`
	IsBoolean bool `json:"isBoolean,omitempty"`
	IsObject  bool `json:"isObject,omitempty"`
	IsArray   bool `json:"isArray,omitempty"`

	// Inclusion restricts string values to this list, compared
	// case-insensitively.
	Inclusion []string `json:"inclusionCaseInsensitive,omitempty"`

	// Default is injected when the argument is absent. Defaults satisfy
	// Presence but are not themselves validated: declaring an invalid
	// default is a programming error, not client input.
	Default *caps.Value `json:"default,omitempty"`

	// Schema is an optional JSON Schema applied to the supplied value.
	Schema json.RawMessage `json:"schema,omitempty"`
}

// Spec maps argument names to their constraints.
type Spec map[string]Constraint

// SortedNames returns the declared argument names in lexical order.
func (s Spec) SortedNames() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks args against spec and returns a validated copy with
// defaults injected for absent arguments. args is never mutated. The first
// failing argument (in lexical order) aborts validation.
func Validate(args caps.Dict, spec Spec) (caps.Dict, error) {
	out := args.Clone()
	if out == nil {
		out = caps.Dict{}
	}
	for _, name := range spec.SortedNames() {
		c := spec[name]
		v, ok := out[name]
		if !ok {
			if c.Default != nil {
				out[name] = c.Default.Clone()
				continue
			}
			if c.Presence {
				return nil, failf(name, "is required")
			}
			continue
		}
		if err := c.check(name, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// check applies a single constraint to a supplied value.
func (c Constraint) check(name string, v caps.Value) error {
	if want, ok := c.requiredKind(); ok && v.Kind() != want {
		return failf(name, "must be a %s, got %s", want, v.Kind())
	}
	if len(c.Inclusion) > 0 {
		s, ok := v.AsString()
		if !ok {
			return failf(name, "must be a string, got %s", v.Kind())
		}
		if !containsFold(c.Inclusion, s) {
			return failf(name, "must be one of %s, got %q",
				strings.Join(c.Inclusion, ", "), s)
		}
	}
	if len(c.Schema) > 0 {
		if err := validateSchema(c.Schema, v); err != nil {
			return failf(name, "does not match its schema: %v", err)
		}
	}
	return nil
}

// requiredKind maps the type tags to the expected value kind.
func (c Constraint) requiredKind() (caps.Kind, bool) {
	switch {
	case c.IsString:
		return caps.KindString, true
	case c.IsNumber:
		return caps.KindNumber, true
	case c.IsBoolean:
		return caps.KindBool, true
	case c.IsObject:
		return caps.KindObject, true
	case c.IsArray:
		return caps.KindArray, true
	}
	return caps.KindNull, false
}

// validateSchema resolves the raw schema and applies it to the value.
func validateSchema(raw json.RawMessage, v caps.Value) error {
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("resolving schema: %w", err)
	}
	return resolved.Validate(v.Interface())
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
