// Package extargs parses and validates extension-supplied configuration
// arguments (driver and plugin args) against declared constraints.
//
// Parsing is fail-closed: an argument name not declared in the constraints
// spec aborts the whole call. These errors are returned synchronously, they
// occur during configuration loading and should abort startup.
package extargs

import (
	"errors"
	"fmt"
	"strings"

	"caps-gateway/internal/caps"
	"caps-gateway/internal/constraints"
)

// Error codes for argument parsing failures.
const (
	UnknownArgument      = "unknown_argument"
	InvalidArgumentShape = "invalid_argument_shape"
)

// ErrParse is the sentinel all argument-parsing errors unwrap to.
var ErrParse = errors.New("extension argument parse failure")

// ArgError reports a rejected extension argument block or argument name.
type ArgError struct {
	Code      string
	Extension string
	Message   string
}

func (e *ArgError) Error() string {
	if e.Extension != "" {
		return fmt.Sprintf("%s: extension %q %s", e.Code, e.Extension, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ArgError) Unwrap() error { return ErrParse }

// BlobLoader resolves an args source, inline structured text or a file
// reference, into the top-level mapping from extension identifier to that
// extension's argument block. Interface allows mocking in tests.
type BlobLoader interface {
	Load(source string) (caps.Dict, error)
}

// Validator applies declared constraints to an argument set and returns the
// validated (possibly default-augmented) copy.
type Validator interface {
	Validate(args caps.Dict, spec constraints.Spec) (caps.Dict, error)
}

// validatorFunc adapts a plain function to Validator.
type validatorFunc func(caps.Dict, constraints.Spec) (caps.Dict, error)

func (f validatorFunc) Validate(args caps.Dict, spec constraints.Spec) (caps.Dict, error) {
	return f(args, spec)
}

// Parser parses extension argument blobs and merges validated arguments over
// base values.
type Parser struct {
	loader    BlobLoader
	validator Validator
}

// NewParser creates a parser. A nil loader gets the structured-text loader,
// a nil validator the constraints package.
func NewParser(loader BlobLoader, validator Validator) *Parser {
	if loader == nil {
		loader = StructuredLoader{}
	}
	if validator == nil {
		validator = validatorFunc(constraints.Validate)
	}
	return &Parser{loader: loader, validator: validator}
}

// ParseExtensionArgs extracts the argument block for extensionID from blob.
// An empty blob, or a blob with no entry for the extension, yields an empty
// dictionary. An entry that is not a plain dictionary is rejected.
func (p *Parser) ParseExtensionArgs(blob, extensionID string) (caps.Dict, error) {
	if strings.TrimSpace(blob) == "" {
		return caps.Dict{}, nil
	}
	all, err := p.loader.Load(blob)
	if err != nil {
		return nil, err
	}
	v, ok := all[extensionID]
	if !ok {
		return caps.Dict{}, nil
	}
	args, isObj := v.AsObject()
	if !isObj {
		return nil, &ArgError{
			Code:      InvalidArgumentShape,
			Extension: extensionID,
			Message:   fmt.Sprintf("args must be an object, got %s", v.Kind()),
		}
	}
	return args, nil
}

// ParseKnownArgs checks every supplied argument name against the constraint
// spec's key set. Any undeclared name fails the whole call; there is no
// silent dropping.
func (p *Parser) ParseKnownArgs(supplied caps.Dict, spec constraints.Spec) (caps.Dict, error) {
	for _, name := range supplied.SortedKeys() {
		if _, ok := spec[name]; !ok {
			return nil, &ArgError{
				Code: UnknownArgument,
				Message: fmt.Sprintf("%q is not a recognized argument (known: %s)",
					name, strings.Join(spec.SortedNames(), ", ")),
			}
		}
	}
	return supplied, nil
}

// ParseDriverPluginArgs validates supplied against spec and overlays the
// validated result onto base: validated values win on key collision, keys
// only in base are preserved. When supplied or spec is empty, base is
// returned unchanged.
func (p *Parser) ParseDriverPluginArgs(base, supplied caps.Dict, spec constraints.Spec) (caps.Dict, error) {
	if len(supplied) == 0 || len(spec) == 0 {
		return base, nil
	}
	known, err := p.ParseKnownArgs(supplied, spec)
	if err != nil {
		return nil, err
	}
	validated, err := p.validator.Validate(known, spec)
	if err != nil {
		return nil, err
	}
	out := base.Clone()
	if out == nil {
		out = caps.Dict{}
	}
	for k, v := range validated {
		out[k] = v
	}
	return out, nil
}
