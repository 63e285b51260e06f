package negotiation

import (
	"fmt"
	"log/slog"

	"caps-gateway/internal/caps"
	"caps-gateway/internal/constraints"
)

// Negotiator orchestrates default-capability merging and delegates matching
// to the engine. One synchronous pass per invocation, no retained state;
// concurrent invocations are safe because every call works on its own
// clones.
type Negotiator struct {
	matcher Matcher
	logger  *slog.Logger
}

// NewNegotiator creates a negotiator with the given engine. A nil matcher
// gets the default ConstraintMatcher, a nil logger the process default.
func NewNegotiator(matcher Matcher, logger *slog.Logger) *Negotiator {
	if matcher == nil {
		matcher = ConstraintMatcher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Negotiator{matcher: matcher, logger: logger}
}

// Negotiate processes the client's capability payloads into canonical form.
//
// w3c is the raw W3C-shaped dictionary ({alwaysMatch, firstMatch}); legacy
// is an optional flat jsonwp-style dictionary, carried through verbatim for
// reporting but never matched against. defaults are server-side default
// capabilities merged underneath explicit client values. spec declares the
// capability constraints the engine validates against, always in strict
// mode.
//
// Defaults are injected into the first firstMatch alternative only; later
// alternatives never receive defaults. That limitation is kept on purpose:
// spreading defaults across alternatives would change which branch matches.
//
// Caller dictionaries are never mutated. Match failures come back as data in
// Result.Err, not as a returned error.
func (n *Negotiator) Negotiate(legacy, w3c caps.Dict, spec constraints.Spec, defaults caps.Dict) Result {
	if !hasW3CShape(w3c) {
		return Result{Protocol: ProtocolW3C, Err: missingW3CError()}
	}

	legacy = legacy.Clone()
	defaults = defaults.Clone()
	payload, err := decodePayload(w3c.Clone())
	if err != nil {
		n.logger.Warn("malformed W3C capabilities", slog.String("error", err.Error()))
		return Result{Protocol: ProtocolW3C, Err: matchError(err)}
	}

	if len(defaults) > 0 {
		injectDefaults(payload, defaults)
		if legacy != nil {
			legacy = mergeUnder(legacy, caps.RemoveDictPrefixes(defaults))
		}
	}

	// Legacy caps are informational pass-through; they never influence
	// matching or protocol selection.
	var processedLegacy caps.Dict
	if legacy != nil {
		processedLegacy = legacy
	}

	matched, err := n.matcher.Match(payload, spec, true)
	if err != nil {
		n.logger.Warn("capability matching failed", slog.String("error", err.Error()))
		return Result{
			ProcessedLegacy: processedLegacy,
			Protocol:        ProtocolW3C,
			Err:             matchError(err),
		}
	}

	// The single empty firstMatch entry signals "fully resolved, no further
	// alternatives needed".
	return Result{
		DesiredCaps:     matched,
		ProcessedLegacy: processedLegacy,
		ProcessedW3C: &W3CCapabilities{
			AlwaysMatch: caps.InsertPrefixes(matched),
			FirstMatch:  []caps.Dict{{}},
		},
		Protocol: ProtocolW3C,
	}
}

// hasW3CShape reports whether d is a usable W3C payload: a dictionary with
// an alwaysMatch or firstMatch field.
func hasW3CShape(d caps.Dict) bool {
	if d == nil {
		return false
	}
	_, hasAlways := d["alwaysMatch"]
	_, hasFirst := d["firstMatch"]
	return hasAlways || hasFirst
}

// decodePayload extracts the typed payload from the raw dictionary.
func decodePayload(d caps.Dict) (*W3CCapabilities, error) {
	p := &W3CCapabilities{}
	if v, ok := d["alwaysMatch"]; ok {
		obj, isObj := v.AsObject()
		if !isObj {
			return nil, fmt.Errorf("alwaysMatch must be an object, got %s", v.Kind())
		}
		p.AlwaysMatch = obj
	}
	if v, ok := d["firstMatch"]; ok {
		arr, isArr := v.AsArray()
		if !isArr {
			return nil, fmt.Errorf("firstMatch must be an array, got %s", v.Kind())
		}
		for i, item := range arr {
			obj, isObj := item.AsObject()
			if !isObj {
				return nil, fmt.Errorf("firstMatch[%d] must be an object, got %s", i, item.Kind())
			}
			p.FirstMatch = append(p.FirstMatch, obj)
		}
	}
	return p, nil
}

// injectDefaults merges default capabilities into the payload. A default
// whose key (prefix-stripped) already appears in firstMatch[0] or
// alwaysMatch is skipped: explicit values always win.
func injectDefaults(p *W3CCapabilities, defaults caps.Dict) {
	for _, k := range defaults.SortedKeys() {
		if hasEquivalentKey(p, k) {
			continue
		}
		if len(p.FirstMatch) == 0 {
			p.FirstMatch = []caps.Dict{{k: defaults[k].Clone()}}
			continue
		}
		if p.FirstMatch[0] == nil {
			p.FirstMatch[0] = caps.Dict{}
		}
		p.FirstMatch[0][k] = defaults[k].Clone()
	}
}

// hasEquivalentKey compares keys after stripping vendor prefixes on both
// sides, against firstMatch[0] (when present) and alwaysMatch.
func hasEquivalentKey(p *W3CCapabilities, key string) bool {
	want := caps.RemovePrefix(key)
	if len(p.FirstMatch) > 0 {
		for k := range p.FirstMatch[0] {
			if caps.RemovePrefix(k) == want {
				return true
			}
		}
	}
	for k := range p.AlwaysMatch {
		if caps.RemovePrefix(k) == want {
			return true
		}
	}
	return false
}

// mergeUnder shallow-merges defaults underneath supplied: supplied values
// win on key collision.
func mergeUnder(supplied, defaults caps.Dict) caps.Dict {
	out := defaults.Clone()
	if out == nil {
		out = caps.Dict{}
	}
	for k, v := range supplied {
		out[k] = v
	}
	return out
}
