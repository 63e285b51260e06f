package negotiation

import (
	"fmt"
	"strings"

	"caps-gateway/internal/caps"
	"caps-gateway/internal/constraints"
)

// Matcher is the capability-matching engine. Interface allows swapping the
// engine and mocking in tests.
//
// Match applies the W3C capabilities-processing merge to the payload and
// returns the first alternative that satisfies spec, vendor prefixes
// stripped. In strict mode a payload with no satisfying alternative is an
// error; otherwise the first structurally mergeable alternative is returned
// unvalidated.
type Matcher interface {
	Match(payload *W3CCapabilities, spec constraints.Spec, strict bool) (caps.Dict, error)
}

// ConstraintMatcher is the default engine: W3C merge semantics over the
// rule-based constraint validator.
type ConstraintMatcher struct{}

// Match implements Matcher.
func (ConstraintMatcher) Match(payload *W3CCapabilities, spec constraints.Spec, strict bool) (caps.Dict, error) {
	candidates := payload.FirstMatch
	if len(candidates) == 0 {
		// An absent firstMatch matches as a single empty overlay.
		candidates = []caps.Dict{{}}
	}

	var reasons []string
	var fallback caps.Dict
	for i, fm := range candidates {
		merged, err := mergeCandidate(payload.AlwaysMatch, fm)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("firstMatch[%d]: %v", i, err))
			continue
		}
		stripped := caps.RemoveDictPrefixes(merged)
		validated, err := constraints.Validate(stripped, spec)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("firstMatch[%d]: %v", i, err))
			if fallback == nil {
				fallback = stripped
			}
			continue
		}
		return validated, nil
	}

	if !strict && fallback != nil {
		return fallback, nil
	}
	return nil, fmt.Errorf("no capability alternative satisfied the constraints: %s",
		strings.Join(reasons, "; "))
}

// mergeCandidate overlays one firstMatch alternative on alwaysMatch. The W3C
// algorithm forbids an alternative from redefining a key alwaysMatch already
// carries.
func mergeCandidate(always, fm caps.Dict) (caps.Dict, error) {
	merged := always.Clone()
	if merged == nil {
		merged = caps.Dict{}
	}
	for _, k := range fm.SortedKeys() {
		if _, exists := merged[k]; exists {
			return nil, fmt.Errorf("key %q is already present in alwaysMatch", k)
		}
		merged[k] = fm[k].Clone()
	}
	return merged, nil
}
