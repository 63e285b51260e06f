// Package negotiation turns raw client-submitted capability payloads into
// the canonical, driver-consumable form. The Negotiator merges server
// defaults into the W3C payload, delegates matching to a pluggable engine,
// and assembles the processed result; match failures are carried as data on
// the result so callers can translate them into protocol-level errors.
package negotiation

import (
	"fmt"

	"caps-gateway/internal/caps"
)

// ProtocolW3C is the only protocol this gateway negotiates. Legacy-only
// capability sets are no longer independently negotiable.
const ProtocolW3C = "W3C"

// W3CCapabilities is the W3C-shaped capability payload: alwaysMatch holds in
// every case, firstMatch is an ordered list of alternative overlays.
type W3CCapabilities struct {
	AlwaysMatch caps.Dict   `json:"alwaysMatch,omitempty"`
	FirstMatch  []caps.Dict `json:"firstMatch,omitempty"`
}

// Clone returns a structural copy of the payload.
func (w *W3CCapabilities) Clone() *W3CCapabilities {
	if w == nil {
		return nil
	}
	out := &W3CCapabilities{AlwaysMatch: w.AlwaysMatch.Clone()}
	if w.FirstMatch != nil {
		out.FirstMatch = make([]caps.Dict, len(w.FirstMatch))
		for i, fm := range w.FirstMatch {
			out.FirstMatch[i] = fm.Clone()
		}
	}
	return out
}

// Result is the outcome of one negotiation pass.
//
// On success DesiredCaps holds the matched flat capabilities (vendor
// prefixes stripped), ProcessedW3C holds the canonical prefixed form with a
// single empty firstMatch entry, and Err is nil. On failure Err is set,
// DesiredCaps and ProcessedW3C are empty, and ProcessedLegacy retains
// whatever was computed before the failure.
type Result struct {
	DesiredCaps     caps.Dict        `json:"desiredCaps"`
	ProcessedLegacy caps.Dict        `json:"processedJsonwpCapabilities,omitempty"`
	ProcessedW3C    *W3CCapabilities `json:"processedW3CCapabilities,omitempty"`
	Protocol        string           `json:"protocol"`
	Err             error            `json:"-"`
}

// MissingW3CCapabilities is the error code when no usable W3C-shaped input
// was supplied.
const MissingW3CCapabilities = "missing_w3c_capabilities"

// CapabilityMatchFailure is the error code when the matching engine rejects
// every alternative.
const CapabilityMatchFailure = "capability_match_failure"

// Error is a negotiation failure. It is returned as data on Result.Err,
// never thrown, so callers can map Code onto their protocol's error space.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func missingW3CError() *Error {
	return &Error{
		Code:    MissingW3CCapabilities,
		Message: "capabilities must include an alwaysMatch or firstMatch field shaped per the W3C specification",
	}
}

func matchError(err error) *Error {
	return &Error{
		Code:    CapabilityMatchFailure,
		Message: err.Error(),
		Err:     err,
	}
}
