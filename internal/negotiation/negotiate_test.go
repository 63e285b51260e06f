package negotiation

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"caps-gateway/internal/caps"
	"caps-gateway/internal/constraints"
)

func testNegotiator() *Negotiator {
	return NewNegotiator(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestNegotiateMissingW3C(t *testing.T) {
	tests := []struct {
		name   string
		legacy caps.Dict
		w3c    caps.Dict
	}{
		{"nil w3c", caps.Dict{"platformName": caps.String("iOS")}, nil},
		{"empty w3c dict", nil, caps.Dict{}},
		{"dict without match fields", nil, caps.Dict{"platformName": caps.String("iOS")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := testNegotiator().Negotiate(tt.legacy, tt.w3c, nil, nil)
			if result.Err == nil {
				t.Fatal("expected error")
			}
			var negErr *Error
			if !errors.As(result.Err, &negErr) || negErr.Code != MissingW3CCapabilities {
				t.Errorf("error = %v, want code %s", result.Err, MissingW3CCapabilities)
			}
			if len(result.DesiredCaps) != 0 || result.ProcessedW3C != nil || result.ProcessedLegacy != nil {
				t.Errorf("failed result must be empty: %+v", result)
			}
		})
	}
}

func TestNegotiateSuccessShape(t *testing.T) {
	w3c := caps.Dict{
		"alwaysMatch": caps.Object(caps.Dict{
			"platformName":      caps.String("iOS"),
			"appium:deviceName": caps.String("iPhone 15"),
		}),
	}

	result := testNegotiator().Negotiate(nil, w3c, nil, nil)
	if result.Err != nil {
		t.Fatalf("Negotiate() error: %v", result.Err)
	}
	if result.Protocol != ProtocolW3C {
		t.Errorf("Protocol = %q, want %q", result.Protocol, ProtocolW3C)
	}

	wantDesired := caps.Dict{
		"platformName": caps.String("iOS"),
		"deviceName":   caps.String("iPhone 15"),
	}
	if !result.DesiredCaps.Equal(wantDesired) {
		t.Errorf("DesiredCaps = %v, want %v", result.DesiredCaps, wantDesired)
	}

	if result.ProcessedW3C == nil {
		t.Fatal("ProcessedW3C is nil")
	}
	wantAlways := caps.Dict{
		"platformName":      caps.String("iOS"),
		"appium:deviceName": caps.String("iPhone 15"),
	}
	if !result.ProcessedW3C.AlwaysMatch.Equal(wantAlways) {
		t.Errorf("AlwaysMatch = %v, want %v", result.ProcessedW3C.AlwaysMatch, wantAlways)
	}
	if len(result.ProcessedW3C.FirstMatch) != 1 || len(result.ProcessedW3C.FirstMatch[0]) != 0 {
		t.Errorf("FirstMatch = %v, want single empty entry", result.ProcessedW3C.FirstMatch)
	}
}

func TestNegotiateDefaultSkippedWhenExplicit(t *testing.T) {
	w3c := caps.Dict{
		"alwaysMatch": caps.Object(caps.Dict{"platformName": caps.String("iOS")}),
	}
	defaults := caps.Dict{"platformName": caps.String("Android")}

	result := testNegotiator().Negotiate(nil, w3c, nil, defaults)
	if result.Err != nil {
		t.Fatalf("Negotiate() error: %v", result.Err)
	}
	if s, _ := result.DesiredCaps["platformName"].AsString(); s != "iOS" {
		t.Errorf("platformName = %q, explicit value must win over default", s)
	}
}

func TestNegotiateDefaultComparedAfterPrefixStripping(t *testing.T) {
	// appium:deviceName in alwaysMatch blocks the unprefixed default.
	w3c := caps.Dict{
		"alwaysMatch": caps.Object(caps.Dict{
			"platformName":      caps.String("iOS"),
			"appium:deviceName": caps.String("iPhone 15"),
		}),
	}
	defaults := caps.Dict{"deviceName": caps.String("emu")}

	result := testNegotiator().Negotiate(nil, w3c, nil, defaults)
	if result.Err != nil {
		t.Fatalf("Negotiate() error: %v", result.Err)
	}
	if s, _ := result.DesiredCaps["deviceName"].AsString(); s != "iPhone 15" {
		t.Errorf("deviceName = %q, want explicit iPhone 15", s)
	}
}

func TestNegotiateDefaultInjectedIntoFirstMatch(t *testing.T) {
	w3c := caps.Dict{
		"firstMatch": caps.Array(caps.Object(caps.Dict{})),
	}
	defaults := caps.Dict{"deviceName": caps.String("emu")}

	result := testNegotiator().Negotiate(nil, w3c, nil, defaults)
	if result.Err != nil {
		t.Fatalf("Negotiate() error: %v", result.Err)
	}
	if s, _ := result.DesiredCaps["deviceName"].AsString(); s != "emu" {
		t.Errorf("deviceName = %q, want injected default emu", s)
	}
}

func TestNegotiateDefaultCreatesFirstMatch(t *testing.T) {
	w3c := caps.Dict{
		"alwaysMatch": caps.Object(caps.Dict{"platformName": caps.String("iOS")}),
	}
	defaults := caps.Dict{"deviceName": caps.String("emu")}

	result := testNegotiator().Negotiate(nil, w3c, nil, defaults)
	if result.Err != nil {
		t.Fatalf("Negotiate() error: %v", result.Err)
	}
	want := caps.Dict{
		"platformName": caps.String("iOS"),
		"deviceName":   caps.String("emu"),
	}
	if !result.DesiredCaps.Equal(want) {
		t.Errorf("DesiredCaps = %v, want %v", result.DesiredCaps, want)
	}
}

func TestNegotiateDefaultsTouchFirstAlternativeOnly(t *testing.T) {
	w3c := caps.Dict{
		"firstMatch": caps.Array(
			caps.Object(caps.Dict{"browserName": caps.Number(1)}), // invalid branch
			caps.Object(caps.Dict{}),
		),
	}
	spec := constraints.Spec{
		"browserName": {IsString: true},
		"deviceName":  {Presence: true, IsString: true},
	}
	defaults := caps.Dict{"deviceName": caps.String("emu")}

	// The default lands in firstMatch[0], which fails on browserName; the
	// second alternative never receives it, so deviceName's presence rule
	// fails there and the whole match fails.
	result := testNegotiator().Negotiate(nil, w3c, spec, defaults)
	if result.Err == nil {
		t.Fatalf("expected match failure, got %v", result.DesiredCaps)
	}
}

func TestNegotiateLegacyPassThrough(t *testing.T) {
	legacy := caps.Dict{"platformName": caps.String("iOS"), "custom": caps.Number(7)}
	w3c := caps.Dict{
		"alwaysMatch": caps.Object(caps.Dict{"platformName": caps.String("iOS")}),
	}

	result := testNegotiator().Negotiate(legacy, w3c, nil, nil)
	if result.Err != nil {
		t.Fatalf("Negotiate() error: %v", result.Err)
	}
	if !result.ProcessedLegacy.Equal(legacy) {
		t.Errorf("ProcessedLegacy = %v, want %v", result.ProcessedLegacy, legacy)
	}
}

func TestNegotiateLegacyMergedUnderDefaults(t *testing.T) {
	legacy := caps.Dict{"deviceName": caps.String("real device")}
	w3c := caps.Dict{"firstMatch": caps.Array(caps.Object(caps.Dict{}))}
	defaults := caps.Dict{
		"appium:deviceName": caps.String("emu"),
		"noReset":           caps.Bool(true),
	}

	result := testNegotiator().Negotiate(legacy, w3c, nil, defaults)
	if result.Err != nil {
		t.Fatalf("Negotiate() error: %v", result.Err)
	}
	// Supplied legacy value wins; defaults compared prefix-stripped.
	if s, _ := result.ProcessedLegacy["deviceName"].AsString(); s != "real device" {
		t.Errorf("deviceName = %q, supplied legacy value must win", s)
	}
	if b, ok := result.ProcessedLegacy["noReset"].AsBool(); !ok || !b {
		t.Errorf("noReset default missing from legacy merge: %v", result.ProcessedLegacy)
	}
}

func TestNegotiateMatchFailureCarriedAsData(t *testing.T) {
	legacy := caps.Dict{"platformName": caps.String("iOS")}
	w3c := caps.Dict{
		"alwaysMatch": caps.Object(caps.Dict{"platformName": caps.Number(1)}),
	}
	spec := constraints.Spec{"platformName": {IsString: true}}

	result := testNegotiator().Negotiate(legacy, w3c, spec, nil)
	if result.Err == nil {
		t.Fatal("expected match failure")
	}
	var negErr *Error
	if !errors.As(result.Err, &negErr) || negErr.Code != CapabilityMatchFailure {
		t.Errorf("error = %v, want code %s", result.Err, CapabilityMatchFailure)
	}
	if len(result.DesiredCaps) != 0 || result.ProcessedW3C != nil {
		t.Errorf("failed result must not carry matched caps: %+v", result)
	}
	// Legacy processing happened before the failure and is retained.
	if result.ProcessedLegacy == nil {
		t.Error("ProcessedLegacy lost on match failure")
	}
}

func TestNegotiateMalformedPayload(t *testing.T) {
	tests := []struct {
		name string
		w3c  caps.Dict
	}{
		{"alwaysMatch not object", caps.Dict{"alwaysMatch": caps.String("nope")}},
		{"firstMatch not array", caps.Dict{"firstMatch": caps.Object(caps.Dict{})}},
		{"firstMatch entry not object", caps.Dict{"firstMatch": caps.Array(caps.Number(1))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := testNegotiator().Negotiate(nil, tt.w3c, nil, nil)
			var negErr *Error
			if !errors.As(result.Err, &negErr) || negErr.Code != CapabilityMatchFailure {
				t.Errorf("error = %v, want code %s", result.Err, CapabilityMatchFailure)
			}
		})
	}
}

func TestNegotiateNeverMutatesCallerState(t *testing.T) {
	legacy := caps.Dict{"custom": caps.Number(7)}
	w3cInner := caps.Dict{"platformName": caps.String("iOS")}
	w3c := caps.Dict{"alwaysMatch": caps.Object(w3cInner)}
	defaults := caps.Dict{"deviceName": caps.String("emu")}

	result := testNegotiator().Negotiate(legacy, w3c, nil, defaults)
	if result.Err != nil {
		t.Fatalf("Negotiate() error: %v", result.Err)
	}

	if !legacy.Equal(caps.Dict{"custom": caps.Number(7)}) {
		t.Errorf("legacy mutated: %v", legacy)
	}
	if !w3cInner.Equal(caps.Dict{"platformName": caps.String("iOS")}) {
		t.Errorf("w3c payload mutated: %v", w3cInner)
	}
	if !defaults.Equal(caps.Dict{"deviceName": caps.String("emu")}) {
		t.Errorf("defaults mutated: %v", defaults)
	}
}

// failingMatcher lets tests exercise the engine boundary.
type failingMatcher struct{ err error }

func (m failingMatcher) Match(*W3CCapabilities, constraints.Spec, bool) (caps.Dict, error) {
	return nil, m.err
}

func TestNegotiateWrapsEngineError(t *testing.T) {
	engineErr := fmt.Errorf("no alternative satisfies platform constraints")
	n := NewNegotiator(failingMatcher{err: engineErr}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	w3c := caps.Dict{"alwaysMatch": caps.Object(caps.Dict{})}
	result := n.Negotiate(nil, w3c, nil, nil)
	if result.Err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(result.Err, engineErr) {
		t.Errorf("engine error not wrapped: %v", result.Err)
	}
}
