package caps

import "strings"

// VendorPrefix namespaces non-standard capability keys, per the W3C extension
// capability rule.
const VendorPrefix = "appium"

// standardCaps are the capability names defined by the WebDriver
// specification. They are exempt from vendor prefixing.
var standardCaps = map[string]struct{}{
	"acceptInsecureCerts":       {},
	"browserName":               {},
	"browserVersion":            {},
	"pageLoadStrategy":          {},
	"platformName":              {},
	"proxy":                     {},
	"setWindowRect":             {},
	"strictFileInteractability": {},
	"timeouts":                  {},
	"unhandledPromptBehavior":   {},
	"webSocketUrl":              {},
}

// IsStandardCap reports whether name is a specification-defined capability.
func IsStandardCap(name string) bool {
	_, ok := standardCaps[name]
	return ok
}

// InsertPrefixes returns a copy of d with every non-standard, not yet
// namespaced key prepended with the vendor prefix. Keys that already contain
// a ':' are assumed namespaced and left alone.
func InsertPrefixes(d Dict) Dict {
	out := make(Dict, len(d))
	for k, v := range d {
		if !IsStandardCap(k) && !strings.Contains(k, ":") {
			k = VendorPrefix + ":" + k
		}
		out[k] = v
	}
	return out
}

// RemovePrefix strips the vendor prefix from a single key. Keys without the
// prefix are returned unchanged.
func RemovePrefix(key string) string {
	return strings.TrimPrefix(key, VendorPrefix+":")
}

// RemovePrefixes strips the vendor prefix from the top-level keys of an
// object value. Non-object input is returned unchanged, not rejected. Nested
// objects are deliberately not descended into: the matching algorithm only
// ever compares top-level keys.
func RemovePrefixes(v Value) Value {
	d, ok := v.AsObject()
	if !ok {
		return v
	}
	return Object(RemoveDictPrefixes(d))
}

// RemoveDictPrefixes is RemovePrefixes for a dictionary already in hand.
func RemoveDictPrefixes(d Dict) Dict {
	out := make(Dict, len(d))
	for k, v := range d {
		out[RemovePrefix(k)] = v
	}
	return out
}
