package caps

import "regexp"

// settingsKeyPattern matches capability keys that carry an embedded settings
// directive, e.g. "settings[imageMatchThreshold]" or a namespaced variant.
var settingsKeyPattern = regexp.MustCompile(`settings\[(\S+)\]$`)

// ExtractSettings pulls embedded settings directives out of d. Every key
// ending in "settings[name]" is deleted from d and its value returned under
// "name", type preserved. Keys that do not match are untouched.
//
// This is the one transform in the package that mutates its input; callers
// sharing a dictionary across goroutines must serialize calls themselves.
func ExtractSettings(d Dict) Dict {
	out := Dict{}
	if len(d) == 0 {
		return out
	}
	for k, v := range d {
		m := settingsKeyPattern.FindStringSubmatch(k)
		if m == nil {
			continue
		}
		out[m[1]] = v
		delete(d, k)
	}
	return out
}
