package remote

import "strings"

const (
	familiesRoot   = "families"
	budgetDataNode = "budgetData"
	activeDevices  = "activeDevices"
	deviceHistory  = "deviceHistory"
	probeNode      = "test"
	mirrorFamily   = "Device"
	mirrorOpsNode  = "Operations"
)

// JoinPath joins segments with "/" dropping empty ones and stray slashes.
func JoinPath(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

// SplitPath returns the non-empty segments of path.
func SplitPath(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SanitizeKey makes s usable as a single path segment.
func SanitizeKey(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '.', '#', '$', '[', ']':
			return '_'
		}
		return r
	}, s)
}

func familyPath(familyID string, rest ...string) string {
	return JoinPath(append([]string{familiesRoot, SanitizeKey(familyID)}, rest...)...)
}
