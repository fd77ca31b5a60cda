package scheduler

import (
	"strings"

	"rollcall/internal/types"
)

// DenyList drops sessions whose name contains any of its substrings.
// Matching is case-sensitive.
type DenyList []string

// ParseDenyList splits a comma-separated list, trimming whitespace and
// skipping empty entries.
func ParseDenyList(raw string) DenyList {
	var out DenyList
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Denies reports whether name contains a deny-listed substring.
func (d DenyList) Denies(name string) bool {
	for _, sub := range d {
		if sub != "" && strings.Contains(name, sub) {
			return true
		}
	}
	return false
}

// Filter returns the sessions that are not denied, preserving order.
func (d DenyList) Filter(sessions []types.Session) []types.Session {
	out := make([]types.Session, 0, len(sessions))
	for _, s := range sessions {
		if !d.Denies(s.Name) {
			out = append(out, s)
		}
	}
	return out
}
