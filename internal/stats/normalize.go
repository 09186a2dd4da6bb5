package stats

import "strings"

// NormalizeName folds a display name into the key used for every
// case-insensitive comparison: cache keys, join keys and alias matching.
func NormalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
