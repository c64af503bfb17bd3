package cloud

import "strings"

// NormalizeObjectKey trims the key, converts backslashes to slashes and
// strips leading and duplicate slashes.
func NormalizeObjectKey(key string) string {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	key = strings.TrimPrefix(key, "/")
	for strings.Contains(key, "//") {
		key = strings.ReplaceAll(key, "//", "/")
	}
	return key
}
