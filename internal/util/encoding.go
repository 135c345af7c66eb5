package util

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeIdentifier folds compatibility forms of a login identifier and
// trims surrounding whitespace. Case is preserved.
func NormalizeIdentifier(s string) string {
	return strings.TrimSpace(norm.NFKC.String(s))
}
