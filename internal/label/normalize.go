// Package label implements the pure label-normalization function shared by
// the DOM indexer and the matcher: every label and every transcript is
// compared in normalized form.
package label

import "strings"

// Normalize lower-cases s, trims leading/trailing whitespace, and collapses
// every run of internal whitespace to a single space. It performs no
// punctuation stripping and no Unicode folding.
//
// Normalize is idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
