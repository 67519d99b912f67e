package dom

import "strings"

// MatchesCompoundSelector reports whether an element, described by tag, id,
// class list, and attribute map, satisfies selector: a compound CSS-like
// selector built from a tag name, #id, .class terms, and [attr] /
// [attr="value"] terms concatenated with no combinators (e.g.
// `button.primary[data-voice-risk="high"]`). It is the shared matcher
// behind every Handle.Matches implementation.
func MatchesCompoundSelector(tag, id string, classes []string, attrs map[string]string, selector string) bool {
	terms := splitCompoundSelector(selector)
	if len(terms) == 0 {
		return false
	}
	classSet := make(map[string]bool, len(classes))
	for _, c := range classes {
		classSet[c] = true
	}

	for _, term := range terms {
		switch {
		case strings.HasPrefix(term, "#"):
			if id != term[1:] {
				return false
			}
		case strings.HasPrefix(term, "."):
			if !classSet[term[1:]] {
				return false
			}
		case strings.HasPrefix(term, "["):
			if !matchesAttrTerm(attrs, term) {
				return false
			}
		case term == "*":
			// matches any tag
		default:
			if !strings.EqualFold(tag, term) {
				return false
			}
		}
	}
	return true
}

// splitCompoundSelector breaks a compound selector into its constituent
// terms: a bare tag name, #id, .class segments, and [attr...] segments.
func splitCompoundSelector(selector string) []string {
	var terms []string
	var cur strings.Builder
	depth := 0
	flush := func() {
		if cur.Len() > 0 {
			terms = append(terms, cur.String())
			cur.Reset()
		}
	}
	for _, r := range selector {
		switch r {
		case '[':
			if depth == 0 {
				flush()
			}
			depth++
			cur.WriteRune(r)
		case ']':
			depth--
			cur.WriteRune(r)
			if depth == 0 {
				flush()
			}
		case '#', '.':
			if depth == 0 {
				flush()
			}
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return terms
}

// matchesAttrTerm evaluates one bracketed attribute term, e.g. `[hidden]`
// or `[data-voice-risk="high"]`, against attrs.
func matchesAttrTerm(attrs map[string]string, term string) bool {
	inner := strings.TrimSuffix(strings.TrimPrefix(term, "["), "]")
	name, want, hasValue := strings.Cut(inner, "=")
	name = strings.TrimSpace(name)
	got, ok := attrs[name]
	if !hasValue {
		return ok
	}
	want = strings.Trim(strings.TrimSpace(want), `"'`)
	return ok && got == want
}
