// Package domindex builds the Target Index: scope-root selection,
// eligibility/visibility filtering, allow/deny rules, and label derivation
// over the current document.
package domindex

import (
	"strings"

	"github.com/sayverb/voicerouter/internal/label"
	"github.com/sayverb/voicerouter/pkg/dom"
)

// Scope identifies where a Target Index was collected from.
type Scope string

const (
	ScopePage  Scope = "page"
	ScopeModal Scope = "modal"
)

// modalSelectors are tried, in order, when selecting a scope root; every
// match across all of them competes on stacking index / document order.
var modalSelectors = []string{
	`dialog[open]`,
	`[role="dialog"][aria-modal="true"]`,
	`[aria-modal="true"]`,
	`[data-voice-modal="true"]`,
}

// interactiveRoles are the ARIA roles that make an element eligible on
// their own.
var interactiveRoles = map[string]bool{
	"button": true, "link": true, "tab": true, "menuitem": true, "option": true,
}

// Target is one addressable, labeled element.
type Target struct {
	ID              string
	Handle          dom.Handle
	RawLabel        string
	NormalizedLabel string
	Synonyms        []string
	Risk            string // "high" or ""
}

// Index is a single-request snapshot of addressable targets.
type Index struct {
	Targets []Target
	Scope   Scope
}

// Config configures indexing.
type Config struct {
	// GlobalDenySelectors is a configured list of CSS-like selectors that
	// exclude matching elements unless overridden by data-voice-allow.
	GlobalDenySelectors []string
}

// Build computes the Target Index over doc.
func Build(doc dom.Document, cfg Config) Index {
	scopeRoot, scope := selectScopeRoot(doc)

	var targets []Target
	for _, h := range doc.QueryAll("*") {
		if scopeRoot != nil && !scopeRoot.Contains(h) {
			continue
		}
		if scopeRoot != nil && scopeRoot.Equals(h) {
			continue
		}
		if !isEligible(h) || !isVisible(h) {
			continue
		}
		if isDenied(h, cfg.GlobalDenySelectors) {
			continue
		}
		rawLabel, ok := deriveLabel(h)
		if !ok {
			continue
		}
		targets = append(targets, Target{
			ID:              h.EnsureID(),
			Handle:          h,
			RawLabel:        rawLabel,
			NormalizedLabel: label.Normalize(rawLabel),
			Synonyms:        parseSynonyms(h),
			Risk:            riskOf(h),
		})
	}

	return Index{Targets: targets, Scope: scope}
}

// selectScopeRoot finds the topmost visible modal element, if any.
func selectScopeRoot(doc dom.Document) (dom.Handle, Scope) {
	var candidates []dom.Handle
	for _, sel := range modalSelectors {
		for _, h := range doc.QueryAll(sel) {
			if !isVisible(h) || containsHandle(candidates, h) {
				continue
			}
			candidates = append(candidates, h)
		}
	}
	if len(candidates) == 0 {
		return nil, ScopePage
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.StackingIndex() > best.StackingIndex() {
			best = c
			continue
		}
		if c.StackingIndex() == best.StackingIndex() && c.DocumentOrder() > best.DocumentOrder() {
			best = c
		}
	}
	return best, ScopeModal
}

// containsHandle reports whether h refers to the same element as any
// member of handles. Separate Document.QueryAll calls return distinct
// Handle values for the same element, so membership must use Equals, not
// Go's == on the interface values.
func containsHandle(handles []dom.Handle, h dom.Handle) bool {
	for _, c := range handles {
		if c.Equals(h) {
			return true
		}
	}
	return false
}

// isEligible implements the target eligibility rule.
func isEligible(h dom.Handle) bool {
	if _, ok := h.Attr("data-voice-label"); ok {
		return true
	}
	if isNativeInteractive(h) {
		return true
	}
	if role, ok := h.Role(); ok && interactiveRoles[role] {
		return true
	}
	return false
}

func isNativeInteractive(h dom.Handle) bool {
	switch h.TagName() {
	case "button", "select", "textarea", "summary":
		return true
	case "a":
		_, hasHref := h.Attr("href")
		return hasHref
	case "input":
		typ, _ := h.Attr("type")
		return typ != "hidden"
	}
	return false
}

// isVisible implements the target visibility rule.
func isVisible(h dom.Handle) bool {
	if h.Hidden() {
		return false
	}
	for _, r := range h.Rects() {
		if r.Width > 0 && r.Height > 0 {
			return true
		}
	}
	return false
}

// isDenied implements the allow/deny rule.
func isDenied(h dom.Handle, globalDeny []string) bool {
	if v, ok := h.Attr("data-voice-deny"); ok && v == "true" {
		return true
	}
	matchesGlobalDeny := false
	for _, sel := range globalDeny {
		if h.Matches(sel) {
			matchesGlobalDeny = true
			break
		}
	}
	if !matchesGlobalDeny {
		return false
	}
	if v, ok := h.Attr("data-voice-allow"); ok && v == "true" {
		return false
	}
	return true
}

// deriveLabel implements the first-non-empty-wins label chain.
func deriveLabel(h dom.Handle) (string, bool) {
	if v, ok := h.Attr("data-voice-label"); ok && strings.TrimSpace(v) != "" {
		return v, true
	}
	if v, ok := h.Attr("aria-label"); ok && strings.TrimSpace(v) != "" {
		return v, true
	}
	if refs := h.LabelledBy(); len(refs) > 0 {
		var parts []string
		for _, r := range refs {
			if t := strings.TrimSpace(r.Text()); t != "" {
				parts = append(parts, t)
			}
		}
		if joined := strings.Join(parts, " "); joined != "" {
			return joined, true
		}
	}
	if isFormControl(h) {
		if v, ok := h.AssociatedLabel(); ok && strings.TrimSpace(v) != "" {
			return v, true
		}
	}
	if v := strings.TrimSpace(h.Text()); v != "" {
		return v, true
	}
	if isTextEntry(h) {
		if v, ok := h.Attr("placeholder"); ok && strings.TrimSpace(v) != "" {
			return v, true
		}
	}
	if v, ok := h.Attr("title"); ok && strings.TrimSpace(v) != "" {
		return v, true
	}
	return "", false
}

func isFormControl(h dom.Handle) bool {
	switch h.TagName() {
	case "input", "select", "textarea":
		return true
	}
	return false
}

func isTextEntry(h dom.Handle) bool {
	if h.TagName() == "textarea" {
		return true
	}
	if h.TagName() != "input" {
		return false
	}
	typ, ok := h.Attr("type")
	return !ok || typ == "" || typ == "text" || typ == "search" || typ == "email" || typ == "url" || typ == "tel"
}

func parseSynonyms(h dom.Handle) []string {
	v, ok := h.Attr("data-voice-synonyms")
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		n := label.Normalize(p)
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}

func riskOf(h dom.Handle) string {
	if v, ok := h.Attr("data-voice-risk"); ok && v == "high" {
		return "high"
	}
	return ""
}
