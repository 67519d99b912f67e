// Package dom defines the browser-DOM collaborator boundary: a minimal,
// read-mostly view over one element plus the handful of side-effecting
// calls the action executor needs. Nothing in this package touches an
// actual browser; a concrete binding would marshal these calls across a
// host boundary (WebAssembly/JS interop or equivalent). The domtest
// subpackage provides an in-memory Document for tests.
package dom

// Rect is a client rectangle in CSS pixels, the same shape returned by
// getBoundingClientRect.
type Rect struct {
	X, Y, Width, Height float64
}

// Handle is a non-owning reference to one DOM element. Handles are only
// valid for the lifetime of the Target Index that produced them; they must
// never be retained across a new index build.
type Handle interface {
	// TagName returns the lower-cased HTML tag name, e.g. "button".
	TagName() string

	// Attr returns the named attribute's value and whether it is present.
	Attr(name string) (string, bool)

	// Role returns the element's effective ARIA role (explicit role
	// attribute, or the implicit role for native elements) and whether one
	// is defined.
	Role() (string, bool)

	// Text returns the element's rendered visible text.
	Text() string

	// Hidden reports whether the element is hidden: the hidden attribute,
	// aria-hidden="true", computed display:none, or computed
	// visibility:hidden.
	Hidden() bool

	// Rects returns the element's client rectangles. An empty slice means
	// the element currently occupies no visible area.
	Rects() []Rect

	// StackingIndex returns a numeric stacking order used to pick the
	// topmost candidate scope root when more than one modal matches.
	StackingIndex() int

	// DocumentOrder returns this element's position in document order,
	// used as the scope-root tie-breaker after StackingIndex.
	DocumentOrder() int

	// LabelledBy resolves the elements referenced by aria-labelledby, in
	// the order listed.
	LabelledBy() []Handle

	// AssociatedLabel returns the <label> text bound to this form control
	// (via a for/id relationship or an ancestor label), if any.
	AssociatedLabel() (string, bool)

	// Matches reports whether the element satisfies selector, a CSS-like
	// compound selector (tag, #id, .class, and [attr] / [attr="value"]
	// terms; no combinators). Used for the configured global deny list.
	Matches(selector string) bool

	// Contains reports whether other is this element or one of its
	// descendants. Used to scope indexing to the selected modal subtree.
	Contains(other Handle) bool

	// Equals reports whether other refers to the same underlying element as
	// this Handle. Two Handle values obtained from separate QueryAll calls
	// may wrap distinct interface values for the same element, so identity
	// must never be tested with ==.
	Equals(other Handle) bool

	// EnsureID returns this element's data-voice-id, assigning and writing
	// one back to the element first if it does not yet have one.
	EnsureID() string

	// Click performs a trusted click on the element.
	Click() error

	// Focus moves input focus to the element.
	Focus() error

	// ScrollIntoView smooth-scrolls the element to the viewport center.
	ScrollIntoView() error
}

// Document is the root collaborator: it resolves every element currently
// in the page (or a subtree) so the indexer can enumerate candidates.
type Document interface {
	// QueryAll returns every element matching selector, in document order.
	QueryAll(selector string) []Handle
}
