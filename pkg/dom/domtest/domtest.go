// Package domtest is an in-memory, synthetic implementation of pkg/dom's
// Document/Handle contract, used in place of a real browser DOM in tests.
package domtest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sayverb/voicerouter/pkg/dom"
)

// Element is a synthetic DOM node. Build a tree of Elements and pass the
// root to NewDocument.
type Element struct {
	Tag      string
	ID       string
	Classes  []string
	Attrs    map[string]string
	Text     string
	Hidden   bool
	Rects    []dom.Rect
	Stacking int
	Children []*Element

	// ClickErr / FocusErr / ScrollErr, if non-nil, are returned by the
	// corresponding Handle method.
	ClickErr  error
	FocusErr  error
	ScrollErr error

	// Call counts, populated as the Handle wrapping this element is used.
	ClickCalls  int
	FocusCalls  int
	ScrollCalls int

	docOrder int
	parent   *Element
}

// implicitRoles maps native tags to their implicit ARIA role, used when an
// element has no explicit role attribute.
var implicitRoles = map[string]string{
	"button": "button",
}

// Document is an in-memory dom.Document over a fixed Element tree.
type Document struct {
	root  *Element
	all   []*Element
	byID  map[string]*Element
	label map[string]string // target element id -> associated label text
}

// NewDocument builds a Document from root, assigning document order and
// indexing ids and <label for=...> associations.
func NewDocument(root *Element) *Document {
	d := &Document{root: root, byID: make(map[string]*Element), label: make(map[string]string)}
	d.flatten(root)
	for _, el := range d.all {
		if el.Tag == "label" {
			if forID, ok := el.Attrs["for"]; ok {
				d.label[forID] = el.Text
			}
		}
	}
	return d
}

func (d *Document) flatten(el *Element) {
	el.docOrder = len(d.all)
	d.all = append(d.all, el)
	if el.ID != "" {
		d.byID[el.ID] = el
	}
	for _, c := range el.Children {
		c.parent = el
		d.flatten(c)
	}
}

// QueryAll implements dom.Document.
func (d *Document) QueryAll(selector string) []dom.Handle {
	var out []dom.Handle
	for _, el := range d.all {
		h := &handle{el: el, doc: d}
		if h.Matches(selector) {
			out = append(out, h)
		}
	}
	return out
}

// handle adapts one Element to dom.Handle.
type handle struct {
	el  *Element
	doc *Document
}

var _ dom.Handle = (*handle)(nil)

func (h *handle) TagName() string { return h.el.Tag }

func (h *handle) Attr(name string) (string, bool) {
	v, ok := h.el.Attrs[name]
	return v, ok
}

func (h *handle) Role() (string, bool) {
	if r, ok := h.el.Attrs["role"]; ok {
		return r, true
	}
	if r, ok := implicitRoles[h.el.Tag]; ok {
		return r, true
	}
	return "", false
}

func (h *handle) Text() string { return strings.TrimSpace(h.el.Text) }

func (h *handle) Hidden() bool {
	if h.el.Hidden {
		return true
	}
	if _, ok := h.el.Attrs["hidden"]; ok {
		return true
	}
	if v, ok := h.el.Attrs["aria-hidden"]; ok && v == "true" {
		return true
	}
	return false
}

func (h *handle) Rects() []dom.Rect { return h.el.Rects }

func (h *handle) StackingIndex() int { return h.el.Stacking }

func (h *handle) DocumentOrder() int { return h.el.docOrder }

func (h *handle) LabelledBy() []dom.Handle {
	ids, ok := h.el.Attrs["aria-labelledby"]
	if !ok {
		return nil
	}
	var out []dom.Handle
	for _, id := range strings.Fields(ids) {
		if target, ok := h.doc.byID[id]; ok {
			out = append(out, &handle{el: target, doc: h.doc})
		}
	}
	return out
}

func (h *handle) AssociatedLabel() (string, bool) {
	if h.el.ID != "" {
		if text, ok := h.doc.label[h.el.ID]; ok {
			return strings.TrimSpace(text), true
		}
	}
	for p := h.el.parent; p != nil; p = p.parent {
		if p.Tag == "label" {
			return strings.TrimSpace(p.Text), true
		}
	}
	return "", false
}

func (h *handle) Matches(selector string) bool {
	return dom.MatchesCompoundSelector(h.el.Tag, h.el.ID, h.el.Classes, h.el.Attrs, selector)
}

// Contains reports whether other is h's element or one of its descendants.
func (h *handle) Contains(other dom.Handle) bool {
	o, ok := other.(*handle)
	if !ok {
		return false
	}
	for e := o.el; e != nil; e = e.parent {
		if e == h.el {
			return true
		}
	}
	return false
}

// Equals reports whether other wraps the same underlying Element.
func (h *handle) Equals(other dom.Handle) bool {
	o, ok := other.(*handle)
	if !ok {
		return false
	}
	return o.el == h.el
}

// EnsureID returns the element's data-voice-id, assigning one derived from
// its document order if it does not already have one.
func (h *handle) EnsureID() string {
	if id, ok := h.el.Attrs["data-voice-id"]; ok && id != "" {
		return id
	}
	id := fmt.Sprintf("voice-%d", h.el.docOrder)
	if h.el.Attrs == nil {
		h.el.Attrs = make(map[string]string)
	}
	h.el.Attrs["data-voice-id"] = id
	return id
}

func (h *handle) Click() error {
	h.el.ClickCalls++
	return h.el.ClickErr
}

func (h *handle) Focus() error {
	h.el.FocusCalls++
	return h.el.FocusErr
}

func (h *handle) ScrollIntoView() error {
	h.el.ScrollCalls++
	return h.el.ScrollErr
}

// ErrNotFound is returned by helpers that look an element up by id.
var ErrNotFound = errors.New("domtest: element not found")

// HandleByID returns a Handle for the element with the given id, if present.
func (d *Document) HandleByID(id string) (dom.Handle, error) {
	el, ok := d.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &handle{el: el, doc: d}, nil
}
