// Package action implements the action executor: given a resolved target,
// perform the default action for its element kind. Execution never retries.
package action

import (
	"github.com/sayverb/voicerouter/internal/domindex"
	"github.com/sayverb/voicerouter/pkg/dom"
)

// Kind identifies the action performed on a target.
type Kind string

const (
	KindClick       Kind = "click"
	KindActivate    Kind = "activate"
	KindFocus       Kind = "focus"
	KindScrollFocus Kind = "scroll_focus"
)

// Result reports the outcome of Execute.
type Result struct {
	Action Kind
	OK     bool
	Error  string
}

// Execute performs the default action for target.Handle's element kind and
// reports the outcome. It never retries.
func Execute(target domindex.Target) Result {
	action := DefaultAction(target.Handle)
	var err error
	switch action {
	case KindClick, KindActivate:
		err = target.Handle.Click()
	case KindFocus:
		err = target.Handle.Focus()
	case KindScrollFocus:
		if err = target.Handle.ScrollIntoView(); err == nil {
			err = target.Handle.Focus()
		}
	}
	if err != nil {
		return Result{Action: action, OK: false, Error: err.Error()}
	}
	return Result{Action: action, OK: true}
}

// DefaultAction implements the element-kind dispatch table.
func DefaultAction(h dom.Handle) Kind {
	role, hasRole := h.Role()
	switch h.TagName() {
	case "button":
		return KindClick
	case "a":
		if _, hasHref := h.Attr("href"); hasHref {
			return KindClick
		}
	case "summary":
		return KindActivate
	case "input", "select", "textarea":
		return KindFocus
	}
	if hasRole {
		switch role {
		case "button", "link":
			return KindClick
		case "tab", "menuitem", "option":
			return KindActivate
		}
	}
	return KindScrollFocus
}
