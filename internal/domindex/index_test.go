package domindex

import (
	"testing"

	"github.com/sayverb/voicerouter/pkg/dom"
	"github.com/sayverb/voicerouter/pkg/dom/domtest"
)

func visibleRect() []dom.Rect {
	return []dom.Rect{{X: 0, Y: 0, Width: 100, Height: 40}}
}

func findByLabel(t *testing.T, idx Index, label string) Target {
	t.Helper()
	for _, tgt := range idx.Targets {
		if tgt.NormalizedLabel == label {
			return tgt
		}
	}
	t.Fatalf("no target with normalized label %q in %+v", label, idx.Targets)
	return Target{}
}

func TestBuild_IndexesNativeInteractiveElements(t *testing.T) {
	root := &domtest.Element{Tag: "div", Children: []*domtest.Element{
		{Tag: "button", Text: "Save", Rects: visibleRect()},
		{Tag: "a", Attrs: map[string]string{"href": "/x"}, Text: "Go home", Rects: visibleRect()},
		{Tag: "span", Text: "Not interactive", Rects: visibleRect()},
	}}
	doc := domtest.NewDocument(root)

	idx := Build(doc, Config{})

	if idx.Scope != ScopePage {
		t.Errorf("Scope = %q, want %q", idx.Scope, ScopePage)
	}
	if len(idx.Targets) != 2 {
		t.Fatalf("Targets = %d, want 2 (got %+v)", len(idx.Targets), idx.Targets)
	}
	findByLabel(t, idx, "save")
	findByLabel(t, idx, "go home")
}

func TestBuild_ExcludesHiddenElements(t *testing.T) {
	root := &domtest.Element{Tag: "div", Children: []*domtest.Element{
		{Tag: "button", Text: "Visible", Rects: visibleRect()},
		{Tag: "button", Text: "Hidden", Rects: visibleRect(), Attrs: map[string]string{"hidden": ""}},
		{Tag: "button", Text: "NoRect"},
	}}
	doc := domtest.NewDocument(root)

	idx := Build(doc, Config{})
	if len(idx.Targets) != 1 {
		t.Fatalf("Targets = %d, want 1 (got %+v)", len(idx.Targets), idx.Targets)
	}
	if idx.Targets[0].RawLabel != "Visible" {
		t.Errorf("RawLabel = %q, want %q", idx.Targets[0].RawLabel, "Visible")
	}
}

func TestBuild_DataVoiceDenyExcludesUnconditionally(t *testing.T) {
	root := &domtest.Element{Tag: "div", Children: []*domtest.Element{
		{Tag: "button", Text: "Denied", Rects: visibleRect(), Attrs: map[string]string{
			"data-voice-deny": "true", "data-voice-allow": "true",
		}},
	}}
	doc := domtest.NewDocument(root)

	idx := Build(doc, Config{})
	if len(idx.Targets) != 0 {
		t.Fatalf("expected explicit deny to exclude even with allow set, got %+v", idx.Targets)
	}
}

func TestBuild_GlobalDenyOverriddenByAllow(t *testing.T) {
	root := &domtest.Element{Tag: "div", Children: []*domtest.Element{
		{Tag: "button", ID: "ad1", Text: "Ad", Rects: visibleRect(), Classes: []string{"ad"}},
		{Tag: "button", ID: "ad2", Text: "Allowed ad", Rects: visibleRect(), Classes: []string{"ad"},
			Attrs: map[string]string{"data-voice-allow": "true"}},
	}}
	doc := domtest.NewDocument(root)

	idx := Build(doc, Config{GlobalDenySelectors: []string{".ad"}})
	if len(idx.Targets) != 1 {
		t.Fatalf("Targets = %d, want 1 (got %+v)", len(idx.Targets), idx.Targets)
	}
	if idx.Targets[0].RawLabel != "Allowed ad" {
		t.Errorf("RawLabel = %q, want %q", idx.Targets[0].RawLabel, "Allowed ad")
	}
}

func TestBuild_LabelDerivationPriority(t *testing.T) {
	root := &domtest.Element{Tag: "div", Children: []*domtest.Element{
		{Tag: "button", Text: "visible text", Rects: visibleRect(), Attrs: map[string]string{
			"data-voice-label": "override wins", "aria-label": "aria label", "title": "title text",
		}},
	}}
	doc := domtest.NewDocument(root)

	idx := Build(doc, Config{})
	tgt := findByLabel(t, idx, "override wins")
	if tgt.RawLabel != "override wins" {
		t.Errorf("RawLabel = %q, want %q", tgt.RawLabel, "override wins")
	}
}

func TestBuild_FallsBackToPlaceholderThenTitle(t *testing.T) {
	root := &domtest.Element{Tag: "div", Children: []*domtest.Element{
		{Tag: "input", ID: "search", Rects: visibleRect(), Attrs: map[string]string{"placeholder": "Search the site"}},
		{Tag: "button", Rects: visibleRect(), Attrs: map[string]string{"title": "Close dialog"}},
	}}
	doc := domtest.NewDocument(root)

	idx := Build(doc, Config{})
	findByLabel(t, idx, "search the site")
	findByLabel(t, idx, "close dialog")
}

func TestBuild_SkipsElementsWithNoDerivableLabel(t *testing.T) {
	root := &domtest.Element{Tag: "div", Children: []*domtest.Element{
		{Tag: "button", Rects: visibleRect()},
	}}
	doc := domtest.NewDocument(root)

	idx := Build(doc, Config{})
	if len(idx.Targets) != 0 {
		t.Fatalf("expected element with no derivable label to be skipped, got %+v", idx.Targets)
	}
}

func TestBuild_ScopesToTopmostVisibleModal(t *testing.T) {
	root := &domtest.Element{Tag: "div", Children: []*domtest.Element{
		{Tag: "button", Text: "Background action", Rects: visibleRect()},
		{Tag: "div", ID: "modal", Attrs: map[string]string{"role": "dialog", "aria-modal": "true"}, Rects: visibleRect(),
			Children: []*domtest.Element{
				{Tag: "button", Text: "Confirm", Rects: visibleRect()},
			},
		},
	}}
	doc := domtest.NewDocument(root)

	idx := Build(doc, Config{})
	if idx.Scope != ScopeModal {
		t.Fatalf("Scope = %q, want %q", idx.Scope, ScopeModal)
	}
	if len(idx.Targets) != 1 || idx.Targets[0].RawLabel != "Confirm" {
		t.Fatalf("expected only the modal's Confirm button indexed, got %+v", idx.Targets)
	}
}

func TestBuild_ScopeRootIsNeverIndexedAsItsOwnTarget(t *testing.T) {
	root := &domtest.Element{Tag: "div", Children: []*domtest.Element{
		{Tag: "button", Text: "Background action", Rects: visibleRect()},
		{
			Tag: "div", ID: "modal", Rects: visibleRect(),
			Attrs: map[string]string{"data-voice-modal": "true", "data-voice-label": "Settings"},
			Children: []*domtest.Element{
				{Tag: "button", Text: "Confirm", Rects: visibleRect()},
			},
		},
	}}
	doc := domtest.NewDocument(root)

	idx := Build(doc, Config{})
	if idx.Scope != ScopeModal {
		t.Fatalf("Scope = %q, want %q", idx.Scope, ScopeModal)
	}
	for _, tgt := range idx.Targets {
		if tgt.RawLabel == "Settings" {
			t.Fatalf("scope root itself must not be indexed as a target, got %+v", idx.Targets)
		}
	}
	if len(idx.Targets) != 1 || idx.Targets[0].RawLabel != "Confirm" {
		t.Fatalf("expected only the modal's Confirm button indexed, got %+v", idx.Targets)
	}
}

func TestBuild_SynonymsAreParsedAndNormalized(t *testing.T) {
	root := &domtest.Element{Tag: "div", Children: []*domtest.Element{
		{Tag: "button", Text: "Save", Rects: visibleRect(), Attrs: map[string]string{
			"data-voice-synonyms": "Store,  SAVE FILE ,submit",
		}},
	}}
	doc := domtest.NewDocument(root)

	idx := Build(doc, Config{})
	tgt := findByLabel(t, idx, "save")
	want := []string{"store", "save file", "submit"}
	if len(tgt.Synonyms) != len(want) {
		t.Fatalf("Synonyms = %v, want %v", tgt.Synonyms, want)
	}
	for i, w := range want {
		if tgt.Synonyms[i] != w {
			t.Errorf("Synonyms[%d] = %q, want %q", i, tgt.Synonyms[i], w)
		}
	}
}

func TestBuild_RiskMarkerIsCaptured(t *testing.T) {
	root := &domtest.Element{Tag: "div", Children: []*domtest.Element{
		{Tag: "button", Text: "Delete account", Rects: visibleRect(), Attrs: map[string]string{"data-voice-risk": "high"}},
	}}
	doc := domtest.NewDocument(root)

	idx := Build(doc, Config{})
	tgt := findByLabel(t, idx, "delete account")
	if tgt.Risk != "high" {
		t.Errorf("Risk = %q, want %q", tgt.Risk, "high")
	}
}

func TestBuild_StableIDAssignedWhenAbsent(t *testing.T) {
	root := &domtest.Element{Tag: "div", Children: []*domtest.Element{
		{Tag: "button", Text: "Save", Rects: visibleRect()},
	}}
	doc := domtest.NewDocument(root)

	idx := Build(doc, Config{})
	tgt := findByLabel(t, idx, "save")
	if tgt.ID == "" {
		t.Error("expected a stable id to be assigned")
	}
	h, _ := tgt.Handle.Attr("data-voice-id")
	if h != tgt.ID {
		t.Errorf("data-voice-id attribute = %q, want it to match Target.ID %q", h, tgt.ID)
	}
}
