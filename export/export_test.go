package export

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/domstage/identity"
	"github.com/hazyhaar/domstage/patch"
	"github.com/hazyhaar/domstage/selector"
)

// fakeDoc is a canned Source keyed by reference.
type fakeDoc struct {
	status map[string]selector.Status
	count  map[string]int
	fps    map[string]identity.Fingerprint
	errs   map[string]error
}

func (f *fakeDoc) Resolve(_ context.Context, ref string) (selector.Status, int, error) {
	if err := f.errs[ref]; err != nil {
		return selector.StatusNotFound, 0, err
	}
	st, ok := f.status[ref]
	if !ok {
		return selector.StatusNotFound, 0, nil
	}
	return st, f.count[ref], nil
}

func mustBuild(t *testing.T, doc Source, in BuildInput) *Artifact {
	t.Helper()
	a, err := Build(context.Background(), doc, in, time.Now())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return a
}

func (f *fakeDoc) Fingerprint(_ context.Context, ref string) (identity.Fingerprint, bool, error) {
	fp, ok := f.fps[ref]
	return fp, ok, nil
}

func fp(text string) identity.Fingerprint {
	return identity.Make("div", text, []string{"a"}, "body")
}

func verified(sel, prop, val string, f identity.Fingerprint) *patch.Patch {
	return &patch.Patch{
		ID: "p_" + sel, Selector: sel, Property: prop, Value: val,
		CreatedAt:   time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		Fingerprint: &f,
	}
}

func TestBuildFreezesConfidenceAndVersion(t *testing.T) {
	doc := &fakeDoc{
		status: map[string]selector.Status{"#hero": selector.StatusUnique},
		count:  map[string]int{"#hero": 1},
		fps:    map[string]identity.Fingerprint{"#hero": fp("x")},
	}
	in := BuildInput{
		PageURL:  "https://example.com/page",
		Viewport: Viewport{Width: 1280, Height: 800},
		Patches:  []*patch.Patch{verified("#hero", "color", "red", fp("x"))},
	}

	a := mustBuild(t, doc, in)
	if a.ExportVersion != Version {
		t.Errorf("ExportVersion = %q", a.ExportVersion)
	}
	if len(a.Patches) != 1 {
		t.Fatalf("patches = %d, want 1", len(a.Patches))
	}
	if a.Patches[0].SelectorConfidence != selector.ConfidenceHigh {
		t.Errorf("confidence = %v, want high", a.Patches[0].SelectorConfidence)
	}
	if len(a.Warnings) != 0 {
		t.Errorf("unexpected warnings: %+v", a.Warnings)
	}
}

func TestBuildDropsUnverifiedWithWarning(t *testing.T) {
	doc := &fakeDoc{status: map[string]selector.Status{}}
	in := BuildInput{
		PageURL:  "https://example.com/",
		Viewport: Viewport{1, 1},
		Patches: []*patch.Patch{
			{ID: "legacy", Selector: ".old", Property: "color", Value: "blue", CreatedAt: time.Now()},
		},
	}

	a := mustBuild(t, doc, in)
	if len(a.Patches) != 0 {
		t.Fatalf("unverified patch included in export")
	}
	if len(a.Warnings) != 1 || a.Warnings[0].Code != WarnUnverifiedDropped {
		t.Fatalf("warnings = %+v, want one %s", a.Warnings, WarnUnverifiedDropped)
	}
	if len(a.Warnings[0].AffectedSelectors) != 1 || a.Warnings[0].AffectedSelectors[0] != ".old" {
		t.Errorf("affected = %v", a.Warnings[0].AffectedSelectors)
	}
}

func TestBuildDetectsIdentityDrift(t *testing.T) {
	doc := &fakeDoc{
		status: map[string]selector.Status{"#hero": selector.StatusUnique},
		count:  map[string]int{"#hero": 1},
		fps:    map[string]identity.Fingerprint{"#hero": fp("rewritten")},
	}
	in := BuildInput{
		PageURL:  "https://example.com/",
		Viewport: Viewport{1, 1},
		Patches:  []*patch.Patch{verified("#hero", "color", "red", fp("original"))},
	}

	a := mustBuild(t, doc, in)
	if !hasCode(a, WarnIdentityDrift) {
		t.Fatalf("identity drift not reported: %+v", a.Warnings)
	}
	if !a.HasCritical() {
		t.Error("identity drift must count as critical")
	}
	// The patch itself is still exported; drift is a warning, not a filter.
	if len(a.Patches) != 1 {
		t.Errorf("patches = %d, want 1", len(a.Patches))
	}
}

func TestBuildClassifiesResolutionWarnings(t *testing.T) {
	doc := &fakeDoc{
		status: map[string]selector.Status{
			".many": selector.StatusAmbiguous,
			".gone": selector.StatusNotFound,
			"p:nth-of-type(2)": selector.StatusUnique,
		},
		count: map[string]int{".many": 3, "p:nth-of-type(2)": 1},
		fps:   map[string]identity.Fingerprint{"p:nth-of-type(2)": fp("x")},
	}
	in := BuildInput{
		PageURL:  "https://example.com/",
		Viewport: Viewport{1, 1},
		Patches: []*patch.Patch{
			verified(".many", "color", "red", fp("x")),
			verified(".gone", "color", "red", fp("x")),
			verified("p:nth-of-type(2)", "color", "red", fp("x")),
		},
	}

	a := mustBuild(t, doc, in)
	for _, code := range []WarningCode{WarnAmbiguous, WarnNotFound, WarnLowConfidence} {
		if !hasCode(a, code) {
			t.Errorf("missing warning %s: %+v", code, a.Warnings)
		}
	}
	// Ambiguous forces low confidence on the frozen label.
	if a.Patches[0].SelectorConfidence != selector.ConfidenceLow {
		t.Errorf("ambiguous patch confidence = %v, want low", a.Patches[0].SelectorConfidence)
	}
	// Positional selector is low by shape even though unique.
	if a.Patches[2].SelectorConfidence != selector.ConfidenceLow {
		t.Errorf("positional patch confidence = %v, want low", a.Patches[2].SelectorConfidence)
	}
}

func TestBuildReportsSelectedTarget(t *testing.T) {
	doc := &fakeDoc{status: map[string]selector.Status{".sel": selector.StatusAmbiguous}, count: map[string]int{".sel": 2}}
	in := BuildInput{PageURL: "https://example.com/", Viewport: Viewport{1, 1}, Selected: ".sel"}

	a := mustBuild(t, doc, in)
	if !hasCode(a, WarnAmbiguous) {
		t.Errorf("selected-target ambiguity not surfaced: %+v", a.Warnings)
	}
}

func TestBuildAbortsOnResolveFailure(t *testing.T) {
	doc := &fakeDoc{
		errs: map[string]error{"#hero": errors.New("page connection lost")},
	}
	in := BuildInput{
		PageURL:  "https://example.com/",
		Viewport: Viewport{1, 1},
		Patches:  []*patch.Patch{verified("#hero", "color", "red", fp("x"))},
	}

	a, err := Build(context.Background(), doc, in, time.Now())
	if err == nil {
		t.Fatal("resolution failure must abort the build, not report not-found")
	}
	if a != nil {
		t.Fatalf("artifact = %+v, want nil on failure", a)
	}
}

func TestBuildProducesFreshValues(t *testing.T) {
	doc := &fakeDoc{status: map[string]selector.Status{}}
	in := BuildInput{PageURL: "https://example.com/", Viewport: Viewport{1, 1}}
	a := mustBuild(t, doc, in)
	b := mustBuild(t, doc, in)
	a.PageURL = "mutated"
	if b.PageURL != "https://example.com/" {
		t.Error("artifacts share state across builds")
	}
}

func hasCode(a *Artifact, code WarningCode) bool {
	for _, w := range a.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}
