// Package export assembles and validates the versioned hand-off artifact.
// An artifact is built on demand from the applied patch history plus a live
// look at the document: every patch's selector is re-resolved, its
// confidence frozen at export time, and its recorded identity fingerprint
// compared against the live one. Artifacts are immutable; each call
// produces a fresh value.
package export

import (
	"context"
	"fmt"
	"time"

	"github.com/hazyhaar/domstage/identity"
	"github.com/hazyhaar/domstage/patch"
	"github.com/hazyhaar/domstage/selector"
)

// Version tags the artifact schema. Consumers must reject any payload
// whose exportVersion differs.
const Version = "1.0.0"

// WarningCode enumerates the conditions an export can carry.
type WarningCode string

const (
	WarnLowConfidence     WarningCode = "low_confidence_selector"
	WarnAmbiguous         WarningCode = "ambiguous_selector"
	WarnNotFound          WarningCode = "selector_not_found"
	WarnInvalidSelector   WarningCode = "invalid_selector"
	WarnIdentityDrift     WarningCode = "identity_drift"
	WarnUnverifiedDropped WarningCode = "unverified_patch_dropped"
)

// Valid reports whether c is one of the enumerated codes.
func (c WarningCode) Valid() bool {
	switch c {
	case WarnLowConfidence, WarnAmbiguous, WarnNotFound,
		WarnInvalidSelector, WarnIdentityDrift, WarnUnverifiedDropped:
		return true
	}
	return false
}

// Critical reports whether the condition makes the export untrustworthy
// without an explicit user acknowledgment.
func (c WarningCode) Critical() bool {
	switch c {
	case WarnAmbiguous, WarnNotFound, WarnInvalidSelector, WarnIdentityDrift:
		return true
	}
	return false
}

// Warning is one reportable export condition.
type Warning struct {
	Code              WarningCode `json:"code"`
	Message           string      `json:"message"`
	AffectedSelectors []string    `json:"affectedSelectors,omitempty"`
}

// Viewport records the capture viewport in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Entry is one finalized patch inside an artifact, with its confidence
// label frozen at export time.
type Entry struct {
	Selector           string              `json:"selector"`
	Property           string              `json:"property"`
	OriginalValue      *string             `json:"originalValue"`
	FinalValue         string              `json:"finalValue"`
	SelectorConfidence selector.Confidence `json:"selectorConfidence"`
	CapturedAt         string              `json:"capturedAt"`
}

// Artifact is the versioned, immutable hand-off payload.
type Artifact struct {
	ExportVersion string    `json:"exportVersion"`
	CapturedAt    string    `json:"capturedAt"`
	PageURL       string    `json:"pageUrl"`
	Viewport      Viewport  `json:"viewport"`
	Patches       []Entry   `json:"patches"`
	Warnings      []Warning `json:"warnings"`
}

// HasCritical reports whether any warning carries a critical code.
func (a *Artifact) HasCritical() bool {
	for _, w := range a.Warnings {
		if w.Code.Critical() {
			return true
		}
	}
	return false
}

// Source is the narrow live-document view an export needs: re-resolution
// and fingerprinting. Both the static snapshot adapter and the rod-backed
// live adapter satisfy it.
type Source interface {
	Resolve(ctx context.Context, ref string) (selector.Status, int, error)
	Fingerprint(ctx context.Context, ref string) (identity.Fingerprint, bool, error)
}

// BuildInput carries everything an export is assembled from.
type BuildInput struct {
	PageURL  string
	Viewport Viewport
	Patches  []*patch.Patch // applied history, oldest first
	Selected string         // current selection reference, may be empty
}

// Build assembles a fresh artifact. Patches lacking a fingerprint are
// excluded and reported; every included patch is re-resolved against doc
// to freeze its confidence and detect identity drift. A resolution that
// fails outright (the document adapter could not be asked) aborts the
// build: a selector that merely matches nothing is a warning, a transport
// failure is not.
func Build(ctx context.Context, doc Source, in BuildInput, now time.Time) (*Artifact, error) {
	a := &Artifact{
		ExportVersion: Version,
		CapturedAt:    now.UTC().Format(time.RFC3339),
		PageURL:       in.PageURL,
		Viewport:      in.Viewport,
		Patches:       []Entry{},
		Warnings:      []Warning{},
	}

	byCode := map[WarningCode][]string{}

	for _, p := range in.Patches {
		if !p.Verified() {
			byCode[WarnUnverifiedDropped] = append(byCode[WarnUnverifiedDropped], p.Selector)
			continue
		}

		status, matches, err := doc.Resolve(ctx, p.Selector)
		if err != nil {
			return nil, fmt.Errorf("export: resolve %q: %w", p.Selector, err)
		}
		switch status {
		case selector.StatusAmbiguous:
			byCode[WarnAmbiguous] = append(byCode[WarnAmbiguous], p.Selector)
		case selector.StatusNotFound:
			byCode[WarnNotFound] = append(byCode[WarnNotFound], p.Selector)
		case selector.StatusInvalid:
			byCode[WarnInvalidSelector] = append(byCode[WarnInvalidSelector], p.Selector)
		case selector.StatusUnique:
			if live, ok, err := doc.Fingerprint(ctx, p.Selector); err == nil && ok {
				if !live.Matches(*p.Fingerprint) {
					byCode[WarnIdentityDrift] = append(byCode[WarnIdentityDrift], p.Selector)
				}
			}
		}

		conf := selector.Score(p.Selector, matches)
		if conf == selector.ConfidenceLow {
			byCode[WarnLowConfidence] = append(byCode[WarnLowConfidence], p.Selector)
		}

		a.Patches = append(a.Patches, Entry{
			Selector:           p.Selector,
			Property:           p.Property,
			OriginalValue:      p.Original,
			FinalValue:         p.Value,
			SelectorConfidence: conf,
			CapturedAt:         p.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	if in.Selected != "" {
		status, _, err := doc.Resolve(ctx, in.Selected)
		if err != nil {
			return nil, fmt.Errorf("export: resolve %q: %w", in.Selected, err)
		}
		switch status {
		case selector.StatusAmbiguous:
			byCode[WarnAmbiguous] = append(byCode[WarnAmbiguous], in.Selected)
		case selector.StatusNotFound:
			byCode[WarnNotFound] = append(byCode[WarnNotFound], in.Selected)
		case selector.StatusInvalid:
			byCode[WarnInvalidSelector] = append(byCode[WarnInvalidSelector], in.Selected)
		}
	}

	// Stable warning order regardless of map iteration.
	for _, code := range []WarningCode{
		WarnInvalidSelector, WarnNotFound, WarnAmbiguous,
		WarnIdentityDrift, WarnLowConfidence, WarnUnverifiedDropped,
	} {
		sels, present := byCode[code]
		if !present {
			continue
		}
		a.Warnings = append(a.Warnings, Warning{
			Code:              code,
			Message:           warningMessage(code),
			AffectedSelectors: dedupe(sels),
		})
	}

	return a, nil
}

func warningMessage(code WarningCode) string {
	switch code {
	case WarnLowConfidence:
		return "selector is position-dependent or matches multiple nodes; it may break on document changes"
	case WarnAmbiguous:
		return "selector no longer resolves to a single node"
	case WarnNotFound:
		return "selector no longer matches any node"
	case WarnInvalidSelector:
		return "selector is not syntactically valid"
	case WarnIdentityDrift:
		return "target resolves but its identity fingerprint changed since capture"
	case WarnUnverifiedDropped:
		return "patch recorded without an identity fingerprint was excluded from the export"
	default:
		return string(code)
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
