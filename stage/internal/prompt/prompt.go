// Package prompt renders the provider payload for a generation attempt.
// The export artifact carries the structured patch list; this package
// turns it into the text the provider consumes, with the captured target
// HTML sanitized and rendered as markdown context.
package prompt

import (
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/domstage/export"
)

// System is the fixed instruction framing every generation attempt.
const System = "You translate captured visual edits into source changes. " +
	"Each patch names a CSS selector, the property changed, and the original and final values. " +
	"Apply exactly the listed changes; do not invent additional edits."

// Builder assembles provider payloads.
type Builder struct {
	policy    *bluemonday.Policy
	converter *converter.Converter
}

// NewBuilder creates a Builder with a UGC sanitization policy and a
// commonmark converter.
func NewBuilder() *Builder {
	return &Builder{
		policy: bluemonday.UGCPolicy(),
		converter: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
	}
}

// Input is everything a payload is built from.
type Input struct {
	Artifact *export.Artifact
	// TargetHTML is the captured outer HTML of the selected element, used
	// as context. May be empty.
	TargetHTML string
	// Notes are free-form user instructions accompanying the attempt.
	Notes string
	// Repository describes the source repository in repository mode.
	Repository string
}

// Build renders the payload text.
func (b *Builder) Build(in Input) (string, error) {
	if in.Artifact == nil {
		return "", fmt.Errorf("prompt: artifact is required")
	}
	a := in.Artifact

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Visual edits captured on %s\n\n", a.PageURL)
	fmt.Fprintf(&sb, "Captured at %s, viewport %dx%d.\n\n", a.CapturedAt, a.Viewport.Width, a.Viewport.Height)

	sb.WriteString("## Patches\n\n")
	for i, p := range a.Patches {
		orig := "(unset)"
		if p.OriginalValue != nil {
			orig = *p.OriginalValue
		}
		fmt.Fprintf(&sb, "%d. `%s` { %s: %s } (was: %s, selector confidence: %s)\n",
			i+1, p.Selector, p.Property, p.FinalValue, orig, p.SelectorConfidence)
	}

	if len(a.Warnings) > 0 {
		sb.WriteString("\n## Warnings\n\n")
		for _, w := range a.Warnings {
			fmt.Fprintf(&sb, "- %s: %s", w.Code, w.Message)
			if len(w.AffectedSelectors) > 0 {
				fmt.Fprintf(&sb, " (%s)", strings.Join(w.AffectedSelectors, ", "))
			}
			sb.WriteString("\n")
		}
	}

	if in.TargetHTML != "" {
		md, err := b.markdown(in.TargetHTML, a.PageURL)
		if err != nil {
			return "", err
		}
		if md != "" {
			sb.WriteString("\n## Target element context\n\n")
			sb.WriteString(md)
			sb.WriteString("\n")
		}
	}

	if in.Repository != "" {
		fmt.Fprintf(&sb, "\n## Repository\n\n%s\n", in.Repository)
	}
	if in.Notes != "" {
		fmt.Fprintf(&sb, "\n## Notes\n\n%s\n", in.Notes)
	}
	return sb.String(), nil
}

// markdown sanitizes untrusted page HTML before converting it, so script
// bodies and event handlers never reach the provider.
func (b *Builder) markdown(html, pageURL string) (string, error) {
	clean := b.policy.Sanitize(html)
	md, err := b.converter.ConvertString(clean, converter.WithDomain(pageURL))
	if err != nil {
		return "", fmt.Errorf("prompt: convert context: %w", err)
	}
	return strings.TrimSpace(md), nil
}
