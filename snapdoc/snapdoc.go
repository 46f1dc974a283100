// Package snapdoc adapts a static HTML snapshot to the staging document
// operations. It backs the offline mode: selector resolution, identity
// fingerprints, and style reads all run against a parsed tree instead of a
// live browser page.
package snapdoc

import (
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/domstage/identity"
	"github.com/hazyhaar/domstage/selector"
)

// Doc wraps a parsed HTML document. A snapshot never mutates, so all
// operations are safe for concurrent use.
type Doc struct {
	root *html.Node
	url  string
}

// Parse reads and parses an HTML snapshot.
func Parse(r io.Reader, url string) (*Doc, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("snapdoc: parse: %w", err)
	}
	return &Doc{root: root, url: url}, nil
}

// ParseString parses an HTML snapshot held in memory.
func ParseString(s, url string) (*Doc, error) {
	return Parse(strings.NewReader(s), url)
}

// URL returns the address the snapshot was captured from.
func (d *Doc) URL() string { return d.url }

// Resolve reports how a selector matches against the snapshot.
func (d *Doc) Resolve(_ context.Context, ref string) (selector.Status, int, error) {
	res := selector.Resolve(d.root, ref)
	if res.Err != nil && res.Status != selector.StatusInvalid {
		return res.Status, res.MatchCount, res.Err
	}
	return res.Status, res.MatchCount, nil
}

// Fingerprint computes the identity fingerprint of the element the
// selector uniquely resolves to. ok is false when resolution is not
// unique.
func (d *Doc) Fingerprint(_ context.Context, ref string) (identity.Fingerprint, bool, error) {
	res := selector.Resolve(d.root, ref)
	if res.Status != selector.StatusUnique {
		return identity.Fingerprint{}, false, nil
	}
	return identity.Of(res.Node), true, nil
}

// ReadStyle returns the current value of a CSS property on the element
// the selector uniquely resolves to. For a static snapshot only inline
// styles are visible; an unset property reads as "".
func (d *Doc) ReadStyle(_ context.Context, ref, property string) (string, error) {
	res := selector.Resolve(d.root, ref)
	if res.Status == selector.StatusInvalid {
		return "", fmt.Errorf("snapdoc: read style: %w", res.Err)
	}
	if res.Status != selector.StatusUnique {
		return "", fmt.Errorf("snapdoc: read style: selector %q is not unique (%s)", ref, res.Status)
	}
	return inlineStyle(res.Node, property), nil
}

// OuterHTML serializes the element the selector uniquely resolves to.
func (d *Doc) OuterHTML(_ context.Context, ref string) (string, error) {
	res := selector.Resolve(d.root, ref)
	if res.Status != selector.StatusUnique {
		return "", fmt.Errorf("snapdoc: outer html: selector %q is not unique (%s)", ref, res.Status)
	}
	var buf strings.Builder
	if err := html.Render(&buf, res.Node); err != nil {
		return "", fmt.Errorf("snapdoc: outer html: %w", err)
	}
	return buf.String(), nil
}

// Synthesize builds a selector for the element the given reference
// resolves to, preferring stable anchors over positional paths.
func (d *Doc) Synthesize(_ context.Context, ref string) (string, error) {
	res := selector.Resolve(d.root, ref)
	if res.Status != selector.StatusUnique {
		return "", fmt.Errorf("snapdoc: synthesize: selector %q is not unique (%s)", ref, res.Status)
	}
	out, err := selector.Synthesize(d.root, res.Node)
	if err != nil {
		return "", fmt.Errorf("snapdoc: synthesize: %w", err)
	}
	return out, nil
}

// inlineStyle extracts one property from a style attribute. Declarations
// are split naively on ";" which is fine for the value grammar inline
// styles actually use.
func inlineStyle(n *html.Node, property string) string {
	var style string
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, "style") {
			style = a.Val
			break
		}
	}
	if style == "" {
		return ""
	}
	want := strings.ToLower(strings.TrimSpace(property))
	var value string
	for _, decl := range strings.Split(style, ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		if strings.ToLower(strings.TrimSpace(k)) == want {
			// Last declaration wins, like the browser.
			value = strings.TrimSpace(v)
		}
	}
	return value
}
