// Package identity computes cheap structural fingerprints of document
// nodes. A fingerprint detects silent target drift: the situation where a
// reference still resolves, but to a different logical element than the one
// it was recorded against.
//
// Matching is intentionally strict: field-wise equality, no fuzzing, no
// weighting. A false "match" never occurs. False negatives (same
// logical element, changed fingerprint) are accepted as the cost of
// cheapness; nothing here claims structural uniqueness.
package identity

import (
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// previewLen bounds the direct-text preview. Long enough to tell siblings
// apart, short enough that a fingerprint stays a few dozen bytes.
const previewLen = 40

// Fingerprint is a four-field structural snapshot of a node.
type Fingerprint struct {
	Tag       string `json:"tag"`
	Text      string `json:"text"`       // truncated direct-text preview
	Classes   string `json:"classes"`    // sorted class set, space-joined
	ParentTag string `json:"parent_tag"`
}

// Matches reports field-wise equality of two fingerprints.
func (f Fingerprint) Matches(other Fingerprint) bool {
	return f == other
}

// IsZero reports whether the fingerprint carries no information at all.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// Make normalizes raw field values into a Fingerprint. Adapters that read
// the fields from a live document (instead of a parsed tree) go through
// Make so both paths truncate and sort identically.
func Make(tag, text string, classes []string, parentTag string) Fingerprint {
	sorted := make([]string, len(classes))
	copy(sorted, classes)
	sort.Strings(sorted)
	return Fingerprint{
		Tag:       strings.ToLower(tag),
		Text:      truncate(collapseSpace(text)),
		Classes:   strings.Join(sorted, " "),
		ParentTag: strings.ToLower(parentTag),
	}
}

// Of snapshots a node from a parsed HTML tree. Pure and side-effect-free.
func Of(n *html.Node) Fingerprint {
	if n == nil || n.Type != html.ElementNode {
		return Fingerprint{}
	}
	parent := ""
	if p := n.Parent; p != nil && p.Type == html.ElementNode {
		parent = p.Data
	}
	return Make(n.Data, directText(n), strings.Fields(attrValue(n, "class")), parent)
}

// directText concatenates the node's immediate text children only.
// Descendant text is deliberately excluded: a child rewrite should not
// change the identity of the parent.
func directText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string) string {
	if len(s) <= previewLen {
		return s
	}
	return s[:previewLen]
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
