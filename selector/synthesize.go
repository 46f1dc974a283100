package selector

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// testAttrs are attributes that exist solely to give tests and tooling a
// stable handle on an element. They are the most trustworthy anchor a
// reference can have.
var testAttrs = []string{"data-testid", "data-test", "data-cy"}

func isTestAttr(key string) bool {
	for _, a := range testAttrs {
		if key == a {
			return true
		}
	}
	return false
}

// Synthesize builds a reference that resolves to exactly n within doc at
// the time of the call. Priority order, first success wins:
//
//  1. a recognized test attribute whose value resolves uniquely back to n
//  2. the node's own id, same uniqueness check
//  3. a structural path walked up from n, each step annotated with its
//     1-based same-tag sibling position when siblings make it ambiguous,
//     cut short at any ancestor whose id still resolves uniquely
//
// No guarantee survives arbitrary future document mutation; that risk is
// what the confidence label communicates.
func Synthesize(doc *html.Node, n *html.Node) (string, error) {
	if n == nil || n.Type != html.ElementNode {
		return "", fmt.Errorf("selector: synthesize requires an element node")
	}

	for _, key := range testAttrs {
		if v := attrValue(n, key); v != "" {
			ref := fmt.Sprintf("[%s=%q]", key, v)
			if resolvesTo(doc, ref, n) {
				return ref, nil
			}
		}
	}

	if id := attrValue(n, "id"); id != "" {
		ref := "#" + id
		if resolvesTo(doc, ref, n) {
			return ref, nil
		}
	}

	return structuralPath(doc, n)
}

// structuralPath walks ancestors toward the document root, accumulating
// tag:nth-of-type steps. An id on any ancestor cuts the walk short when
// anchoring the path there still resolves uniquely. The walk stops below
// body; body and html are only prepended as a last resort for documents
// with pathologically duplicated structure.
func structuralPath(doc *html.Node, n *html.Node) (string, error) {
	var steps []string

	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = parentElement(cur) {
		if cur != n {
			if cur.Data == "body" || cur.Data == "html" {
				break
			}
			if id := attrValue(cur, "id"); id != "" {
				anchored := "#" + id + " > " + strings.Join(steps, " > ")
				if resolvesTo(doc, anchored, n) {
					return anchored, nil
				}
			}
		}

		step := cur.Data
		if sameTagCount(cur) > 1 {
			step = fmt.Sprintf("%s:nth-of-type(%d)", cur.Data, sameTagIndex(cur))
		}
		steps = append([]string{step}, steps...)
	}

	ref := strings.Join(steps, " > ")
	if resolvesTo(doc, ref, n) {
		return ref, nil
	}
	for _, root := range []string{"body", "html"} {
		ref = root + " > " + ref
		if resolvesTo(doc, ref, n) {
			return ref, nil
		}
	}

	return "", fmt.Errorf("selector: no unique reference for node <%s>", n.Data)
}

// resolvesTo reports whether ref resolves under doc to exactly the node n.
func resolvesTo(doc *html.Node, ref string, n *html.Node) bool {
	res := Resolve(doc, ref)
	return res.Status == StatusUnique && res.Node == n
}

func parentElement(n *html.Node) *html.Node {
	p := n.Parent
	if p == nil || p.Type != html.ElementNode {
		return nil
	}
	return p
}
