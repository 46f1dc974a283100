package selector

import (
	"strings"

	"golang.org/x/net/html"
)

// Status classifies the outcome of resolving a reference against a document.
// Exactly one status applies to any resolution; ambiguity is a reportable
// condition, never papered over by picking an arbitrary match.
type Status int

const (
	StatusUnique    Status = iota // exactly one node matches
	StatusNotFound                // zero nodes match
	StatusAmbiguous               // more than one node matches
	StatusInvalid                 // the reference does not parse
)

func (s Status) String() string {
	switch s {
	case StatusUnique:
		return "unique"
	case StatusNotFound:
		return "not_found"
	case StatusAmbiguous:
		return "ambiguous"
	case StatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Resolution is the typed result of a resolve call.
type Resolution struct {
	Status     Status
	Node       *html.Node // set only when Status is StatusUnique
	MatchCount int
	Err        error // set only when Status is StatusInvalid
}

// Resolve evaluates a reference against a parsed document and classifies
// the outcome.
func Resolve(doc *html.Node, ref string) Resolution {
	sel, err := Parse(ref)
	if err != nil {
		return Resolution{Status: StatusInvalid, Err: err}
	}
	matches := sel.MatchAll(doc)
	switch len(matches) {
	case 0:
		return Resolution{Status: StatusNotFound}
	case 1:
		return Resolution{Status: StatusUnique, Node: matches[0], MatchCount: 1}
	default:
		return Resolution{Status: StatusAmbiguous, MatchCount: len(matches)}
	}
}

// MatchAll returns every node under doc matching the selector, in document
// order.
func (s *Selector) MatchAll(doc *html.Node) []*html.Node {
	matches := collect(doc, s.parts[0], false)
	for i := 1; i < len(s.parts); i++ {
		p := s.parts[i]
		seen := make(map[*html.Node]bool, len(matches))
		var next []*html.Node
		for _, scope := range matches {
			for _, n := range collect(scope, p, p.child) {
				if !seen[n] {
					seen[n] = true
					next = append(next, n)
				}
			}
		}
		matches = next
	}
	return matches
}

// collect finds nodes under scope matching p. When childOnly is set, only
// direct element children of scope are considered; otherwise all
// descendants are.
func collect(scope *html.Node, p part, childOnly bool) []*html.Node {
	var out []*html.Node
	if childOnly {
		for c := scope.FirstChild; c != nil; c = c.NextSibling {
			if matchPart(c, p) {
				out = append(out, c)
			}
		}
		return out
	}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if matchPart(c, p) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(scope)
	return out
}

// matchPart checks whether a node matches one compound selector.
func matchPart(n *html.Node, p part) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if p.tag != "" && !strings.EqualFold(n.Data, p.tag) {
		return false
	}
	if p.id != "" && attrValue(n, "id") != p.id {
		return false
	}
	if len(p.classes) > 0 {
		have := strings.Fields(attrValue(n, "class"))
		for _, want := range p.classes {
			found := false
			for _, c := range have {
				if c == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	for _, a := range p.attrs {
		if a.eq {
			if attrValue(n, a.key) != a.val {
				return false
			}
		} else if !hasAttr(n, a.key) {
			return false
		}
	}
	if p.nth > 0 && sameTagIndex(n) != p.nth {
		return false
	}
	return true
}

// sameTagIndex returns the 1-based index of n among element siblings that
// share its tag.
func sameTagIndex(n *html.Node) int {
	idx := 1
	for sib := n.PrevSibling; sib != nil; sib = sib.PrevSibling {
		if sib.Type == html.ElementNode && strings.EqualFold(sib.Data, n.Data) {
			idx++
		}
	}
	return idx
}

// sameTagCount returns how many element siblings (including n itself) share
// n's tag.
func sameTagCount(n *html.Node) int {
	count := sameTagIndex(n)
	for sib := n.NextSibling; sib != nil; sib = sib.NextSibling {
		if sib.Type == html.ElementNode && strings.EqualFold(sib.Data, n.Data) {
			count++
		}
	}
	return count
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}
