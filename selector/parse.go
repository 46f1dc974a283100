// Package selector synthesizes and resolves stable references to document
// nodes. A reference is a serialized CSS-like query expression that must
// resolve to at most one node; resolution classifies into exactly one of
// four statuses (unique, not found, ambiguous, invalid syntax), and every
// reference carries a derived confidence label describing how likely it is
// to survive future document mutation.
//
// Supported syntax (deliberately a subset: everything synthesis emits and
// nothing more exotic):
//   - tag: "article", "div"
//   - #id: "#main-content"
//   - .class: ".hero", multiple allowed: "div.card.active"
//   - [attr], [attr=val], [attr="val"]
//   - :nth-of-type(n), 1-based position among same-tag element siblings
//   - descendant (" ") and child (">") combinators; whitespace around the
//     child combinator is optional
package selector

import (
	"fmt"
	"strconv"
	"strings"
)

// part is one compound selector in a combinator chain.
type part struct {
	tag     string
	id      string
	classes []string
	attrs   []attrMatch
	nth     int  // 0 = no positional qualifier
	child   bool // combinator binding this part to the previous one
}

type attrMatch struct {
	key string
	val string
	eq  bool // false = existence check only
}

// Selector is a parsed reference. The zero value is not usable; obtain one
// via Parse.
type Selector struct {
	raw   string
	parts []part
}

// Raw returns the original reference text.
func (s *Selector) Raw() string { return s.raw }

// Positional reports whether any part of the reference carries a
// position-dependent qualifier. Positional references are fragile: inserting
// a sibling silently changes which node they address.
func (s *Selector) Positional() bool {
	for _, p := range s.parts {
		if p.nth > 0 {
			return true
		}
	}
	return false
}

// Anchored reports whether any part of the reference carries a stable
// identifier: an #id or a recognized test attribute.
func (s *Selector) Anchored() bool {
	for _, p := range s.parts {
		if p.id != "" {
			return true
		}
		for _, a := range p.attrs {
			if isTestAttr(a.key) {
				return true
			}
		}
	}
	return false
}

// Qualified reports whether any part carries a class or attribute qualifier.
func (s *Selector) Qualified() bool {
	for _, p := range s.parts {
		if len(p.classes) > 0 || len(p.attrs) > 0 || p.id != "" {
			return true
		}
	}
	return false
}

// Parse parses a reference. A non-nil error means the reference is
// syntactically invalid; resolution must classify it as such rather than
// guessing.
func Parse(ref string) (*Selector, error) {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return nil, fmt.Errorf("selector: empty reference")
	}

	s := &Selector{raw: ref}
	child := false
	for _, tok := range tokenize(trimmed) {
		if tok == ">" {
			if child || len(s.parts) == 0 {
				return nil, fmt.Errorf("selector: dangling child combinator in %q", ref)
			}
			child = true
			continue
		}
		p, err := parsePart(tok)
		if err != nil {
			return nil, err
		}
		p.child = child
		child = false
		s.parts = append(s.parts, p)
	}
	if child {
		return nil, fmt.Errorf("selector: trailing child combinator in %q", ref)
	}
	if len(s.parts) == 0 {
		return nil, fmt.Errorf("selector: empty reference")
	}
	return s, nil
}

// tokenize splits on whitespace but keeps quoted attribute values intact.
func tokenize(ref string) []string {
	var toks []string
	var cur strings.Builder
	inQuote := byte(0)
	for i := 0; i < len(ref); i++ {
		c := ref[i]
		switch {
		case inQuote != 0:
			cur.WriteByte(c)
			if c == inQuote {
				inQuote = 0
			}
		case c == '"' || c == '\'':
			inQuote = c
			cur.WriteByte(c)
		case c == ' ' || c == '\t':
			if cur.Len() > 0 {
				toks = append(toks, cur.String())
				cur.Reset()
			}
		case c == '>':
			// The child combinator binds with or without surrounding
			// whitespace; "div>p" and "div > p" are the same reference.
			if cur.Len() > 0 {
				toks = append(toks, cur.String())
				cur.Reset()
			}
			toks = append(toks, ">")
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		toks = append(toks, cur.String())
	}
	return toks
}

// parsePart parses one compound selector like "div.card[role=main]:nth-of-type(2)".
func parsePart(tok string) (part, error) {
	var p part

	// :nth-of-type(n) suffix.
	if idx := strings.Index(tok, ":"); idx >= 0 {
		pseudo := tok[idx:]
		tok = tok[:idx]
		const prefix = ":nth-of-type("
		if !strings.HasPrefix(pseudo, prefix) || !strings.HasSuffix(pseudo, ")") {
			return p, fmt.Errorf("selector: unsupported pseudo-class %q", pseudo)
		}
		n, err := strconv.Atoi(pseudo[len(prefix) : len(pseudo)-1])
		if err != nil || n < 1 {
			return p, fmt.Errorf("selector: bad nth-of-type index in %q", pseudo)
		}
		p.nth = n
	}

	// [attr] blocks, possibly several.
	for {
		open := strings.IndexByte(tok, '[')
		if open < 0 {
			break
		}
		end := strings.IndexByte(tok[open:], ']')
		if end < 0 {
			return p, fmt.Errorf("selector: unclosed attribute block in %q", tok)
		}
		body := tok[open+1 : open+end]
		tok = tok[:open] + tok[open+end+1:]
		if body == "" {
			return p, fmt.Errorf("selector: empty attribute block")
		}
		var a attrMatch
		if eq := strings.IndexByte(body, '='); eq >= 0 {
			a.key = body[:eq]
			a.val = unquote(body[eq+1:])
			a.eq = true
		} else {
			a.key = body
		}
		if a.key == "" {
			return p, fmt.Errorf("selector: attribute block without key")
		}
		p.attrs = append(p.attrs, a)
	}

	// #id and .class fragments; whatever precedes the first marker is the tag.
	rest := tok
	for len(rest) > 0 {
		hash := strings.IndexByte(rest, '#')
		dot := strings.IndexByte(rest, '.')
		cut := firstMarker(hash, dot)
		if cut < 0 {
			if p.tag != "" {
				return p, fmt.Errorf("selector: malformed part %q", tok)
			}
			p.tag = rest
			break
		}
		if cut > 0 {
			if p.tag != "" {
				return p, fmt.Errorf("selector: malformed part %q", tok)
			}
			p.tag = rest[:cut]
			rest = rest[cut:]
			continue
		}
		marker := rest[0]
		rest = rest[1:]
		end := len(rest)
		if i := strings.IndexAny(rest, "#."); i >= 0 {
			end = i
		}
		name := rest[:end]
		rest = rest[end:]
		if name == "" {
			return p, fmt.Errorf("selector: empty name after %q in %q", string(marker), tok)
		}
		if marker == '#' {
			if p.id != "" {
				return p, fmt.Errorf("selector: multiple ids in %q", tok)
			}
			p.id = name
		} else {
			p.classes = append(p.classes, name)
		}
	}

	if p.tag == "" && p.id == "" && len(p.classes) == 0 && len(p.attrs) == 0 && p.nth == 0 {
		return p, fmt.Errorf("selector: empty part")
	}
	if bad := strings.IndexAny(p.tag, "()[]{}=~+,<>"); bad >= 0 {
		return p, fmt.Errorf("selector: unexpected %q in tag name", p.tag[bad])
	}
	return p, nil
}

func firstMarker(hash, dot int) int {
	switch {
	case hash < 0:
		return dot
	case dot < 0:
		return hash
	case hash < dot:
		return hash
	default:
		return dot
	}
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}
