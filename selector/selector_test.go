package selector

import (
	"strings"
	"testing"

	"golang.org/x/net/html"
)

const fixture = `<!DOCTYPE html>
<html><head><title>t</title></head><body>
  <header id="top"><h1 class="brand">Shop</h1></header>
  <main id="content">
    <section class="hero">
      <button data-testid="cta-buy" class="btn primary">Buy now</button>
      <button class="btn">Later</button>
    </section>
    <ul class="items">
      <li class="item">one</li>
      <li class="item">two</li>
      <li class="item special">three</li>
    </ul>
    <div><p>first</p><p>second</p></div>
  </main>
  <footer><span>fin</span></footer>
</body></html>`

func parseFixture(t *testing.T) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(fixture))
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return doc
}

// findFirst is a test helper resolving a known-unique reference to its node.
func findFirst(t *testing.T, doc *html.Node, ref string) *html.Node {
	t.Helper()
	res := Resolve(doc, ref)
	if res.Status != StatusUnique {
		t.Fatalf("fixture ref %q: status %v, want unique", ref, res.Status)
	}
	return res.Node
}

func TestResolveStatuses(t *testing.T) {
	doc := parseFixture(t)

	tests := []struct {
		ref     string
		status  Status
		matches int
	}{
		{"#content", StatusUnique, 1},
		{"[data-testid=\"cta-buy\"]", StatusUnique, 1},
		{"li.special", StatusUnique, 1},
		{"li.item", StatusAmbiguous, 3},
		{".btn", StatusAmbiguous, 2},
		{"#missing", StatusNotFound, 0},
		{"aside", StatusNotFound, 0},
		{"ul > li:nth-of-type(2)", StatusUnique, 1},
		{"ul>li:nth-of-type(2)", StatusUnique, 1},
		{"main p:nth-of-type(2)", StatusUnique, 1},
		{"div > span", StatusNotFound, 0},
		{"footer span", StatusUnique, 1},
		{"footer>span", StatusUnique, 1},
		{"", StatusInvalid, 0},
		{"li:nth-child(2)", StatusInvalid, 0},
		{"div[unclosed", StatusInvalid, 0},
		{"> div", StatusInvalid, 0},
		{"div >", StatusInvalid, 0},
		{"div>", StatusInvalid, 0},
		{"di<v", StatusInvalid, 0},
	}

	for _, tt := range tests {
		res := Resolve(doc, tt.ref)
		if res.Status != tt.status {
			t.Errorf("Resolve(%q) status = %v, want %v", tt.ref, res.Status, tt.status)
		}
		if tt.status == StatusAmbiguous && res.MatchCount != tt.matches {
			t.Errorf("Resolve(%q) matches = %d, want %d", tt.ref, res.MatchCount, tt.matches)
		}
		if tt.status == StatusInvalid && res.Err == nil {
			t.Errorf("Resolve(%q): invalid status without error", tt.ref)
		}
	}
}

func TestResolveNeverPicksArbitraryMatch(t *testing.T) {
	doc := parseFixture(t)
	res := Resolve(doc, "li.item")
	if res.Node != nil {
		t.Error("ambiguous resolution must not return a node")
	}
}

func TestSynthesizePriorities(t *testing.T) {
	doc := parseFixture(t)

	tests := []struct {
		pick string // known-unique ref used to locate the node under test
		want string
	}{
		{"[data-testid=\"cta-buy\"]", `[data-testid="cta-buy"]`},
		{"#content", "#content"},
		{"li.special", "#content > ul > li:nth-of-type(3)"},
		{"main p:nth-of-type(2)", "#content > div > p:nth-of-type(2)"},
		{"footer span", "footer > span"},
	}

	for _, tt := range tests {
		n := findFirst(t, doc, tt.pick)
		ref, err := Synthesize(doc, n)
		if err != nil {
			t.Fatalf("Synthesize(%s): %v", tt.pick, err)
		}
		if ref != tt.want {
			t.Errorf("Synthesize(%s) = %q, want %q", tt.pick, ref, tt.want)
		}
	}
}

// Every synthesized reference must resolve back to exactly the node it was
// built from.
func TestSynthesizeRoundTrip(t *testing.T) {
	doc := parseFixture(t)

	var elements []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "html", "head", "title":
			default:
				elements = append(elements, n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if len(elements) == 0 {
		t.Fatal("no elements collected from fixture")
	}
	for _, n := range elements {
		ref, err := Synthesize(doc, n)
		if err != nil {
			t.Fatalf("Synthesize(<%s>): %v", n.Data, err)
		}
		res := Resolve(doc, ref)
		if res.Status != StatusUnique {
			t.Errorf("round trip %q: status %v, want unique", ref, res.Status)
			continue
		}
		if res.Node != n {
			t.Errorf("round trip %q resolved to a different node", ref)
		}
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		ref     string
		matches int
		want    Confidence
	}{
		{`[data-testid="cta-buy"]`, 1, ConfidenceHigh},
		{"#content", 1, ConfidenceHigh},
		{"#content", 0, ConfidenceHigh}, // stale but stably anchored: scored by shape
		{"li.special", 1, ConfidenceMedium},
		{"div[role=main]", 1, ConfidenceMedium},
		{"button", 1, ConfidenceMedium},
		{"li.item", 3, ConfidenceLow},          // multiple matches force low
		{"#content", 2, ConfidenceLow},         // even an id, duplicated, is untrustworthy
		{"ul > li:nth-of-type(2)", 1, ConfidenceLow}, // positional forces low
		{"#content > div > p:nth-of-type(2)", 1, ConfidenceLow},
		{"li:nth-child(2)", 1, ConfidenceLow}, // unparseable scores low
	}

	for _, tt := range tests {
		if got := Score(tt.ref, tt.matches); got != tt.want {
			t.Errorf("Score(%q, %d) = %v, want %v", tt.ref, tt.matches, got, tt.want)
		}
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	for range 3 {
		if got := Score("li.item", 1); got != ConfidenceMedium {
			t.Fatalf("Score changed between calls: %v", got)
		}
	}
}

func TestParseQuotedAttrValueWithSpace(t *testing.T) {
	doc := parseFixture(t)
	// Quoted values must survive tokenization even if they contain spaces.
	sel, err := Parse(`[data-testid="cta buy"]`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := len(sel.MatchAll(doc)); got != 0 {
		t.Errorf("matches = %d, want 0", got)
	}
}
