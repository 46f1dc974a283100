package selector

// Confidence is a three-valued reliability label for a reference.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Valid reports whether c is one of the three defined levels.
func (c Confidence) Valid() bool {
	return c == ConfidenceHigh || c == ConfidenceMedium || c == ConfidenceLow
}

// Score derives the confidence level for a reference from its textual shape
// and the match count obtained from a resolve call. It is a pure function:
// same inputs, same label.
//
// Rules:
//   - more than one match, any positional qualifier, or an unparseable
//     reference force low
//   - a stable identifier (test attribute or id) with no positional
//     qualifier scores high
//   - everything else (class or attribute qualified, neither positional
//     nor uniquely anchored) scores medium
//
// A reference resolving to zero matches is still scored by shape, so a
// stale target can be explained rather than crashed on. A provably unique
// class-qualified reference stays medium on purpose: uniqueness at scoring
// time does not survive document mutation.
func Score(ref string, matchCount int) Confidence {
	sel, err := Parse(ref)
	if err != nil {
		return ConfidenceLow
	}
	if matchCount > 1 || sel.Positional() {
		return ConfidenceLow
	}
	if sel.Anchored() {
		return ConfidenceHigh
	}
	return ConfidenceMedium
}
