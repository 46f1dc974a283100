// Package patch defines the captured visual edit and its bounded undo/redo
// history. A patch records one property mutation against a resolved target
// reference, optionally carrying the identity fingerprint of the node it
// was applied to. Patches without a fingerprint are treated as legacy and
// excluded from any export requiring verified targets.
package patch

import (
	"time"

	"github.com/hazyhaar/domstage/identity"
)

// Patch is one recorded mutation.
type Patch struct {
	ID          string                `json:"id"`
	Selector    string                `json:"selector"`
	Property    string                `json:"property"`
	Value       string                `json:"value"`
	Original    *string               `json:"original"` // nil = no prior value observed
	CreatedAt   time.Time             `json:"created_at"`
	Fingerprint *identity.Fingerprint `json:"fingerprint,omitempty"`
}

// Verified reports whether the patch carries an identity fingerprint and
// may therefore participate in exports requiring verified targets.
func (p *Patch) Verified() bool {
	return p != nil && p.Fingerprint != nil
}
