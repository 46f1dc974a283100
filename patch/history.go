package patch

// DefaultCapacity bounds the undo stack when the caller does not choose a
// capacity. Oldest entries are evicted first.
const DefaultCapacity = 50

// History holds the applied-patch undo stack and the undone-patch redo
// stack. The two stacks are always disjoint; their union, read undo
// bottom-to-top then redo top-to-bottom, is the full edit sequence
// including entries undone but not yet redone.
//
// History is single-writer: callers serialize mutations themselves (the
// stage orchestrator holds its own lock). Popping an empty stack is a
// defined no-op, not an error.
type History struct {
	undo []*Patch
	redo []*Patch
	cap  int
}

// NewHistory creates a History with the given capacity. A non-positive
// capacity falls back to DefaultCapacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{cap: capacity}
}

// Push appends a new patch to the undo stack and clears the redo stack;
// there is no branching history. Once capacity is exceeded the oldest undo
// entry is evicted.
func (h *History) Push(p *Patch) {
	h.undo = append(h.undo, p)
	if len(h.undo) > h.cap {
		// FIFO eviction: drop the oldest, keep the slice from growing.
		copy(h.undo, h.undo[1:])
		h.undo = h.undo[:h.cap]
	}
	h.redo = h.redo[:0]
}

// PopUndo moves the top undo entry to the redo stack and returns it.
// The second return is false when there is nothing to undo.
func (h *History) PopUndo() (*Patch, bool) {
	if len(h.undo) == 0 {
		return nil, false
	}
	p := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	h.redo = append(h.redo, p)
	return p, true
}

// PopRedo is the symmetric inverse of PopUndo.
func (h *History) PopRedo() (*Patch, bool) {
	if len(h.redo) == 0 {
		return nil, false
	}
	p := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	h.undo = append(h.undo, p)
	return p, true
}

// CanUndo reports whether the undo stack is non-empty.
func (h *History) CanUndo() bool { return len(h.undo) > 0 }

// CanRedo reports whether the redo stack is non-empty.
func (h *History) CanRedo() bool { return len(h.redo) > 0 }

// Len returns the number of currently applied (not undone) patches.
func (h *History) Len() int { return len(h.undo) }

// Applied returns a copy of the applied patches, oldest first. These are
// the finalized patches an export is assembled from.
func (h *History) Applied() []*Patch {
	out := make([]*Patch, len(h.undo))
	copy(out, h.undo)
	return out
}

// Parked returns a copy of the undone-but-not-redone patches, most
// recently undone first.
func (h *History) Parked() []*Patch {
	out := make([]*Patch, len(h.redo))
	for i, p := range h.redo {
		out[len(h.redo)-1-i] = p
	}
	return out
}
