package stage

import (
	"errors"

	"github.com/hazyhaar/domstage/stage/internal/store"
)

// ErrNoTarget is returned when an operation needs a selected target and
// none is set.
var ErrNoTarget = errors.New("stage: no target selected")

// ErrNoMachine is returned when a generation-lifecycle operation is
// invoked on a stage constructed without a state machine.
var ErrNoMachine = errors.New("stage: no session machine configured")

// ErrNoStore is returned when artifact persistence is used on a stage
// constructed without a store.
var ErrNoStore = errors.New("stage: no artifact store configured")

// ErrArtifactNotFound is returned by artifact lookups for unknown IDs.
var ErrArtifactNotFound = store.ErrNotFound
