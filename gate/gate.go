// Package gate implements the admission checks run before any generation
// attempt. Six independent, order-insensitive predicates evaluate a frozen
// snapshot of state and context; all six run every time, the attempt
// proceeds only if all pass, and the failing messages are joined into one
// aggregate reason. Gates never mutate state; the state machine applies
// the aggregate result.
package gate

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/domstage/export"
	"github.com/hazyhaar/domstage/selector"
)

// Gate names, stable identifiers surfaced in failure messages.
const (
	GateSchemaValid  = "schema_valid"
	GateHasChanges   = "has_changes"
	GateAcknowledged = "instability_acknowledged"
	GateMode         = "mode_compatible"
	GateCredentials  = "credentials_valid"
	GateNoConcurrent = "no_concurrent_run"
)

// Result is the outcome of one gate.
type Result struct {
	Gate    string `json:"gate"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// Input is the immutable snapshot the gates evaluate. The state machine
// assembles it once per attempt; gates read it, never write.
type Input struct {
	Payload            []byte                // assembled export artifact, serialized
	PatchCount         int                   // finalized (verified) patches in the payload
	Confidences        []selector.Confidence // frozen per-patch labels
	Warnings           []export.Warning
	Acknowledged       bool // user accepted instability
	RepositoryMode     bool // execution mode declares repository access
	Repository         string
	HaveCredentials    bool
	CredentialsInvalid bool
	Generating         bool // a generation attempt is already in flight
}

// Check is one admission predicate. Pure: same Input, same Result.
type Check func(Input) Result

// All returns the six checks. Order is presentation only; evaluation is
// order-insensitive and every check always runs.
func All() []Check {
	return []Check{
		schemaValid,
		hasChanges,
		instabilityAcknowledged,
		modeCompatible,
		credentialsValid,
		noConcurrentRun,
	}
}

// Evaluate runs every gate against one snapshot.
func Evaluate(in Input) []Result {
	checks := All()
	results := make([]Result, 0, len(checks))
	for _, c := range checks {
		results = append(results, c(in))
	}
	return results
}

// Admitted reports whether every gate passed.
func Admitted(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// Failures returns the failing subset.
func Failures(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// FailureMessage joins every failing gate's message into one human-readable
// aggregate reason.
func FailureMessage(results []Result) string {
	var parts []string
	for _, r := range Failures(results) {
		parts = append(parts, fmt.Sprintf("%s: %s", r.Gate, r.Message))
	}
	return strings.Join(parts, "; ")
}

func pass(gate string) Result {
	return Result{Gate: gate, Passed: true}
}

func fail(gate, msg string) Result {
	return Result{Gate: gate, Passed: false, Message: msg}
}

func schemaValid(in Input) Result {
	errs := export.Validate(in.Payload)
	if len(errs) == 0 {
		return pass(GateSchemaValid)
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	return fail(GateSchemaValid, "export payload failed validation: "+strings.Join(msgs, "; "))
}

func hasChanges(in Input) Result {
	if in.PatchCount > 0 {
		return pass(GateHasChanges)
	}
	return fail(GateHasChanges, "no finalized patches to hand off")
}

func instabilityAcknowledged(in Input) Result {
	unstable := false
	for _, c := range in.Confidences {
		if c == selector.ConfidenceLow {
			unstable = true
			break
		}
	}
	if !unstable {
		for _, w := range in.Warnings {
			if w.Code.Critical() {
				unstable = true
				break
			}
		}
	}
	if !unstable || in.Acknowledged {
		return pass(GateAcknowledged)
	}
	return fail(GateAcknowledged, "low-confidence patches or critical warnings present and not acknowledged")
}

func modeCompatible(in Input) Result {
	if !in.RepositoryMode || strings.TrimSpace(in.Repository) != "" {
		return pass(GateMode)
	}
	return fail(GateMode, "execution mode requires a repository but none was provided")
}

func credentialsValid(in Input) Result {
	switch {
	case !in.HaveCredentials:
		return fail(GateCredentials, "no stored credentials")
	case in.CredentialsInvalid:
		return fail(GateCredentials, "stored credentials are marked invalid; re-authenticate")
	default:
		return pass(GateCredentials)
	}
}

func noConcurrentRun(in Input) Result {
	if in.Generating {
		return fail(GateNoConcurrent, "a generation attempt is already running")
	}
	return pass(GateNoConcurrent)
}
