package domain

// Outcome classifies one best-effort resource removal during teardown.
type Outcome string

const (
	OutcomeRemoved  Outcome = "removed"
	OutcomeNotFound Outcome = "not-found"
	OutcomeFailed   Outcome = "failed"
)

// Removal reports the result of removing a single provisioned resource.
// A not-found resource counts as converged, not as a failure.
type Removal struct {
	Resource string
	Outcome  Outcome
	Err      error
}

// Converged reports whether the resource is known to no longer exist.
func (r Removal) Converged() bool {
	return r.Outcome == OutcomeRemoved || r.Outcome == OutcomeNotFound
}
