package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and gateway adapters return
// these (optionally wrapped) so the orchestrator can translate them into
// domain errors:
//   - ErrNotFound: attempt, record or attachment does not exist (an
//     expired attempt session reads as not found)
//   - ErrConflict: write collided with an existing record
//   - ErrUnavailable: backing service temporarily unavailable
//
// For guard failures (missing decision, unacknowledged alerts), use
// pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)
