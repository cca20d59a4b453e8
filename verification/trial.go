// Package verification reconciles a server-side multi-stage content
// approval pipeline into a small set of user-facing statuses, via polling.
// Alerts for failed trials are deduplicated so the user sees exactly one
// alert per distinct failed attempt.
package verification

// TrialState is the server-reported stage of a verification trial.
type TrialState uint8

const (
	TrialProcessingMedia TrialState = iota
	TrialVerificationInProgress
	TrialVerificationFailed
	TrialReadyForUse
	TrialProcessingFailed
)

// String returns the wire name of the trial state.
func (s TrialState) String() string {
	switch s {
	case TrialProcessingMedia:
		return "PROCESSING_MEDIA"
	case TrialVerificationInProgress:
		return "VERIFICATION_IN_PROGRESS"
	case TrialVerificationFailed:
		return "VERIFICATION_FAILED"
	case TrialReadyForUse:
		return "READY_FOR_USE"
	case TrialProcessingFailed:
		return "PROCESSING_FAILED"
	default:
		return "UNKNOWN"
	}
}

// Trial is one snapshot of the approval pipeline for a verification id.
type Trial struct {
	State               TrialState
	TrialsSoFar         int
	LastRejectionReason string
}

// Status is the user-facing verification status.
type Status uint8

const (
	StatusPending Status = iota
	StatusSuccess
	StatusFailed
)

// String returns the status string handed to the UI collaborator.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "verification-pending"
	case StatusSuccess:
		return "verification-success"
	case StatusFailed:
		return "verification-failed"
	default:
		return "verification-unknown"
	}
}

// Update is one reconciled status emission.
type Update struct {
	Status Status
	// Message carries the latest rejection reason for StatusFailed.
	Message string
}
