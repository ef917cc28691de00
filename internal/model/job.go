package model

// JobState is the closed classification of an external import job status.
// A failed status query is reported as an error, never as a state.
type JobState string

const (
	JobStateInProgress JobState = "in-progress"
	JobStateSucceeded  JobState = "succeeded"
	JobStateFailed     JobState = "failed"
)

type JobStatus struct {
	State JobState
	// ResultReference identifies the imported artifact; set only on success.
	ResultReference string
	// Reason explains a failure.
	Reason string
	// ExternalStatus is the provider's own status string, kept for diagnostics.
	ExternalStatus string
}

type StartJobRequest struct {
	StudyID        string
	SourceLocation string
}
