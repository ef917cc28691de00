package model

import "time"

type SubmitRequest struct {
	SubmitterID    string `json:"submitter_id"`
	SourceLocation string `json:"source_location"`
	Description    string `json:"description,omitempty"`
}

type SubmitResponse struct {
	StudyID string      `json:"study_id"`
	JobID   string      `json:"job_id,omitempty"`
	Status  StudyStatus `json:"status"`
	Message string      `json:"message,omitempty"`
}

type FailStudyRequest struct {
	Reason string `json:"reason"`
}

// PollTask is one scheduled invocation of the import monitor.
type PollTask struct {
	StudyID string `json:"study_id"`
	// TransientStreak counts consecutive polls that ended in a transient error.
	TransientStreak int       `json:"transient_streak,omitempty"`
	NotBefore       time.Time `json:"not_before"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}
