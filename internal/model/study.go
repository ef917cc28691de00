package model

import "time"

type StudyStatus string

const (
	StudyStatusSubmitted        StudyStatus = "SUBMITTED"
	StudyStatusImporting        StudyStatus = "IMPORTING"
	StudyStatusReadyForAnalysis StudyStatus = "READY_FOR_ANALYSIS"
	StudyStatusFailed           StudyStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s StudyStatus) IsTerminal() bool {
	return s == StudyStatusReadyForAnalysis || s == StudyStatusFailed
}

func (s StudyStatus) Valid() bool {
	switch s {
	case StudyStatusSubmitted, StudyStatusImporting, StudyStatusReadyForAnalysis, StudyStatusFailed:
		return true
	}
	return false
}

const ProcessingStageIngestion = "ingestion"

// LastErrorTimeout is recorded when a study exceeds its polling deadline.
const LastErrorTimeout = "timeout"

// Study is one ingested image file and its processing status.
type Study struct {
	StudyID         string      `json:"study_id" db:"study_id"`
	SubmitterID     string      `json:"submitter_id" db:"submitter_id"`
	SubmittedAt     time.Time   `json:"submitted_at" db:"submitted_at"`
	Description     string      `json:"description,omitempty" db:"description"`
	SourceLocation  string      `json:"source_location" db:"source_location"`
	SourceBucket    string      `json:"source_bucket,omitempty" db:"source_bucket"`
	DatastoreID     string      `json:"datastore_id,omitempty" db:"datastore_id"`
	JobID           string      `json:"job_id,omitempty" db:"job_id"`
	ResultReference string      `json:"result_reference,omitempty" db:"result_reference"`
	Status          StudyStatus `json:"status" db:"status"`
	ImportStatus    string      `json:"import_status,omitempty" db:"import_status"`
	LastError       string      `json:"last_error,omitempty" db:"last_error"`
	AttemptCount    int         `json:"attempt_count" db:"attempt_count"`
	ProcessingStage string      `json:"processing_stage,omitempty" db:"processing_stage"`
	UpdatedAt       time.Time   `json:"updated_at" db:"updated_at"`
}

// StudyUpdate lists the mutable fields of a Study. Nil pointers leave the
// field untouched.
type StudyUpdate struct {
	Status            *StudyStatus
	ImportStatus      *string
	ResultReference   *string
	LastError         *string
	IncrementAttempts bool
}

// Apply copies the update onto s. Stores use it to keep in-memory copies in
// step with what they persisted.
func (u StudyUpdate) Apply(s *Study, now time.Time) {
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.ImportStatus != nil {
		s.ImportStatus = *u.ImportStatus
	}
	if u.ResultReference != nil {
		s.ResultReference = *u.ResultReference
	}
	if u.LastError != nil {
		s.LastError = *u.LastError
	}
	if u.IncrementAttempts {
		s.AttemptCount++
	}
	s.UpdatedAt = now
}

func StatusPtr(s StudyStatus) *StudyStatus {
	return &s
}

func StringPtr(s string) *string {
	return &s
}
