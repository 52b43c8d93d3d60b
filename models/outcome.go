package models

import "time"

// Status is the terminal state of one file in a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	// StatusSkipped means the output folder was already complete.
	StatusSkipped Status = "skipped"
)

// Error type labels persisted in run history and failed-files.yaml.
const (
	ErrorTypeEngine      = "engine_error"
	ErrorTypeIO          = "io_error"
	ErrorTypeValidation  = "validation_error"
	ErrorTypeDuplicate   = "duplicate_identity"
	ErrorTypeLease       = "lease_expired"
	ErrorTypeUndelivered = "undeliverable"
	ErrorTypeCancelled   = "cancelled"
	ErrorTypeUnknown     = "unknown_error"
)

// Outcome is the result of processing one file.
type Outcome struct {
	Path         string        `json:"path"`
	Status       Status        `json:"status"`
	Error        string        `json:"error,omitempty"`
	ErrorType    string        `json:"error_type,omitempty"`
	Attempts     int           `json:"attempts"`
	OutputFolder string        `json:"output_folder,omitempty"`
	ContentHash  string        `json:"content_hash,omitempty"`
	Worker       string        `json:"worker,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
}

// Failed reports whether the outcome is a terminal failure.
func (o Outcome) Failed() bool {
	return o.Status == StatusFailed
}
