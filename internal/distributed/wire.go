// Package distributed hands work to remote workers over NATS request/reply.
//
// Workers send READY on the work subject and receive either a file path
// (with its lease sequence in the Pbp-Seq header) or DONE. Results come back
// on the result subject and heartbeats on <work subject>.heartbeat.
package distributed

import (
	"time"

	"github.com/dtnitsch/pdf-batch-parser/models"
)

const (
	MsgReady = "READY"
	MsgDone  = "DONE"

	// HeaderSeq carries the lease sequence on path replies.
	HeaderSeq = "Pbp-Seq"
)

// HeartbeatSubject is where workers extend their leases.
func HeartbeatSubject(workSubject string) string {
	return workSubject + ".heartbeat"
}

// Result is the outcome a worker publishes for one leased file.
type Result struct {
	Seq          uint64 `json:"seq"`
	Path         string `json:"path"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	ErrorType    string `json:"error_type,omitempty"`
	Attempts     int    `json:"attempts"`
	Worker       string `json:"worker"`
	OutputFolder string `json:"output_folder,omitempty"`
	ContentHash  string `json:"content_hash,omitempty"`
	DurationMS   int64  `json:"duration_ms,omitempty"`
}

// Heartbeat extends the lease on seq.
type Heartbeat struct {
	Seq    uint64 `json:"seq"`
	Worker string `json:"worker"`
}

func resultFromOutcome(seq uint64, worker string, o models.Outcome) Result {
	return Result{
		Seq:          seq,
		Path:         o.Path,
		Status:       string(o.Status),
		Error:        o.Error,
		ErrorType:    o.ErrorType,
		Attempts:     o.Attempts,
		Worker:       worker,
		OutputFolder: o.OutputFolder,
		ContentHash:  o.ContentHash,
		DurationMS:   o.Duration.Milliseconds(),
	}
}

// Outcome converts r back into a models.Outcome.
func (r Result) Outcome() models.Outcome {
	return models.Outcome{
		Path:         r.Path,
		Status:       models.Status(r.Status),
		Error:        r.Error,
		ErrorType:    r.ErrorType,
		Attempts:     r.Attempts,
		Worker:       r.Worker,
		OutputFolder: r.OutputFolder,
		ContentHash:  r.ContentHash,
		Duration:     time.Duration(r.DurationMS) * time.Millisecond,
	}
}
