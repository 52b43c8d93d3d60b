package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/dtnitsch/pdf-batch-parser/models"
	"github.com/dtnitsch/pdf-batch-parser/pkg/engine"
	"github.com/dtnitsch/pdf-batch-parser/pkg/pdfcheck"
)

// Stage names the step of the pipeline that failed.
type Stage string

const (
	StageClassify  Stage = "classify"
	StagePreflight Stage = "preflight"
	StageEngine    Stage = "engine"
	StageArtifacts Stage = "artifacts"
	StageCopy      Stage = "copy"
	StageState     Stage = "state"
)

// ProcessingError is a failed attempt for one file.
type ProcessingError struct {
	Path  string
	Stage Stage
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing %s failed at %s: %v", e.Path, e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// ClassifyError maps an attempt error to one of the error type labels.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}

	var engErr *engine.Error
	var perr *ProcessingError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// An engine call that hit its own deadline is an engine failure.
		if errors.As(err, &engErr) && engErr.StatusCode > 0 {
			return models.ErrorTypeEngine
		}
		return models.ErrorTypeCancelled
	case errors.Is(err, pdfcheck.ErrInvalid):
		return models.ErrorTypeValidation
	case errors.As(err, &engErr):
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return models.ErrorTypeIO
		}
		return models.ErrorTypeEngine
	case errors.As(err, &perr):
		switch perr.Stage {
		case StageArtifacts, StageCopy, StageState:
			return models.ErrorTypeIO
		case StagePreflight:
			return models.ErrorTypeValidation
		}
	}
	return ClassifyMessage(err.Error())
}

// ClassifyMessage guesses an error type label from an error message. It is
// used for errors that crossed a process boundary as plain text.
func ClassifyMessage(msg string) string {
	m := strings.ToLower(msg)
	switch {
	case m == "":
		return ""
	case strings.Contains(m, "context canceled"):
		return models.ErrorTypeCancelled
	case strings.Contains(m, "invalid pdf"):
		return models.ErrorTypeValidation
	case strings.Contains(m, "engine failed"), strings.Contains(m, "status 5"), strings.Contains(m, "status 4"):
		return models.ErrorTypeEngine
	case strings.Contains(m, "no such file"),
		strings.Contains(m, "permission denied"),
		strings.Contains(m, "no space left"),
		strings.Contains(m, "failed to write"),
		strings.Contains(m, "failed to create"):
		return models.ErrorTypeIO
	case strings.Contains(m, "duplicate identity"):
		return models.ErrorTypeDuplicate
	case strings.Contains(m, "lease expired"):
		return models.ErrorTypeLease
	default:
		return models.ErrorTypeUnknown
	}
}
