// Package runner defines the contract between the scheduling core and the
// image-processing backends that execute jobs.
package runner

import (
	"context"

	"github.com/me/slideflow/pkg/model"
)

// ProgressSink receives progress reports from a running job. The core
// enforces monotonicity and clamps percent to [0,100]; runners may report
// freely.
type ProgressSink interface {
	Update(percent float64, tilesProcessed, tilesTotal int)
}

// Outcome is the terminal result of one runner invocation.
type Outcome struct {
	Status     model.JobStatus
	Result     *Result
	ErrKind    model.ErrorKind
	ErrMessage string
}

// Result is the artifact a SUCCEEDED job produced.
type Result struct {
	ContentType string
	Data        []byte
}

// Succeeded builds a SUCCEEDED outcome carrying a result artifact.
func Succeeded(res *Result) Outcome {
	return Outcome{Status: model.JobStatusSucceeded, Result: res}
}

// Failed builds a FAILED outcome with an error kind and message.
func Failed(kind model.ErrorKind, msg string) Outcome {
	return Outcome{Status: model.JobStatusFailed, ErrKind: kind, ErrMessage: msg}
}

// Cancelled builds a CANCELLED outcome.
func Cancelled() Outcome {
	return Outcome{Status: model.JobStatusCancelled, ErrKind: model.KindCancelledByRequest}
}

// Runner executes one job. At most one Run call is in flight per job.
//
// Runners must poll the cancel token cooperatively, at least between tile
// batches, and return promptly with a CANCELLED outcome on observing it.
// A panic inside Run is treated by the core as a FAILED outcome.
type Runner interface {
	Type() model.JobType
	Run(ctx context.Context, view model.JobView, sink ProgressSink, token *CancelToken) Outcome
}
