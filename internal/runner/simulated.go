package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/me/slideflow/pkg/model"
)

// Simulated is a tile-loop runner that stands in for the external
// image-processing pipeline. It advances tile counters on a fixed cadence
// and produces a small JSON summary as its result, which lets the daemon
// run end to end without a segmentation backend attached.
type Simulated struct {
	jobType    model.JobType
	tilesTotal int
	batchSize  int
	batchDelay time.Duration
}

// NewSimulated creates a simulated runner for the given type tag.
// A submission can override the tile count with an integer "tiles_total"
// param.
func NewSimulated(jobType model.JobType, tilesTotal, batchSize int, batchDelay time.Duration) *Simulated {
	if tilesTotal <= 0 {
		tilesTotal = 100
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Simulated{
		jobType:    jobType,
		tilesTotal: tilesTotal,
		batchSize:  batchSize,
		batchDelay: batchDelay,
	}
}

// Type returns the job type tag this runner handles.
func (s *Simulated) Type() model.JobType {
	return s.jobType
}

// Run processes tiles batch by batch, reporting progress after each batch
// and checking the cancel token between batches.
func (s *Simulated) Run(ctx context.Context, view model.JobView, sink ProgressSink, token *CancelToken) Outcome {
	total := s.tilesTotal
	if v, ok := view.Params["tiles_total"]; ok {
		switch n := v.(type) {
		case float64:
			if n > 0 {
				total = int(n)
			}
		case int:
			if n > 0 {
				total = n
			}
		}
	}

	processed := 0
	sink.Update(0, 0, total)
	for processed < total {
		if token.Requested() {
			return Cancelled()
		}
		select {
		case <-ctx.Done():
			return Cancelled()
		case <-token.Done():
			return Cancelled()
		case <-time.After(s.batchDelay):
		}

		processed += s.batchSize
		if processed > total {
			processed = total
		}
		sink.Update(float64(processed)/float64(total)*100, processed, total)
	}

	summary, err := json.Marshal(map[string]any{
		"job_id":          view.ID,
		"type":            string(s.jobType),
		"input":           view.InputImagePath,
		"tiles_processed": total,
	})
	if err != nil {
		return Failed(model.KindRunnerCrash, fmt.Sprintf("encode result: %v", err))
	}
	return Succeeded(&Result{ContentType: "application/json", Data: summary})
}
