package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/i474232898/heat-island-pipeline/internal/weather"
)

// Status values used by pair results and run reports.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
)

// PairResult is the outcome of one location pair within a run. Record counts
// stay as far as the pair got before failing.
type PairResult struct {
	UrbanName    string `json:"urban_name"`
	RuralName    string `json:"rural_name"`
	UrbanRecords int    `json:"urban_records"`
	RuralRecords int    `json:"rural_records"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
}

// Report summarizes one pipeline run. It is the only result a run produces.
type Report struct {
	RunID           string             `json:"run_id"`
	StartTime       time.Time          `json:"start_time"`
	EndTime         time.Time          `json:"end_time"`
	DurationSeconds float64            `json:"duration_seconds"`
	DateRange       weather.DateWindow `json:"date_range"`
	LocationPairs   []PairResult       `json:"location_pairs"`
	TotalRecords    int                `json:"total_records"`
	SuccessCount    int                `json:"success_count"`
	ErrorCount      int                `json:"error_count"`
	Status          string             `json:"status"`
	Error           string             `json:"error,omitempty"`
}

// Succeeded reports whether the run finished with status success.
func (r Report) Succeeded() bool {
	return r.Status == StatusSuccess
}

// Err folds the run level error and every failed pair into one error. It
// returns nil for a successful run.
func (r Report) Err() error {
	var result *multierror.Error
	if r.Error != "" {
		result = multierror.Append(result, errors.New(r.Error))
	}
	for _, p := range r.LocationPairs {
		if p.Status == StatusError {
			result = multierror.Append(result, fmt.Errorf("%s/%s: %s", p.UrbanName, p.RuralName, p.Error))
		}
	}
	return result.ErrorOrNil()
}

// summarize recomputes the aggregate counters from the pair results. Only
// successful pairs contribute to TotalRecords.
func (r *Report) summarize() {
	r.TotalRecords, r.SuccessCount, r.ErrorCount = 0, 0, 0
	for _, p := range r.LocationPairs {
		switch p.Status {
		case StatusSuccess:
			r.SuccessCount++
			r.TotalRecords += p.UrbanRecords + p.RuralRecords
		case StatusError:
			r.ErrorCount++
		}
	}
}
