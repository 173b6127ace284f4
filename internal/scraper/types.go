package scraper

import (
	"errors"
	"time"
)

// Error taxonomy. Every one of these is handled inside a worker and only
// counted; none of them aborts a run.
var (
	// ErrFetch marks a transport error, non-success status, or timeout.
	ErrFetch = errors.New("fetch failed")
	// ErrParse marks a body that could not be parsed.
	ErrParse = errors.New("parse failed")
	// ErrEmptyPage marks a valid page that yielded zero records.
	ErrEmptyPage = errors.New("page has no records")
	// ErrRunCanceled is returned by the driver when the run context ends
	// before every worker terminates on its own.
	ErrRunCanceled = errors.New("run canceled")
)

// Record is one structured unit extracted from a page.
type Record struct {
	// ID locates the record's detail resource.
	ID string `json:"id"`
	// Fields holds the scalar values extracted from the listing page.
	Fields map[string]string `json:"fields"`
	// Detail is nil until the detail fetch and parse succeed.
	Detail map[string]string `json:"detail,omitempty"`
}

// Enriched reports whether detail data was attached.
func (r Record) Enriched() bool {
	return r.Detail != nil
}

// WorkerOutcome is produced once per worker at termination.
type WorkerOutcome struct {
	PagesClaimed    int `json:"pages_claimed"`
	PagesConsumed   int `json:"pages_consumed"`
	RecordsProduced int `json:"records_produced"`
	Errors          int `json:"errors"`
}

// Add returns the field-wise sum of o and other.
func (o WorkerOutcome) Add(other WorkerOutcome) WorkerOutcome {
	return WorkerOutcome{
		PagesClaimed:    o.PagesClaimed + other.PagesClaimed,
		PagesConsumed:   o.PagesConsumed + other.PagesConsumed,
		RecordsProduced: o.RecordsProduced + other.RecordsProduced,
		Errors:          o.Errors + other.Errors,
	}
}

// RunSummary is reported by the pool driver after every worker terminated.
type RunSummary struct {
	RunID        string        `json:"run_id"`
	Workers      int           `json:"workers"`
	Elapsed      time.Duration `json:"elapsed"`
	TotalPages   int           `json:"total_pages"`
	TotalRecords int           `json:"total_records"`
	TotalErrors  int           `json:"total_errors"`
}

// Throughput returns records per second, or zero for an instant run.
func (s RunSummary) Throughput() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.TotalRecords) / s.Elapsed.Seconds()
}
