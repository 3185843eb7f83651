package models

import "time"

// RunStatus is the lifecycle state of an IngestRun.
type RunStatus string

const (
	RunQueued              RunStatus = "queued"
	RunRunning             RunStatus = "running"
	RunCompleted           RunStatus = "completed"
	RunCompletedWithErrors RunStatus = "completed_with_errors"
	RunFailed              RunStatus = "failed"
)

// Finished reports whether the status is terminal.
func (s RunStatus) Finished() bool {
	return s == RunCompleted || s == RunCompletedWithErrors || s == RunFailed
}

// RunError is one recorded failure of a sync run.
type RunError struct {
	Message   string  `json:"message"`
	ListingID *string `json:"listingId,omitempty"`
	URL       *string `json:"url,omitempty"`
}

// IngestRun records one sync invocation. Only the sync engine writes it and
// it is not modified after FinishedAt is set.
type IngestRun struct {
	ID               string     `json:"id"`
	SourceID         string     `json:"sourceId"`
	SourceName       string     `json:"source"`
	Status           RunStatus  `json:"status"`
	RecordsFetched   int        `json:"recordsFetched"`
	ListingsUpserted int        `json:"listingsUpserted"`
	ListingsSkipped  int        `json:"listingsSkipped"`
	ImagesDownloaded int        `json:"imagesDownloaded"`
	ImagesSkipped    int        `json:"imagesSkipped"`
	Errors           []RunError `json:"errors"`
	StartedAt        time.Time  `json:"startedAt"`
	FinishedAt       *time.Time `json:"finishedAt,omitempty"`
}

// AddError appends a failure. url and listingID may be empty.
func (r *IngestRun) AddError(message, url, listingID string) {
	e := RunError{Message: message}
	if url != "" {
		e.URL = &url
	}
	if listingID != "" {
		e.ListingID = &listingID
	}
	r.Errors = append(r.Errors, e)
}

// DisplayErrors returns at most limit errors. The full list stays on the run.
func (r *IngestRun) DisplayErrors(limit int) []RunError {
	if limit <= 0 || len(r.Errors) <= limit {
		return r.Errors
	}
	return r.Errors[:limit]
}
