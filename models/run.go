package models

import (
	"encoding/json"
	"time"
)

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IngestionRun is one scheduler-triggered execution record. Created when the
// run starts, finalized exactly once when it ends.
type IngestionRun struct {
	ID               int64           `json:"id" db:"id"`
	Source           string          `json:"source" db:"source"`
	Status           RunStatus       `json:"status" db:"status"`
	StartedAt        time.Time       `json:"started_at" db:"started_at"`
	FinishedAt       *time.Time      `json:"finished_at" db:"finished_at"`
	DealsFound       int             `json:"deals_found" db:"deals_found"`
	ProductsCreated  int             `json:"products_created" db:"products_created"`
	ProductsUpdated  int             `json:"products_updated" db:"products_updated"`
	DealsCreated     int             `json:"deals_created" db:"deals_created"`
	DealsUpdated     int             `json:"deals_updated" db:"deals_updated"`
	DealsSkipped     int             `json:"deals_skipped" db:"deals_skipped"`
	DealsDeactivated int             `json:"deals_deactivated" db:"deals_deactivated"`
	ErrorsCount      int             `json:"errors_count" db:"errors_count"`
	ErrorMessage     string          `json:"error_message" db:"error_message"`
	Metadata         json.RawMessage `json:"metadata" db:"metadata"`
}

// ApplyStats copies batch counters onto the run row before finalization.
func (r *IngestionRun) ApplyStats(s *IngestStats) {
	r.DealsFound = s.Fetched
	r.ProductsCreated = s.ProductsCreated
	r.ProductsUpdated = s.ProductsUpdated
	r.DealsCreated = s.DealsCreated
	r.DealsUpdated = s.DealsUpdated
	r.DealsSkipped = s.DealsSkipped
	r.DealsDeactivated = s.DealsDeactivated
	r.ErrorsCount = s.Errors
	r.Metadata = s.ToJSON()
}

// IngestStats tracks per-batch counters for RunSource / ProcessDeals.
type IngestStats struct {
	Fetched          int `json:"fetched"`
	ProductsCreated  int `json:"products_created"`
	ProductsUpdated  int `json:"products_updated"`
	DealsCreated     int `json:"deals_created"`
	DealsUpdated     int `json:"deals_updated"`
	DealsSkipped     int `json:"deals_skipped"`
	DealsDeactivated int `json:"deals_deactivated"`
	Errors           int `json:"errors"`
}

// Merge adds another batch's counters into s.
func (s *IngestStats) Merge(o *IngestStats) {
	if o == nil {
		return
	}
	s.Fetched += o.Fetched
	s.ProductsCreated += o.ProductsCreated
	s.ProductsUpdated += o.ProductsUpdated
	s.DealsCreated += o.DealsCreated
	s.DealsUpdated += o.DealsUpdated
	s.DealsSkipped += o.DealsSkipped
	s.DealsDeactivated += o.DealsDeactivated
	s.Errors += o.Errors
}

// ToJSON returns JSON-serializable run metadata.
func (s *IngestStats) ToJSON() json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}
