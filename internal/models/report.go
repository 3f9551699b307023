package models

import (
	"fmt"
	"time"
)

// ReportStatus enumerates lifecycle states persisted in Postgres.
type ReportStatus string

const (
	StatusPending    ReportStatus = "PENDING"
	StatusInProgress ReportStatus = "INPROGRESS"
	StatusComplete   ReportStatus = "COMPLETE"
	StatusError      ReportStatus = "ERROR"
)

// Terminal reports whether the status ends an attempt.
func (s ReportStatus) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// ReportJob represents a monthly report request persisted in Postgres.
type ReportJob struct {
	ID          string       `json:"id"`
	Seq         int64        `json:"-"`
	PeriodYear  int          `json:"period_year"`
	PeriodMonth int          `json:"period_month"`
	Status      ReportStatus `json:"status"`
	ArtifactKey *string      `json:"artifact_key,omitempty"`
	ClaimedAt   *time.Time   `json:"claimed_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Period renders the job window as YYYY-MM.
func (j ReportJob) Period() string {
	return fmt.Sprintf("%04d-%02d", j.PeriodYear, j.PeriodMonth)
}

// Activity is a logged emissions activity. Rows are written by the front-end.
type Activity struct {
	Timestamp time.Time `json:"timestamp"`
	Category  string    `json:"category"`
	Amount    float64   `json:"amount"`
	Unit      string    `json:"unit"`
	KgCO2e    float64   `json:"kg_co2e"`
	Note      *string   `json:"note,omitempty"`
}
