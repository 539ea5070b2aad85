package collection

import (
	"time"

	"github.com/google/uuid"
)

// Report summarizes one collection run.
type Report struct {
	RunID          uuid.UUID `json:"run_id"`
	Resource       string    `json:"resource"`
	Corpus         string    `json:"corpus"`
	FirstPassCount int       `json:"first_pass_count"`
	DeltaCount     int       `json:"delta_count"`
	FirstPassDone  bool      `json:"first_pass_terminated"`
	SecondPassDone bool      `json:"second_pass_terminated"`
	FirstPassLast  int       `json:"first_pass_last_page"`
	SecondPassLast int       `json:"second_pass_last_page"`
	Skipped        bool      `json:"skipped,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Total returns the number of records persisted by the run.
func (r Report) Total() int { return r.FirstPassCount + r.DeltaCount }

// Duration returns how long the run took.
func (r Report) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }
