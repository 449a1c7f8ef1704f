package mirror

import "time"

type Outcome string

const (
	OutcomeCopied  Outcome = "COPIED"
	OutcomeSkipped Outcome = "SKIPPED"
	OutcomeFailed  Outcome = "FAILED"
)

// Record is one journal entry for a processed event. Records are append-only
// and never mutated once written.
type Record struct {
	Time    time.Time `json:"time"`
	Outcome Outcome   `json:"outcome"`
	Source  string    `json:"source"`
	Dest    string    `json:"dest,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

// Journal is the durable sink for copy records.
type Journal interface {
	Append(Record) error
}
