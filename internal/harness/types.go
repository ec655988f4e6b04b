package harness

import (
	"time"

	"github.com/roach88/chronicle/internal/doc"
)

// Trace phases.
const (
	PhaseSetup = "setup"
	PhaseFlow  = "flow"
)

// TraceEvent is one log record as seen at the end of a run.
type TraceEvent struct {
	Phase        string          `json:"phase"` // "setup" or "flow"
	TxID         int64           `json:"tx_id"`
	TxTime       time.Time       `json:"tx_time"`
	SubmissionID string          `json:"submission_id"`
	Outcome      doc.Outcome     `json:"outcome"`
	AbortReason  doc.AbortReason `json:"abort_reason,omitempty"`
	Ops          doc.Array       `json:"ops"`
	Effects      doc.Array       `json:"effects"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds one event per transaction, in tx order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains the failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// canonical renders the event with the document model types so it can be
// encoded with doc.MarshalCanonical.
func (e TraceEvent) canonical() doc.Object {
	obj := doc.Object{
		"phase":         doc.String(e.Phase),
		"tx_id":         doc.Int(e.TxID),
		"tx_time":       doc.NewTime(e.TxTime),
		"submission_id": doc.String(e.SubmissionID),
		"outcome":       doc.String(e.Outcome),
		"ops":           e.Ops,
		"effects":       e.Effects,
	}
	if e.AbortReason != "" {
		obj["abort_reason"] = doc.String(e.AbortReason)
	}
	return obj
}
