package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/roach88/chronicle/internal/doc"
)

// txOutput is the CLI rendering of a log record.
type txOutput struct {
	TxID         int64           `json:"tx_id"`
	TxTime       string          `json:"tx_time"`
	SubmissionID string          `json:"submission_id"`
	Outcome      doc.Outcome     `json:"outcome"`
	AbortReason  doc.AbortReason `json:"abort_reason,omitempty"`
	AbortDetail  string          `json:"abort_detail,omitempty"`
	Ops          doc.Array       `json:"ops,omitempty"`
	Effects      doc.Array       `json:"effects"`
}

// newTxOutput renders rec. Ops are included when the record carries them.
func newTxOutput(rec doc.TxRecord) (txOutput, error) {
	effects, err := doc.EncodeEffects(rec.Effects)
	if err != nil {
		return txOutput{}, fmt.Errorf("tx %d: %w", rec.TxID, err)
	}
	out := txOutput{
		TxID:         rec.TxID,
		TxTime:       doc.FormatTime(rec.TxTime),
		SubmissionID: rec.SubmissionID,
		Outcome:      rec.Outcome,
		AbortReason:  rec.AbortReason,
		AbortDetail:  rec.AbortDetail,
		Effects:      effects,
	}
	if rec.Ops != nil {
		ops, err := doc.EncodeOps(rec.Ops)
		if err != nil {
			return txOutput{}, fmt.Errorf("tx %d: %w", rec.TxID, err)
		}
		out.Ops = ops
	}
	return out, nil
}

// writeText prints the record header, then its ops and effects indented.
func (t txOutput) writeText(w io.Writer) {
	status := "✓"
	if t.Outcome != doc.OutcomeCommitted {
		status = "✗"
	}
	fmt.Fprintf(w, "%s tx %d %s at %s (submission %s)\n", status, t.TxID, t.Outcome, t.TxTime, t.SubmissionID)
	if t.AbortReason != "" {
		fmt.Fprintf(w, "  reason: %s: %s\n", t.AbortReason, t.AbortDetail)
	}
	for _, op := range t.Ops {
		fmt.Fprintf(w, "  op     %s\n", render(op))
	}
	for _, eff := range t.Effects {
		fmt.Fprintf(w, "  effect %s\n", render(eff))
	}
}

// render prints a value as canonical JSON.
func render(v doc.Value) string {
	b, err := doc.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(b)
}

// parseTimeFlag parses an optional RFC 3339 flag value.
func parseTimeFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := doc.ParseTime(value)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("invalid --%s", name), err)
	}
	return &t, nil
}
