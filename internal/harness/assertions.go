package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/chronicle/internal/doc"
	"github.com/roach88/chronicle/internal/engine"
)

// AssertionError is returned when an assertion fails.
// It includes the trace to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s", event.TxID, event.Phase, event.Outcome)
		if event.AbortReason != "" {
			fmt.Fprintf(&buf, " (%s)", event.AbortReason)
		}
		fmt.Fprintf(&buf, " %d ops\n", len(event.Ops))
	}

	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(ctx context.Context, eng *engine.Engine, trace []TraceEvent, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(ctx, eng, trace, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %s", i, err))
		}
	}
	return errs
}

func evaluate(ctx context.Context, eng *engine.Engine, trace []TraceEvent, a Assertion) error {
	if a.Type == AssertLogCount {
		return assertLogCount(trace, a)
	}

	var opts []engine.DBOption
	if a.AsOfTx != nil {
		opts = append(opts, engine.AsOfTx(*a.AsOfTx))
	}
	if a.at != nil {
		opts = append(opts, engine.AtValidTime(*a.at))
	}
	db, err := eng.DB(opts...)
	if err != nil {
		return err
	}
	id := doc.EntityID(a.ID)

	switch a.Type {
	case AssertEntity:
		d, found, err := db.Entity(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s visible at %s", id, doc.FormatTime(db.ValidTime())),
				Actual:   "not visible",
				Trace:    trace,
			}
		}
		if key, ok := matchAttrs(d.Attrs, a.expect); !ok {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s.%s = %s", id, key, render(a.expect[key])),
				Actual:   render(d.Attrs[key]),
				Trace:    trace,
			}
		}
		return nil

	case AssertAbsent:
		d, found, err := db.Entity(ctx, id)
		if err != nil {
			return err
		}
		if found {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s not visible at %s", id, doc.FormatTime(db.ValidTime())),
				Actual:   render(d.Attrs),
				Trace:    trace,
			}
		}
		return nil

	default: // AssertHistoryCount
		hist, err := db.History(ctx, id)
		if err != nil {
			return err
		}
		if len(hist) != *a.Count {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%d versions of %s", *a.Count, id),
				Actual:   fmt.Sprintf("%d versions", len(hist)),
				Trace:    trace,
			}
		}
		return nil
	}
}

func assertLogCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if a.Outcome == "" || event.Outcome == a.Outcome {
			count++
		}
	}
	if count != *a.Count {
		what := "records"
		if a.Outcome != "" {
			what = string(a.Outcome) + " records"
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d %s", *a.Count, what),
			Actual:   fmt.Sprintf("%d %s", count, what),
			Trace:    trace,
		}
	}
	return nil
}

// matchAttrs checks that every expected attribute is present with equal
// canonical content. Keys are checked in sorted order so the reported
// mismatch is deterministic.
func matchAttrs(actual, expected doc.Object) (string, bool) {
	for _, k := range expected.SortedKeys() {
		got, ok := actual[k]
		if !ok || render(got) != render(expected[k]) {
			return k, false
		}
	}
	return "", true
}

func render(v doc.Value) string {
	if v == nil {
		return "<missing>"
	}
	b, err := doc.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(b)
}
