package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/chronicle/internal/doc"
)

// TraceSnapshot captures the complete trace for a scenario execution.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// MarshalCanonical renders the snapshot as canonical JSON, the golden file
// format.
func (s TraceSnapshot) MarshalCanonical() ([]byte, error) {
	events := make(doc.Array, len(s.Trace))
	for i, e := range s.Trace {
		events[i] = e.canonical()
	}
	return doc.MarshalCanonical(doc.Object{
		"scenario_name": doc.String(s.ScenarioName),
		"trace":         events,
	})
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := TraceSnapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
	}.MarshalCanonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}
