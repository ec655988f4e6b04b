package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/chronicle/internal/doc"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Start is the time of the first transaction (RFC 3339).
	// Defaults to testutil.Epoch.
	Start string `yaml:"start,omitempty"`

	// Step is how far the clock advances per transaction. Defaults to 1s.
	Step time.Duration `yaml:"step,omitempty"`

	// Setup transactions establish initial state and must commit.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow is the main test flow.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final database.
	Assertions []Assertion `yaml:"assertions"`

	start time.Time
}

// Step is one transaction.
type Step struct {
	// Tx is the operation list in the wire format.
	Tx []any `yaml:"tx"`

	// Expect checks the transaction's outcome. If nil, any outcome passes.
	Expect *Expect `yaml:"expect,omitempty"`

	ops []doc.Op
}

// Ops returns the parsed operations. Valid after LoadScenario or
// ParseScenario.
func (s Step) Ops() []doc.Op {
	return s.ops
}

// Expect is the expected outcome of a step.
type Expect struct {
	// Outcome is "committed" or "aborted".
	Outcome doc.Outcome `yaml:"outcome"`

	// Reason is the expected abort reason. Only valid with "aborted".
	Reason doc.AbortReason `yaml:"reason,omitempty"`
}

// Assertion validates the final database.
type Assertion struct {
	// Type specifies the assertion type:
	// - "entity": the entity is visible and its attributes include Expect
	// - "absent": the entity is not visible
	// - "history_count": the entity has Count versions
	// - "log_count": the log holds Count records (of Outcome, if set)
	Type string `yaml:"type"`

	// ID is the entity (entity, absent, history_count).
	ID string `yaml:"id,omitempty"`

	// Expect is a subset of the expected attributes (entity).
	Expect map[string]any `yaml:"expect,omitempty"`

	// AsOfTx pins the view to a transaction. Defaults to the latest.
	AsOfTx *int64 `yaml:"as_of_tx,omitempty"`

	// At is the valid time to read at (RFC 3339). Defaults to now.
	At string `yaml:"at,omitempty"`

	// Count is the expected number (history_count, log_count).
	Count *int `yaml:"count,omitempty"`

	// Outcome filters log_count.
	Outcome doc.Outcome `yaml:"outcome,omitempty"`

	expect doc.Object
	at     *time.Time
}

// Assertion type constants.
const (
	AssertEntity       = "entity"
	AssertAbsent       = "absent"
	AssertHistoryCount = "history_count"
	AssertLogCount     = "log_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks required fields and parses operations, times
// and expected attributes.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Start != "" {
		t, err := doc.ParseTime(s.Start)
		if err != nil {
			return fmt.Errorf("start: %w", err)
		}
		s.start = t
	}
	if s.Step < 0 {
		return fmt.Errorf("step must be positive, got %s", s.Step)
	}

	for i := range s.Setup {
		if err := validateStep(&s.Setup[i]); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if s.Setup[i].Expect != nil {
			return fmt.Errorf("setup[%d]: expect is not allowed in setup", i)
		}
	}
	for i := range s.Flow {
		if err := validateStep(&s.Flow[i]); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(st *Step) error {
	if len(st.Tx) == 0 {
		return fmt.Errorf("tx is required and must be non-empty")
	}
	ops, err := doc.ParseOps(st.Tx)
	if err != nil {
		return err
	}
	if err := doc.ValidateOps(ops); err != nil {
		return err
	}
	st.ops = ops

	if e := st.Expect; e != nil {
		switch e.Outcome {
		case doc.OutcomeCommitted:
			if e.Reason != "" {
				return fmt.Errorf("expect: reason is only valid for aborted")
			}
		case doc.OutcomeAborted:
		default:
			return fmt.Errorf("expect: outcome must be committed or aborted, got %q", e.Outcome)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertEntity:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for entity", index)
		}
		v, err := doc.FromGo(a.Expect)
		if err != nil {
			return fmt.Errorf("assertions[%d]: expect: %w", index, err)
		}
		obj, ok := v.(doc.Object)
		if !ok {
			return fmt.Errorf("assertions[%d]: expect must be an object", index)
		}
		a.expect = obj
	case AssertAbsent:
	case AssertHistoryCount, AssertLogCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for %s", index, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Type != AssertLogCount && a.ID == "" {
		return fmt.Errorf("assertions[%d]: id is required for %s", index, a.Type)
	}
	if a.At != "" {
		t, err := doc.ParseTime(a.At)
		if err != nil {
			return fmt.Errorf("assertions[%d]: at: %w", index, err)
		}
		a.at = &t
	}
	return nil
}
