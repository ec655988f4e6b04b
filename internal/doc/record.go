package doc

import (
	"fmt"
	"time"
)

// Outcome is the result of applying a transaction.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeAborted   Outcome = "aborted"
)

// AbortReason explains an aborted outcome.
type AbortReason string

const (
	AbortMatchFailed         AbortReason = "match-failed"
	AbortFnFailed            AbortReason = "fn-failed"
	AbortQuotaExceeded       AbortReason = "quota-exceeded"
	AbortInvokeDepthExceeded AbortReason = "invoke-depth-exceeded"
	AbortInvalidFnResult     AbortReason = "invalid-fn-result"
	AbortInvalidInterval     AbortReason = "invalid-interval"
)

// TxRecord is one entry of the transaction log. Records are appended
// exactly once and never modified.
type TxRecord struct {
	TxID         int64       `json:"tx_id"`
	TxTime       time.Time   `json:"tx_time"`
	SubmissionID string      `json:"submission_id"`
	Outcome      Outcome     `json:"outcome"`
	AbortReason  AbortReason `json:"abort_reason,omitempty"`
	AbortDetail  string      `json:"abort_detail,omitempty"`

	// Ops is the submitted operation list, unmodified. Populated only when
	// the log is opened with operations.
	Ops []Op `json:"-"`

	// Effects are the index changes the transaction made, in order.
	// Empty for aborted records.
	Effects []Effect `json:"-"`
}

// Committed reports whether the transaction changed the index.
func (r TxRecord) Committed() bool {
	return r.Outcome == OutcomeCommitted
}

// Effect is one index change made by a committed transaction. Invokes are
// expanded and matches dropped; a missing valid_from is resolved to the
// transaction time, so effects replay without knowing it.
type Effect struct {
	Kind      OpKind
	ID        EntityID
	Hash      string // put only
	ValidFrom time.Time
	ValidTo   *time.Time
}

// EncodeEffects renders effects for the log.
func EncodeEffects(effects []Effect) (Array, error) {
	out := make(Array, 0, len(effects))
	for i, e := range effects {
		obj := Object{
			"kind": String(e.Kind),
			"id":   String(e.ID),
		}
		switch e.Kind {
		case OpPut:
			if e.Hash == "" {
				return nil, fmt.Errorf("effect[%d]: put without hash", i)
			}
			obj["hash"] = String(e.Hash)
			fallthrough
		case OpDelete:
			obj["valid_from"] = NewTime(e.ValidFrom)
			putTime(obj, "valid_to", e.ValidTo)
		case OpEvict:
		default:
			return nil, fmt.Errorf("effect[%d]: invalid kind %q", i, e.Kind)
		}
		out = append(out, obj)
	}
	return out, nil
}

// DecodeEffects parses effects read from the log.
func DecodeEffects(arr Array) ([]Effect, error) {
	out := make([]Effect, 0, len(arr))
	for i, elem := range arr {
		obj, ok := elem.(Object)
		if !ok {
			return nil, fmt.Errorf("effect[%d]: expected object, got %T", i, elem)
		}
		kind, _ := obj["kind"].(String)
		id, err := idField(obj, "id")
		if err != nil {
			return nil, fmt.Errorf("effect[%d]: %w", i, err)
		}
		e := Effect{Kind: OpKind(kind), ID: id}
		switch e.Kind {
		case OpPut:
			h, _ := obj["hash"].(String)
			if h == "" {
				return nil, fmt.Errorf("effect[%d]: put without hash", i)
			}
			e.Hash = string(h)
			fallthrough
		case OpDelete:
			from, to, err := intervalFields(obj)
			if err != nil {
				return nil, fmt.Errorf("effect[%d]: %w", i, err)
			}
			if from == nil {
				return nil, fmt.Errorf("effect[%d]: missing valid_from", i)
			}
			e.ValidFrom, e.ValidTo = *from, to
		case OpEvict:
		default:
			return nil, fmt.Errorf("effect[%d]: invalid kind %q", i, kind)
		}
		out = append(out, e)
	}
	return out, nil
}
