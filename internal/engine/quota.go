package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxOpsPerTx bounds the index effects one transaction may stage,
// counting everything its transaction functions produce.
const DefaultMaxOpsPerTx = 10000

// QuotaEnforcer counts the effects a transaction stages and enforces the
// per-transaction limit.
//
// A fresh enforcer is created for every transaction. It catches functions
// that expand into very many operations, as opposed to recursive
// invocation, which invokeGuard catches.
type QuotaEnforcer struct {
	txID    int64
	maxOps  int
	current int
}

// NewQuotaEnforcer creates an enforcer allowing maxOps effects for txID.
func NewQuotaEnforcer(txID int64, maxOps int) *QuotaEnforcer {
	return &QuotaEnforcer{txID: txID, maxOps: maxOps}
}

// Check counts one effect and validates against the limit.
// Returns OpsExceededError once the limit is passed.
func (q *QuotaEnforcer) Check() error {
	q.current++
	if q.current > q.maxOps {
		return &OpsExceededError{TxID: q.txID, Ops: q.current, Limit: q.maxOps}
	}
	return nil
}

// Current returns the number of effects counted so far.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// OpsExceededError reports a transaction that staged too many effects.
type OpsExceededError struct {
	TxID  int64
	Ops   int
	Limit int
}

func (e *OpsExceededError) Error() string {
	return fmt.Sprintf("tx %d exceeded max operations: %d ops > %d limit", e.TxID, e.Ops, e.Limit)
}

// IsOpsExceededError returns true if the error is an OpsExceededError.
func IsOpsExceededError(err error) bool {
	var oe *OpsExceededError
	return errors.As(err, &oe)
}
