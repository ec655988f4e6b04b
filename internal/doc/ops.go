package doc

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// OpKind names a transaction operation variant.
type OpKind string

const (
	OpPut    OpKind = "put"
	OpDelete OpKind = "delete"
	OpEvict  OpKind = "evict"
	OpMatch  OpKind = "match"
	OpInvoke OpKind = "invoke"
)

// Op is a sealed interface over the transaction operation variants.
// Only PutOp, DeleteOp, EvictOp, MatchOp and InvokeOp implement it;
// consumers dispatch with a type switch.
type Op interface {
	Kind() OpKind
	// Entity returns the entity the operation targets. For InvokeOp it is
	// the function entity.
	Entity() EntityID
	validate() error
}

// PutOp writes a document version over [ValidFrom, ValidTo).
// A nil ValidFrom means the transaction time; a nil ValidTo means forever.
type PutOp struct {
	Doc       Document
	ValidFrom *time.Time
	ValidTo   *time.Time

	// Redacted is set on ops read back from the log whose document was
	// evicted. Doc then carries only the id.
	Redacted bool
}

// DeleteOp writes a tombstone over [ValidFrom, ValidTo).
type DeleteOp struct {
	ID        EntityID
	ValidFrom *time.Time
	ValidTo   *time.Time
}

// EvictOp irreversibly removes every version of an entity.
type EvictOp struct {
	ID EntityID
}

// MatchOp asserts the state of an entity before the transaction applies.
// A nil Doc asserts absence. A nil AtValidTime means the transaction time.
type MatchOp struct {
	ID          EntityID
	Doc         *Document
	AtValidTime *time.Time

	// Redacted is set when the expected document was evicted after the
	// transaction was logged.
	Redacted bool
}

// InvokeOp calls a transaction function. The function's resulting
// operations are applied in place of the invoke.
type InvokeOp struct {
	Fn   EntityID
	Args Array
}

func (PutOp) Kind() OpKind    { return OpPut }
func (DeleteOp) Kind() OpKind { return OpDelete }
func (EvictOp) Kind() OpKind  { return OpEvict }
func (MatchOp) Kind() OpKind  { return OpMatch }
func (InvokeOp) Kind() OpKind { return OpInvoke }

func (o PutOp) Entity() EntityID    { return o.Doc.ID }
func (o DeleteOp) Entity() EntityID { return o.ID }
func (o EvictOp) Entity() EntityID  { return o.ID }
func (o MatchOp) Entity() EntityID  { return o.ID }
func (o InvokeOp) Entity() EntityID { return o.Fn }

func (o PutOp) validate() error {
	if err := o.Doc.Validate(); err != nil {
		return err
	}
	return validateInterval(o.ValidFrom, o.ValidTo)
}

func (o DeleteOp) validate() error {
	if o.ID == "" {
		return fmt.Errorf("delete: id is required")
	}
	return validateInterval(o.ValidFrom, o.ValidTo)
}

func (o EvictOp) validate() error {
	if o.ID == "" {
		return fmt.Errorf("evict: id is required")
	}
	return nil
}

func (o MatchOp) validate() error {
	if o.ID == "" {
		return fmt.Errorf("match: id is required")
	}
	if o.Doc != nil {
		if o.Doc.ID != o.ID {
			return fmt.Errorf("match: document id %q does not match id %q", o.Doc.ID, o.ID)
		}
		if err := o.Doc.Validate(); err != nil {
			return fmt.Errorf("match: %w", err)
		}
	}
	return nil
}

func (o InvokeOp) validate() error {
	if o.Fn == "" {
		return fmt.Errorf("invoke: function id is required")
	}
	if _, err := MarshalCanonical(o.args()); err != nil {
		return fmt.Errorf("invoke %q: args: %w", o.Fn, err)
	}
	return nil
}

func (o InvokeOp) args() Array {
	if o.Args == nil {
		return Array{}
	}
	return o.Args
}

// validateInterval enforces from < to when both ends are given.
// A missing start defaults to the transaction time, which is not known
// until the applier runs; it checks the interval again then.
func validateInterval(from, to *time.Time) error {
	if from != nil && to != nil && !from.Before(*to) {
		return fmt.Errorf("valid_from %s must be before valid_to %s",
			formatTime(*from), formatTime(*to))
	}
	return nil
}

// ValidateOps checks every operation and reports all problems at once.
// An empty transaction is invalid.
func ValidateOps(ops []Op) error {
	if len(ops) == 0 {
		return fmt.Errorf("transaction has no operations")
	}
	var result *multierror.Error
	for i, op := range ops {
		if op == nil {
			result = multierror.Append(result, fmt.Errorf("op[%d]: nil operation", i))
			continue
		}
		if err := op.validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("op[%d] %s: %w", i, op.Kind(), err))
		}
	}
	return result.ErrorOrNil()
}

// Put creates a put effective from the transaction time.
func Put(d Document) PutOp { return PutOp{Doc: d} }

// PutAt creates a put effective from validFrom.
func PutAt(d Document, validFrom time.Time) PutOp {
	return PutOp{Doc: d, ValidFrom: timePtr(validFrom)}
}

// PutBetween creates a put effective over [validFrom, validTo).
func PutBetween(d Document, validFrom, validTo time.Time) PutOp {
	return PutOp{Doc: d, ValidFrom: timePtr(validFrom), ValidTo: timePtr(validTo)}
}

// Delete creates a delete effective from the transaction time.
func Delete(id EntityID) DeleteOp { return DeleteOp{ID: id} }

// DeleteAt creates a delete effective from validFrom.
func DeleteAt(id EntityID, validFrom time.Time) DeleteOp {
	return DeleteOp{ID: id, ValidFrom: timePtr(validFrom)}
}

// DeleteBetween creates a delete effective over [validFrom, validTo).
func DeleteBetween(id EntityID, validFrom, validTo time.Time) DeleteOp {
	return DeleteOp{ID: id, ValidFrom: timePtr(validFrom), ValidTo: timePtr(validTo)}
}

// Evict creates an eviction.
func Evict(id EntityID) EvictOp { return EvictOp{ID: id} }

// Match asserts the entity currently equals d.
func Match(d Document) MatchOp {
	return MatchOp{ID: d.ID, Doc: &d}
}

// MatchAt asserts the entity equals d at validTime.
func MatchAt(d Document, validTime time.Time) MatchOp {
	return MatchOp{ID: d.ID, Doc: &d, AtValidTime: timePtr(validTime)}
}

// MatchNotExists asserts the entity is currently absent.
func MatchNotExists(id EntityID) MatchOp { return MatchOp{ID: id} }

// MatchNotExistsAt asserts the entity is absent at validTime.
func MatchNotExistsAt(id EntityID, validTime time.Time) MatchOp {
	return MatchOp{ID: id, AtValidTime: timePtr(validTime)}
}

// Invoke calls the transaction function fn with args.
func Invoke(fn EntityID, args ...Value) InvokeOp {
	return InvokeOp{Fn: fn, Args: Array(args)}
}

func timePtr(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}
