package engine

import (
	"fmt"

	"github.com/roach88/chronicle/internal/doc"
)

// DefaultMaxInvokeDepth bounds nested transaction function calls.
const DefaultMaxInvokeDepth = 16

// invokeGuard tracks the chain of transaction function calls inside one
// transaction and stops runaway nesting.
//
// Two checks are made on every invoke:
//   - depth: the chain may not grow past maxDepth
//   - cycle: a function already on the chain may not be invoked again with
//     the same arguments, since it would expand the same way forever
//
// Both end the transaction with AbortInvokeDepthExceeded.
type invokeGuard struct {
	maxDepth int
	stack    []string            // call keys, outermost first
	active   map[string]struct{} // keys currently on the stack
}

func newInvokeGuard(maxDepth int) *invokeGuard {
	return &invokeGuard{maxDepth: maxDepth, active: make(map[string]struct{})}
}

// enter pushes a call. The returned func pops it.
func (g *invokeGuard) enter(fn doc.EntityID, args doc.Array) (func(), *abortError) {
	if len(g.stack) >= g.maxDepth {
		return nil, abortf(doc.AbortInvokeDepthExceeded,
			"invoke of %q exceeds max depth %d", fn, g.maxDepth)
	}

	key, err := callKey(fn, args)
	if err != nil {
		return nil, abortf(doc.AbortFnFailed, "invoke %q: %v", fn, err)
	}
	if _, ok := g.active[key]; ok {
		return nil, abortf(doc.AbortInvokeDepthExceeded,
			"function %q invoked itself with the same arguments", fn)
	}

	g.stack = append(g.stack, key)
	g.active[key] = struct{}{}
	return func() {
		g.stack = g.stack[:len(g.stack)-1]
		delete(g.active, key)
	}, nil
}

// Depth returns the current nesting depth.
func (g *invokeGuard) Depth() int {
	return len(g.stack)
}

// callKey identifies a call by function and canonical arguments.
func callKey(fn doc.EntityID, args doc.Array) (string, error) {
	if args == nil {
		args = doc.Array{}
	}
	data, err := doc.MarshalCanonical(args)
	if err != nil {
		return "", fmt.Errorf("args: %w", err)
	}
	return string(fn) + "\x00" + string(data), nil
}
