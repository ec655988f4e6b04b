package engine

import (
	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/chronicle/internal/doc"
)

// FnAttr is the document attribute holding a transaction function's CUE
// source.
const FnAttr = "fn"

// evalCUEFunction runs a transaction function written in CUE.
//
// The program sees its arguments as the list `args` and defines `ops`, a
// list of operations in wire form:
//
//	args: [...]
//	ops: [{put: {id: args[0], doc: {balance: args[1]}}}]
//
// Arguments are filled as JSON so time values keep their {"$time": ...}
// form and come back out as times.
func evalCUEFunction(fn doc.EntityID, src string, args doc.Array) ([]doc.Op, *abortError) {
	ctx := cuecontext.New()

	v := ctx.CompileString(src, cue.Filename(string(fn)))
	if err := v.Err(); err != nil {
		return nil, abortf(doc.AbortFnFailed, "function %q: compile: %v", fn, err)
	}

	argsJSON, err := doc.MarshalValue(args)
	if err != nil {
		return nil, abortf(doc.AbortFnFailed, "function %q: args: %v", fn, err)
	}
	argsVal := ctx.CompileBytes(argsJSON, cue.Filename("args.json"))
	if err := argsVal.Err(); err != nil {
		return nil, abortf(doc.AbortFnFailed, "function %q: args: %v", fn, err)
	}
	v = v.FillPath(cue.ParsePath("args"), argsVal)

	opsVal := v.LookupPath(cue.ParsePath("ops"))
	if !opsVal.Exists() {
		return nil, abortf(doc.AbortInvalidFnResult, "function %q: no ops field", fn)
	}
	if err := opsVal.Validate(cue.Concrete(true)); err != nil {
		return nil, abortf(doc.AbortFnFailed, "function %q: %v", fn, err)
	}

	data, err := opsVal.MarshalJSON()
	if err != nil {
		return nil, abortf(doc.AbortFnFailed, "function %q: %v", fn, err)
	}
	ops, err := doc.ParseOpsJSON(data)
	if err != nil {
		return nil, abortf(doc.AbortInvalidFnResult, "function %q: %v", fn, err)
	}
	return ops, nil
}
