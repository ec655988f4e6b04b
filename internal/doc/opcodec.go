package doc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Operations have two encodings sharing one shape, a list of single-key
// objects keyed by the operation kind:
//
//	- put:    {id: pablo, doc: {name: Pablo}, valid_from: ..., valid_to: ...}
//	- delete: {id: pablo, valid_from: ..., valid_to: ...}
//	- evict:  {id: pablo}
//	- match:  {id: pablo, doc: {...}, at: ...}
//	- invoke: {fn: bump, args: [...]}
//
// The wire form carries documents inline under "doc". The log form
// references them by content hash under "hash"; the documents themselves
// live in the document store.

const (
	wireDocKey = "doc"
	logDocKey  = "hash"
)

var opKeys = map[OpKind][]string{
	OpPut:    {"id", "valid_from", "valid_to"},
	OpDelete: {"id", "valid_from", "valid_to"},
	OpEvict:  {"id"},
	OpMatch:  {"id", "at"},
	OpInvoke: {"fn", "args"},
}

// ParseOps decodes a wire-format operation list from generic Go values,
// as produced by gopkg.in/yaml.v3, encoding/json or CUE.
func ParseOps(v any) ([]Op, error) {
	val, err := FromGo(v)
	if err != nil {
		return nil, fmt.Errorf("parse ops: %w", err)
	}
	arr, ok := val.(Array)
	if !ok {
		return nil, fmt.Errorf("parse ops: expected a list of operations, got %T", val)
	}
	ops := make([]Op, 0, len(arr))
	for i, elem := range arr {
		op, err := decodeOp(elem, wireDocKey, wireDocument)
		if err != nil {
			return nil, fmt.Errorf("parse ops: op[%d]: %w", i, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// ParseOpsJSON decodes a wire-format operation list from JSON.
func ParseOpsJSON(data []byte) ([]Op, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse ops: %w", err)
	}
	return ParseOps(raw)
}

// EncodeOps renders operations in the wire format. Redacted documents are
// rendered as "redacted: true" in place of the document.
func EncodeOps(ops []Op) (Array, error) {
	out := make(Array, 0, len(ops))
	for i, op := range ops {
		obj, err := encodeOp(op, func(d Document, redacted bool) (string, Value, error) {
			if redacted {
				return "redacted", Bool(true), nil
			}
			return wireDocKey, d.attrs(), nil
		})
		if err != nil {
			return nil, fmt.Errorf("encode op[%d]: %w", i, err)
		}
		out = append(out, obj)
	}
	return out, nil
}

// EncodeLogOps renders operations in the log form and returns the
// documents they reference, in first-reference order and without
// duplicates.
func EncodeLogOps(ops []Op) (Array, []Document, error) {
	out := make(Array, 0, len(ops))
	var docs []Document
	seen := make(map[string]bool)
	for i, op := range ops {
		obj, err := encodeOp(op, func(d Document, redacted bool) (string, Value, error) {
			if redacted {
				return "", nil, fmt.Errorf("document for %q is redacted", d.ID)
			}
			h, err := DocumentHash(d)
			if err != nil {
				return "", nil, err
			}
			if !seen[h] {
				seen[h] = true
				docs = append(docs, d)
			}
			return logDocKey, String(h), nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("encode op[%d]: %w", i, err)
		}
		out = append(out, obj)
	}
	return out, docs, nil
}

// DocResolver looks up a document by content hash. found is false when the
// document is no longer stored, which happens after eviction.
type DocResolver func(hash string) (d Document, found bool, err error)

// DecodeLogOps hydrates log-form operations. Documents the resolver cannot
// find come back redacted.
func DecodeLogOps(arr Array, resolve DocResolver) ([]Op, error) {
	ops := make([]Op, 0, len(arr))
	for i, elem := range arr {
		op, err := decodeOp(elem, logDocKey, func(id EntityID, v Value) (Document, bool, error) {
			h, ok := v.(String)
			if !ok {
				return Document{}, false, fmt.Errorf("hash must be a string, got %T", v)
			}
			d, found, err := resolve(string(h))
			if err != nil {
				return Document{}, false, err
			}
			if !found {
				return Document{ID: id}, true, nil
			}
			return d, false, nil
		})
		if err != nil {
			return nil, fmt.Errorf("decode op[%d]: %w", i, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func wireDocument(id EntityID, v Value) (Document, bool, error) {
	attrs, ok := v.(Object)
	if !ok {
		return Document{}, false, fmt.Errorf("doc must be an object, got %T", v)
	}
	return Document{ID: id, Attrs: attrs}, false, nil
}

type docEncoder func(d Document, redacted bool) (key string, v Value, err error)

type docDecoder func(id EntityID, v Value) (d Document, redacted bool, err error)

func encodeOp(op Op, encDoc docEncoder) (Object, error) {
	body := Object{}
	switch o := op.(type) {
	case PutOp:
		body["id"] = String(o.Doc.ID)
		k, v, err := encDoc(o.Doc, o.Redacted)
		if err != nil {
			return nil, err
		}
		body[k] = v
		putTime(body, "valid_from", o.ValidFrom)
		putTime(body, "valid_to", o.ValidTo)
	case DeleteOp:
		body["id"] = String(o.ID)
		putTime(body, "valid_from", o.ValidFrom)
		putTime(body, "valid_to", o.ValidTo)
	case EvictOp:
		body["id"] = String(o.ID)
	case MatchOp:
		body["id"] = String(o.ID)
		if o.Doc != nil {
			k, v, err := encDoc(*o.Doc, o.Redacted)
			if err != nil {
				return nil, err
			}
			body[k] = v
		}
		putTime(body, "at", o.AtValidTime)
	case InvokeOp:
		body["fn"] = String(o.Fn)
		body["args"] = o.args()
	default:
		return nil, fmt.Errorf("unknown operation type %T", op)
	}
	return Object{string(op.Kind()): body}, nil
}

func putTime(body Object, key string, t *time.Time) {
	if t != nil {
		body[key] = NewTime(*t)
	}
}

func decodeOp(v Value, docKey string, decDoc docDecoder) (Op, error) {
	obj, ok := v.(Object)
	if !ok || len(obj) != 1 {
		return nil, fmt.Errorf("operation must be a single-key object")
	}
	var kind OpKind
	var raw Value
	for k, val := range obj {
		kind, raw = OpKind(k), val
	}
	allowed, ok := opKeys[kind]
	if !ok {
		return nil, fmt.Errorf("unknown operation %q", kind)
	}
	body, ok := raw.(Object)
	if !ok {
		return nil, fmt.Errorf("%s: body must be an object, got %T", kind, raw)
	}
	if err := checkKeys(body, allowed, docKey, kind); err != nil {
		return nil, err
	}

	switch kind {
	case OpPut:
		id, err := idField(body, "id")
		if err != nil {
			return nil, fmt.Errorf("put: %w", err)
		}
		rawDoc, ok := body[docKey]
		if !ok {
			return nil, fmt.Errorf("put %q: %s is required", id, docKey)
		}
		d, redacted, err := decDoc(id, rawDoc)
		if err != nil {
			return nil, fmt.Errorf("put %q: %w", id, err)
		}
		from, to, err := intervalFields(body)
		if err != nil {
			return nil, fmt.Errorf("put %q: %w", id, err)
		}
		return PutOp{Doc: d, ValidFrom: from, ValidTo: to, Redacted: redacted}, nil

	case OpDelete:
		id, err := idField(body, "id")
		if err != nil {
			return nil, fmt.Errorf("delete: %w", err)
		}
		from, to, err := intervalFields(body)
		if err != nil {
			return nil, fmt.Errorf("delete %q: %w", id, err)
		}
		return DeleteOp{ID: id, ValidFrom: from, ValidTo: to}, nil

	case OpEvict:
		id, err := idField(body, "id")
		if err != nil {
			return nil, fmt.Errorf("evict: %w", err)
		}
		return EvictOp{ID: id}, nil

	case OpMatch:
		id, err := idField(body, "id")
		if err != nil {
			return nil, fmt.Errorf("match: %w", err)
		}
		m := MatchOp{ID: id}
		if rawDoc, ok := body[docKey]; ok {
			d, redacted, err := decDoc(id, rawDoc)
			if err != nil {
				return nil, fmt.Errorf("match %q: %w", id, err)
			}
			m.Doc, m.Redacted = &d, redacted
		}
		if m.AtValidTime, err = timeField(body, "at"); err != nil {
			return nil, fmt.Errorf("match %q: %w", id, err)
		}
		return m, nil

	default: // OpInvoke
		fn, err := idField(body, "fn")
		if err != nil {
			return nil, fmt.Errorf("invoke: %w", err)
		}
		inv := InvokeOp{Fn: fn, Args: Array{}}
		if rawArgs, ok := body["args"]; ok {
			args, ok := rawArgs.(Array)
			if !ok {
				return nil, fmt.Errorf("invoke %q: args must be a list, got %T", fn, rawArgs)
			}
			inv.Args = args
		}
		return inv, nil
	}
}

func checkKeys(body Object, allowed []string, docKey string, kind OpKind) error {
	for _, k := range body.SortedKeys() {
		if k == docKey && (kind == OpPut || kind == OpMatch) {
			continue
		}
		known := false
		for _, a := range allowed {
			if k == a {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("%s: unknown field %q", kind, k)
		}
	}
	return nil
}

func idField(body Object, key string) (EntityID, error) {
	v, ok := body[key]
	if !ok {
		return "", fmt.Errorf("%s is required", key)
	}
	switch id := v.(type) {
	case String:
		if id == "" {
			return "", fmt.Errorf("%s must not be empty", key)
		}
		return EntityID(id), nil
	case Int:
		return EntityID(strconv.FormatInt(int64(id), 10)), nil
	default:
		return "", fmt.Errorf("%s must be a string, got %T", key, v)
	}
}

func intervalFields(body Object) (from, to *time.Time, err error) {
	if from, err = timeField(body, "valid_from"); err != nil {
		return nil, nil, err
	}
	if to, err = timeField(body, "valid_to"); err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

func timeField(body Object, key string) (*time.Time, error) {
	v, ok := body[key]
	if !ok {
		return nil, nil
	}
	switch t := v.(type) {
	case Time:
		s := t.Std()
		return &s, nil
	case String:
		parsed, err := ParseTime(string(t))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		return &parsed, nil
	default:
		return nil, fmt.Errorf("%s must be a time, got %T", key, v)
	}
}

// ParseTime parses an RFC 3339 timestamp or a bare date (midnight UTC).
// The result is always UTC.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC 3339", s)
	}
	return t.UTC(), nil
}

// FormatTime renders a time the way the log and the CLI print it.
func FormatTime(t time.Time) string {
	return formatTime(t)
}
