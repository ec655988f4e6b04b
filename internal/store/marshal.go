package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/chronicle/internal/doc"
)

// marshalOps converts operations to canonical JSON TEXT in the log form.
// Returns the documents the operations reference.
func marshalOps(ops []doc.Op) (string, []doc.Document, error) {
	arr, docs, err := doc.EncodeLogOps(ops)
	if err != nil {
		return "", nil, fmt.Errorf("marshal ops: %w", err)
	}
	data, err := doc.MarshalCanonical(arr)
	if err != nil {
		return "", nil, fmt.Errorf("marshal ops: %w", err)
	}
	return string(data), docs, nil
}

// marshalEffects converts effects to canonical JSON TEXT.
func marshalEffects(effects []doc.Effect) (string, error) {
	arr, err := doc.EncodeEffects(effects)
	if err != nil {
		return "", fmt.Errorf("marshal effects: %w", err)
	}
	data, err := doc.MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("marshal effects: %w", err)
	}
	return string(data), nil
}

// unmarshalArray parses canonical JSON TEXT to an Array.
// Uses doc.Array.UnmarshalJSON, which keeps large integers exact.
func unmarshalArray(data string) (doc.Array, error) {
	if data == "" || data == "[]" {
		return doc.Array{}, nil
	}
	var arr doc.Array
	if err := json.Unmarshal([]byte(data), &arr); err != nil {
		return nil, err
	}
	return arr, nil
}

func unmarshalEffects(data string) ([]doc.Effect, error) {
	arr, err := unmarshalArray(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal effects: %w", err)
	}
	effects, err := doc.DecodeEffects(arr)
	if err != nil {
		return nil, fmt.Errorf("unmarshal effects: %w", err)
	}
	return effects, nil
}

// txTime converts a stored tx_time to a UTC time.
func txTime(nanos int64) time.Time {
	return time.Unix(0, nanos).UTC()
}
