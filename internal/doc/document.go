package doc

import (
	"encoding/json"
	"fmt"
)

// EntityID is the application-supplied identity of an entity.
// It is opaque to the database and stable for the entity's lifetime.
type EntityID string

// Document is one immutable version of an entity's content.
// The identity is kept beside the attributes, never inside them.
type Document struct {
	ID    EntityID `json:"id"`
	Attrs Object   `json:"attrs"`
}

// NewDocument creates a document from typed pairs.
func NewDocument(id EntityID, pairs ...Pair) Document {
	return Document{ID: id, Attrs: NewObject(pairs...)}
}

// Validate checks the document can be stored and hashed.
func (d Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("document id is required")
	}
	if _, err := MarshalCanonical(d.attrs()); err != nil {
		return fmt.Errorf("document %q: %w", d.ID, err)
	}
	return nil
}

func (d Document) attrs() Object {
	if d.Attrs == nil {
		return Object{}
	}
	return d.Attrs
}

// Canonical returns the canonical JSON body of the document.
// Format: {"attrs":{...},"id":"..."}
func (d Document) Canonical() ([]byte, error) {
	if d.ID == "" {
		return nil, fmt.Errorf("document id is required")
	}
	return MarshalCanonical(Object{
		"id":    String(d.ID),
		"attrs": d.attrs(),
	})
}

// Equal reports whether two documents have identical identity and content.
func (d Document) Equal(other Document) bool {
	a, errA := d.Canonical()
	b, errB := other.Canonical()
	if errA != nil || errB != nil {
		return false
	}
	return string(a) == string(b)
}

// ParseDocument decodes a canonical document body produced by Canonical.
func ParseDocument(data []byte) (Document, error) {
	var raw struct {
		ID    string `json:"id"`
		Attrs Object `json:"attrs"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Document{}, fmt.Errorf("parse document: %w", err)
	}
	if raw.ID == "" {
		return Document{}, fmt.Errorf("parse document: missing id")
	}
	if raw.Attrs == nil {
		raw.Attrs = Object{}
	}
	return Document{ID: EntityID(raw.ID), Attrs: raw.Attrs}, nil
}
