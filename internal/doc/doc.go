// Package doc provides the document and transaction model for Chronicle.
//
// This package contains value types, documents, operations and transaction
// records. All other internal packages import doc; doc imports nothing
// internal, so the model stays the foundational layer with no cycles.
//
// Key design constraints:
//   - Integral numbers are int64; other numbers are finite float64
//     rendered per RFC 8785
//   - null is a stored value, distinct from an absent attribute
//   - Identity (EntityID) lives beside the attributes, never inside them
//   - Documents are content-addressed via RFC 8785 canonical JSON + SHA-256
//   - All JSON tags use snake_case
package doc
