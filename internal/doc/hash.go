package doc

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainDocument = "chronicle/document/v1"
	DomainIndex    = "chronicle/index/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// HashBytes hashes arbitrary canonical bytes under a domain prefix.
// Used by the index fingerprint.
func HashBytes(domain string, data []byte) string {
	return hashWithDomain(domain, data)
}

// DocumentHash computes the content address of a document.
// The entity id is part of the hash: identical attributes under two
// entities are two different documents, so evicting one never redacts
// the other.
func DocumentHash(d Document) (string, error) {
	canonical, err := d.Canonical()
	if err != nil {
		return "", fmt.Errorf("DocumentHash: %w", err)
	}
	return hashWithDomain(DomainDocument, canonical), nil
}

// MustDocumentHash is like DocumentHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustDocumentHash(d Document) string {
	h, err := DocumentHash(d)
	if err != nil {
		panic(err)
	}
	return h
}
