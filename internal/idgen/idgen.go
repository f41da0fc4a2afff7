// Package idgen generates identifiers: UUIDs for stored entities and
// the hash-derived author identity.
package idgen

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"lukechampine.com/blake3"

	"github.com/thinktank-hq/notebook/internal/types"
)

// NewID returns a random UUIDv4 string. Notebooks, entries, jobs,
// subscriptions, and mirrored rows all use this form.
func NewID() string {
	return uuid.NewString()
}

// ParseID validates that s is a canonical UUID string.
func ParseID(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid id %q: %w", s, err)
	}
	return u.String(), nil
}

// IsID reports whether s parses as a UUID.
func IsID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// DeriveAuthorID computes the author identity for a signing key:
// the BLAKE3 hash of the 32-byte Ed25519 public key, hex-encoded.
func DeriveAuthorID(pub ed25519.PublicKey) (types.AuthorID, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
	sum := blake3.Sum256(pub)
	return types.AuthorID(hex.EncodeToString(sum[:])), nil
}

// ParseAuthorID normalizes and validates a hex author identity.
func ParseAuthorID(s string) (types.AuthorID, error) {
	a := types.AuthorID(strings.ToLower(strings.TrimSpace(s)))
	if err := a.Validate(); err != nil {
		return "", err
	}
	return a, nil
}
