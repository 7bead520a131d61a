// Package util holds the id scheme shared by every entity: a type prefix
// (usr, fld, fil, msg) or token prefix (jti, rft) followed by random hex.
// Ids are opaque to clients; only the prefix is meaningful, and only for
// debugging.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

const idEntropyBytes = 16

// NewID returns a fresh identifier. An empty prefix yields bare hex, used
// for the random half of refresh tokens.
func NewID(prefix string) string {
	raw := make([]byte, idEntropyBytes)
	_, _ = rand.Read(raw)
	if prefix == "" {
		return hex.EncodeToString(raw)
	}
	return prefix + "_" + hex.EncodeToString(raw)
}
