// Package hashid computes the content fingerprint used as the idempotency
// anchor across the data plane: replica verification and index.request
// dedup both key off the same hash. (Local ingestion dedups by bookId alone.)
package hashid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Hash returns the lowercase hex SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IdempotencyKey builds the "<bookId>:<contentHash>" key used to dedup
// index.request processing and to compare logical document versions.
func IdempotencyKey(bookID int64, contentHash string) string {
	return fmt.Sprintf("%d:%s", bookID, contentHash)
}
