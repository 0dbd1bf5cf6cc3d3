package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// keyNamespace prefixes every search cache key so ad hoc keys (status
// snapshots, token slots) can never collide with response entries.
const keyNamespace = "search:"

// DefaultCollection is assumed when a request does not name one.
const DefaultCollection = "default"

// GenerateKey derives a deterministic cache key from the logical request.
// The query is lower-cased and trimmed first, so requests differing only in
// case or surrounding whitespace share one cache identity. The fingerprint
// is hashed and truncated to keep keys fixed-width regardless of query size.
func GenerateKey(query string, maxResults int, collection string) string {
	q := strings.ToLower(strings.TrimSpace(query))
	if collection == "" {
		collection = DefaultCollection
	}
	fingerprint := fmt.Sprintf("%s|%d|%s", q, maxResults, strings.ToLower(collection))
	sum := sha256.Sum256([]byte(fingerprint))
	return keyNamespace + hex.EncodeToString(sum[:16])
}
