package storage

import (
	"fmt"
	"time"
)

// Key schema:
//
//	match:<unix-nanos, 20 digits>:<id> → MatchRecord (JSON)
//
// The timestamp is zero-padded so that lexicographic order is time order.
const prefixMatch = "match:"

func matchKey(t time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixMatch, t.UnixNano(), id))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
