// Package hashid computes the deterministic, wire-stable identifiers the
// coordinator uses for tasks and indexes. The hash is pinned to
// xxhash.Sum64 — a 64-bit, non-cryptographic, stable-across-restarts
// function already present in the dependency closure (cespare/xxhash/v2,
// used indirectly by the hashicorp/raft stack) — rendered as lowercase hex.
// Once pinned, this choice must not change: task and index ids are
// persisted and cross the wire.
package hashid

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

const sep = byte(0x1f) // ASCII unit separator, used between hashed fields

// TaskID returns the deterministic id for a (binding name, binding
// repository, content id) triple. It is a pure function of its inputs:
// replaying the same triple always yields the same id.
func TaskID(bindingName, bindingRepository, contentID string) string {
	return hashParts(bindingName, bindingRepository, contentID)
}

// IndexID returns the deterministic id for a (repository, index name) pair.
func IndexID(repository, name string) string {
	return hashParts(repository, name)
}

func hashParts(parts ...string) string {
	d := xxhash.New()
	for i, p := range parts {
		if i > 0 {
			_, _ = d.Write([]byte{sep})
		}
		_, _ = d.Write([]byte(p))
	}
	return fmt.Sprintf("%x", d.Sum64())
}
