// Package hashchain implements the canonical digest used to link
// evidence ledger entries into a tamper-evident chain.
//
// Each entry's hash commits to the entry's own fields plus the hash of the
// entry immediately preceding it for the same assessment. The first entry
// of an assessment has no predecessor and its PrevHash is nil, encoded as
// the empty string in the canonical byte stream.
package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Input holds every field that participates in an entry hash, in the order
// they are serialized. CreatedAt is fixed at write time and must be reused
// verbatim when recomputing — it is never re-derived at read time.
type Input struct {
	AssessmentID string
	EntryType    string
	Payload      []byte
	ActorID      string
	ActorRole    string
	PrevHash     *string
	CreatedAt    time.Time
}

// Compute returns the hex-encoded SHA-256 digest over the canonical byte
// encoding of in. The encoding is pipe-separated fields in fixed order with
// the timestamp rendered as RFC3339Nano in UTC. Payload bytes are included
// verbatim; callers must pass the exact bytes persisted alongside the entry.
func Compute(in Input) string {
	prev := ""
	if in.PrevHash != nil {
		prev = *in.PrevHash
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s|",
		in.AssessmentID, in.EntryType, in.ActorID, in.ActorRole,
		prev, in.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	h.Write(in.Payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
