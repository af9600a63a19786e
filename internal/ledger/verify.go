package ledger

import (
	"context"

	"github.com/evidentry/evidentry/internal/hashchain"
)

// VerifyResult reports the outcome of a chain replay. A broken chain is an
// expected, valid query result — it is reported here, never as an error.
type VerifyResult struct {
	AssessmentID string `json:"assessment_id"`
	Verified     bool   `json:"verified"`
	Entries      int    `json:"entries"`
	// FailureIndex is the 0-based position of the first divergent entry.
	FailureIndex *int   `json:"failure_index,omitempty"`
	ExpectedHash string `json:"expected_hash,omitempty"`
	ActualHash   string `json:"actual_hash,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// entrySource is the read surface Verifier needs; Store satisfies it.
type entrySource interface {
	Entries(ctx context.Context, assessmentID string) ([]*Entry, error)
}

// Verifier replays an assessment's ledger end-to-end and reports the first
// point of divergence. It is read-only and safe to run alongside writers.
type Verifier struct {
	source entrySource
}

// NewVerifier creates a Verifier over the given store.
func NewVerifier(source entrySource) *Verifier {
	return &Verifier{source: source}
}

// Verify walks entries in creation order, recomputing each hash from stored
// fields and checking each prev_hash against the predecessor. An empty
// ledger verifies trivially. Integrity failures are never repaired — the
// chain's value is that tampering is detectable, not self-healing.
func (v *Verifier) Verify(ctx context.Context, assessmentID string) (*VerifyResult, error) {
	entries, err := v.source.Entries(ctx, assessmentID)
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{
		AssessmentID: assessmentID,
		Verified:     true,
		Entries:      len(entries),
	}

	var expectedPrev *string
	for i, e := range entries {
		idx := i

		if e.Seq != i {
			result.Verified = false
			result.FailureIndex = &idx
			result.Reason = "sequence gap"
			return result, nil
		}

		if !sameHash(e.PrevHash, expectedPrev) {
			result.Verified = false
			result.FailureIndex = &idx
			result.ExpectedHash = deref(expectedPrev)
			result.ActualHash = deref(e.PrevHash)
			result.Reason = "prev_hash mismatch"
			return result, nil
		}

		recomputed := hashchain.Compute(hashchain.Input{
			AssessmentID: e.AssessmentID,
			EntryType:    string(e.Type),
			Payload:      e.Payload,
			ActorID:      e.ActorID,
			ActorRole:    e.ActorRole,
			PrevHash:     e.PrevHash,
			CreatedAt:    e.CreatedAt,
		})
		if recomputed != e.Hash {
			result.Verified = false
			result.FailureIndex = &idx
			result.ExpectedHash = recomputed
			result.ActualHash = e.Hash
			result.Reason = "hash mismatch"
			return result, nil
		}

		h := e.Hash
		expectedPrev = &h
	}

	return result, nil
}

func sameHash(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
