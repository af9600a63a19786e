package ledger

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
)

// ErrTailMoved is returned by a single append attempt when a concurrent
// writer advanced the assessment's chain tail between the tail read and the
// compare-and-set. It is a benign race; callers retry the whole attempt.
var ErrTailMoved = errors.New("ledger tail moved")

// ErrTailConflict is returned when the bounded retry budget for a contested
// append is exhausted. It signals sustained write contention on one
// assessment, not data corruption.
var ErrTailConflict = errors.New("ledger append conflict: retries exhausted")

// ErrInvalidEntryType is returned when an append names an entry type outside
// the enumerated set.
var ErrInvalidEntryType = errors.New("invalid ledger entry type")

// ListOptions filter and page a ledger read.
type ListOptions struct {
	// Type restricts results to one entry type when non-empty.
	Type EntryType
	// AfterSeq returns entries with seq strictly greater. -1 means from the start.
	AfterSeq int
	// Limit caps the page size. Values <= 0 fall back to 50.
	Limit int
}

// Store is the persistence interface for the evidence ledger. Both
// MemoryStore and PostgresStore implement it.
//
// Append is the only write. The per-assessment chain is advanced under a
// compare-and-set on the current tail hash, so concurrent appends for the
// same assessment serialize and forks are impossible; appends for different
// assessments never contend.
type Store interface {
	Append(ctx context.Context, req AppendRequest) (*Entry, error)

	// Tail returns the most recently appended entry for an assessment, or
	// (nil, nil) when its ledger is empty.
	Tail(ctx context.Context, assessmentID string) (*Entry, error)

	// Entries returns every entry for an assessment in creation (seq) order,
	// as a snapshot read safe to run alongside writers.
	Entries(ctx context.Context, assessmentID string) ([]*Entry, error)

	// List returns one page of entries in seq order.
	List(ctx context.Context, assessmentID string, opt ListOptions) ([]*Entry, error)
}

// EncodeCursor renders a pagination cursor for the entry with the given seq.
// Clients pass it back verbatim; the next page starts after that seq.
func EncodeCursor(seq int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(seq)))
}

// DecodeCursor parses a cursor produced by EncodeCursor.
func DecodeCursor(cursor string) (int, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("decode cursor: %w", err)
	}
	seq, err := strconv.Atoi(string(raw))
	if err != nil || seq < 0 {
		return 0, fmt.Errorf("malformed cursor %q", cursor)
	}
	return seq, nil
}

func normalizeAppend(req *AppendRequest) error {
	if req.AssessmentID == "" {
		return errors.New("assessment id is required")
	}
	if !ValidEntryType(req.Type) {
		return fmt.Errorf("%w: %q", ErrInvalidEntryType, req.Type)
	}
	if len(req.Payload) == 0 {
		req.Payload = []byte("{}")
	}
	return nil
}
