package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// AttachmentRef is attachment metadata carried on the ledger. Blobs live in
// an external store and are never fetched by this subsystem.
type AttachmentRef struct {
	StorageKey  string `json:"storage_key"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// ApprovalPayload is the payload for APPROVAL entries: a reviewer verdict of
// APPROVED or CONDITIONAL at a workflow step.
type ApprovalPayload struct {
	Step               string          `json:"step"`
	Status             string          `json:"status"`
	Notes              string          `json:"notes,omitempty"`
	ReasonCodes        []string        `json:"reason_codes,omitempty"`
	EvidenceSnapshotID *uuid.UUID      `json:"evidence_snapshot_id,omitempty"`
	Attachments        []AttachmentRef `json:"attachments,omitempty"`
}

// RejectionPayload is the payload for REJECTION entries.
type RejectionPayload struct {
	Step               string          `json:"step"`
	Notes              string          `json:"notes,omitempty"`
	ReasonCodes        []string        `json:"reason_codes,omitempty"`
	EvidenceSnapshotID *uuid.UUID      `json:"evidence_snapshot_id,omitempty"`
	Attachments        []AttachmentRef `json:"attachments,omitempty"`
}

// StatusChangePayload records a lifecycle transition of a referenced entity,
// e.g. a membership revocation that affects an assessment already on the ledger.
type StatusChangePayload struct {
	Subject string `json:"subject"` // "membership", "council", "assessment"
	From    string `json:"from"`
	To      string `json:"to"`
	Notes   string `json:"notes,omitempty"`
}

// EscalationPayload records an escalation of the assessment to another body
// or reviewer.
type EscalationPayload struct {
	Reason      string `json:"reason"`
	EscalatedTo string `json:"escalated_to,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// EvidenceAddedPayload records the attachment of new evidence metadata.
type EvidenceAddedPayload struct {
	EvidenceSnapshotID *uuid.UUID      `json:"evidence_snapshot_id,omitempty"`
	Attachments        []AttachmentRef `json:"attachments,omitempty"`
	Description        string          `json:"description,omitempty"`
}

// CommentPayload records a free-text remark. CorrectsEntryID is set when the
// comment amends an earlier entry.
type CommentPayload struct {
	Text            string     `json:"text"`
	CorrectsEntryID *uuid.UUID `json:"corrects_entry_id,omitempty"`
}

// PolicyUpdatePayload records a council approval-policy change relevant to
// the assessment.
type PolicyUpdatePayload struct {
	Changes map[string]any `json:"changes"`
	Notes   string         `json:"notes,omitempty"`
}

// DecodePayload unmarshals raw into the payload struct for the given entry
// type. Every entry type has exactly one payload shape, so readers and the
// verifier can handle all kinds exhaustively.
func DecodePayload(t EntryType, raw json.RawMessage) (any, error) {
	decode := func(v any) (any, error) {
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		return v, nil
	}
	switch t {
	case EntryTypeApproval:
		return decode(&ApprovalPayload{})
	case EntryTypeRejection:
		return decode(&RejectionPayload{})
	case EntryTypeStatusChange:
		return decode(&StatusChangePayload{})
	case EntryTypeEscalation:
		return decode(&EscalationPayload{})
	case EntryTypeEvidenceAdded:
		return decode(&EvidenceAddedPayload{})
	case EntryTypeComment:
		return decode(&CommentPayload{})
	case EntryTypePolicyUpdate:
		return decode(&PolicyUpdatePayload{})
	default:
		return nil, fmt.Errorf("unknown entry type %q", t)
	}
}

// MarshalPayload serializes a payload struct to the canonical JSON bytes that
// are persisted and hashed. Struct field order makes the output deterministic.
func MarshalPayload(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return b, nil
}
