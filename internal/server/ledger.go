package server

import (
	"net/http"
	"strconv"

	"github.com/evidentry/evidentry/internal/approval"
	"github.com/evidentry/evidentry/internal/identity"
	"github.com/evidentry/evidentry/internal/ledger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LedgerHandler exposes ledger reads, chain verification, and the
// administrative append path.
type LedgerHandler struct {
	entries  ledger.Store
	verifier *ledger.Verifier
	recorder *approval.Recorder
	logger   *zap.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(entries ledger.Store, verifier *ledger.Verifier, recorder *approval.Recorder, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{entries: entries, verifier: verifier, recorder: recorder, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	assessments := rg.Group("/assessments")
	{
		assessments.GET("/:id/ledger", h.ListEntries)
		assessments.POST("/:id/ledger", h.AppendEntry)
		assessments.POST("/:id/ledger/verify", h.Verify)
	}
}

// ListEntries handles GET /assessments/:id/ledger — cursor-paginated entries
// in chain order, optionally filtered by ?entryType=.
func (h *LedgerHandler) ListEntries(c *gin.Context) {
	afterSeq := -1
	if cursor := c.Query("cursor"); cursor != "" {
		seq, err := ledger.DecodeCursor(cursor)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed cursor"})
			return
		}
		afterSeq = seq
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	entryType := ledger.EntryType(c.Query("entryType"))
	if entryType != "" && !ledger.ValidEntryType(entryType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown entryType filter"})
		return
	}

	entries, err := h.entries.List(c.Request.Context(), c.Param("id"), ledger.ListOptions{
		Type:     entryType,
		AfterSeq: afterSeq,
		Limit:    limit,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}

	resp := gin.H{"entries": entries, "count": len(entries)}
	if len(entries) == limit {
		resp["next_cursor"] = ledger.EncodeCursor(entries[len(entries)-1].Seq)
	}
	c.JSON(http.StatusOK, resp)
}

type appendEntryRequest struct {
	Type         ledger.EntryType `json:"entry_type"`
	Payload      map[string]any   `json:"payload"`
	CouncilID    *uuid.UUID       `json:"council_id,omitempty"`
	MembershipID *uuid.UUID       `json:"membership_id,omitempty"`
}

// AppendEntry handles POST /assessments/:id/ledger — the administrative
// append path for non-decision entry types. Authorization, including the
// observer-comment policy, is enforced by the recorder.
func (h *LedgerHandler) AppendEntry(c *gin.Context) {
	var req appendEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payload, err := ledger.MarshalPayload(req.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	actor, _ := identity.PrincipalFromCtx(c)
	entry, err := h.recorder.AppendAdminEntry(c.Request.Context(), approval.AdminEntryRequest{
		AssessmentID: c.Param("id"),
		Type:         req.Type,
		Payload:      payload,
		CouncilID:    req.CouncilID,
		MembershipID: req.MembershipID,
	}, actor)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	RecordLedgerAppend(string(entry.Type))
	c.JSON(http.StatusCreated, gin.H{"entry": entry})
}

// Verify handles POST /assessments/:id/ledger/verify — replays the full
// chain. A broken chain is a 200 with verified:false and the failing index;
// it is reported for investigation, never repaired.
func (h *LedgerHandler) Verify(c *gin.Context) {
	result, err := h.verifier.Verify(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	if !result.Verified {
		RecordVerifyFailure()
		h.logger.Warn("ledger integrity check failed",
			zap.String("assessment_id", result.AssessmentID),
			zap.Intp("failure_index", result.FailureIndex),
			zap.String("reason", result.Reason),
		)
	}
	c.JSON(http.StatusOK, result)
}
