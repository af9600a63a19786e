package server

import (
	"context"
	"net/http"

	"github.com/evidentry/evidentry/internal/approval"
	"github.com/evidentry/evidentry/internal/identity"
	"github.com/evidentry/evidentry/internal/ledger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventDispatchFunc is an optional callback for publishing governance events.
type EventDispatchFunc func(ctx context.Context, eventType string, payload map[string]string)

// DecisionHandler handles decision submission and quorum reads.
type DecisionHandler struct {
	recorder   *approval.Recorder
	onDispatch EventDispatchFunc
	logger     *zap.Logger
}

// NewDecisionHandler creates a DecisionHandler.
func NewDecisionHandler(recorder *approval.Recorder, logger *zap.Logger) *DecisionHandler {
	return &DecisionHandler{recorder: recorder, logger: logger}
}

// SetEventDispatch configures the event dispatch callback.
func (h *DecisionHandler) SetEventDispatch(fn EventDispatchFunc) {
	h.onDispatch = fn
}

// Register mounts the decision routes on the given router group.
func (h *DecisionHandler) Register(rg *gin.RouterGroup) {
	assessments := rg.Group("/assessments")
	{
		assessments.POST("/:id/council/decision", h.SubmitDecision)
		assessments.GET("/:id/quorum", h.GetQuorum)
		assessments.GET("/:id/decisions", h.ListDecisions)
	}
}

type submitDecisionRequest struct {
	CouncilID          uuid.UUID              `json:"council_id"`
	MembershipID       uuid.UUID              `json:"membership_id"`
	Step               string                 `json:"step"`
	Status             approval.Status        `json:"status"`
	Notes              string                 `json:"notes"`
	ReasonCodes        []string               `json:"reason_codes"`
	EvidenceSnapshotID *uuid.UUID             `json:"evidence_snapshot_id,omitempty"`
	Attachments        []ledger.AttachmentRef `json:"attachments,omitempty"`
}

// SubmitDecision handles POST /assessments/:id/council/decision. The
// response carries the created decision, its chained ledger entry, and the
// fresh quorum verdict.
func (h *DecisionHandler) SubmitDecision(c *gin.Context) {
	var req submitDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor, _ := identity.PrincipalFromCtx(c)
	d, entry, quorum, err := h.recorder.SubmitDecision(c.Request.Context(), approval.SubmitRequest{
		AssessmentID:       c.Param("id"),
		CouncilID:          req.CouncilID,
		MembershipID:       req.MembershipID,
		Step:               req.Step,
		Status:             req.Status,
		Notes:              req.Notes,
		ReasonCodes:        req.ReasonCodes,
		EvidenceSnapshotID: req.EvidenceSnapshotID,
		Attachments:        req.Attachments,
	}, actor)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	RecordDecision(string(d.Status))
	RecordLedgerAppend(string(entry.Type))

	if h.onDispatch != nil {
		h.onDispatch(c.Request.Context(), "decision.recorded", map[string]string{
			"assessment_id": d.AssessmentID,
			"council_id":    d.CouncilID.String(),
			"decision_id":   d.ID.String(),
			"status":        string(d.Status),
		})
		if quorum.Approved {
			h.onDispatch(c.Request.Context(), "assessment.approved", map[string]string{
				"assessment_id": d.AssessmentID,
				"council_id":    d.CouncilID.String(),
			})
		}
	}

	c.JSON(http.StatusCreated, gin.H{
		"decision":     d,
		"ledger_entry": entry,
		"quorum":       quorum,
	})
}

// GetQuorum handles GET /assessments/:id/quorum?council_id=...
func (h *DecisionHandler) GetQuorum(c *gin.Context) {
	councilID, err := uuid.Parse(c.Query("council_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "council_id query parameter is required"})
		return
	}

	quorum, err := h.recorder.Evaluator().Evaluate(c.Request.Context(), c.Param("id"), councilID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quorum": quorum})
}

// ListDecisions handles GET /assessments/:id/decisions?council_id=... —
// every decision for the assessment in creation order, revisions included.
func (h *DecisionHandler) ListDecisions(c *gin.Context) {
	councilID, err := uuid.Parse(c.Query("council_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "council_id query parameter is required"})
		return
	}

	decisions, err := h.recorder.ListDecisions(c.Request.Context(), c.Param("id"), councilID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if decisions == nil {
		decisions = []*approval.Decision{}
	}
	c.JSON(http.StatusOK, gin.H{"decisions": decisions, "count": len(decisions)})
}
