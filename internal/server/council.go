package server

import (
	"net/http"

	"github.com/evidentry/evidentry/internal/council"
	"github.com/evidentry/evidentry/internal/identity"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CouncilHandler handles HTTP requests for council and membership lifecycle.
type CouncilHandler struct {
	registry   *council.Registry
	onDispatch EventDispatchFunc
	logger     *zap.Logger
}

// NewCouncilHandler creates a CouncilHandler.
func NewCouncilHandler(registry *council.Registry, logger *zap.Logger) *CouncilHandler {
	return &CouncilHandler{registry: registry, logger: logger}
}

// SetEventDispatch configures the event dispatch callback.
func (h *CouncilHandler) SetEventDispatch(fn EventDispatchFunc) {
	h.onDispatch = fn
}

// Register mounts the council routes on the given router group. Mutations
// are admin-only; reads need any authenticated principal.
func (h *CouncilHandler) Register(rg *gin.RouterGroup) {
	admin := identity.RequireRole(identity.RoleAdmin)

	councils := rg.Group("/councils")
	{
		councils.POST("", admin, h.CreateCouncil)
		councils.GET("/:id", h.GetCouncil)
		councils.PATCH("/:id", admin, h.UpdateCouncil)
		councils.POST("/:id/archive", admin, h.ArchiveCouncil)
		councils.POST("/:id/assignments", admin, h.AddMember)
		councils.GET("/:id/members", h.ListMembers)
		councils.POST("/:id/members/:membershipId/revoke", admin, h.RevokeMember)
		councils.POST("/:id/members/:membershipId/reinstate", admin, h.ReinstateMember)
	}
}

type createCouncilRequest struct {
	Name             string                 `json:"name"`
	Quorum           int                    `json:"quorum"`
	RequireUnanimous bool                   `json:"require_unanimous"`
	Policy           council.ApprovalPolicy `json:"policy"`
}

// CreateCouncil handles POST /councils.
func (h *CouncilHandler) CreateCouncil(c *gin.Context) {
	var req createCouncilRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := h.registry.CreateCouncil(c.Request.Context(), req.Name, req.Quorum, req.RequireUnanimous, req.Policy)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"council": created})
}

// GetCouncil handles GET /councils/:id.
func (h *CouncilHandler) GetCouncil(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid council ID"})
		return
	}

	found, err := h.registry.GetCouncil(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"council": found})
}

// UpdateCouncil handles PATCH /councils/:id.
func (h *CouncilHandler) UpdateCouncil(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid council ID"})
		return
	}

	var req council.UpdateCouncilRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.registry.UpdateCouncil(c.Request.Context(), id, &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"council": updated})
}

// ArchiveCouncil handles POST /councils/:id/archive.
func (h *CouncilHandler) ArchiveCouncil(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid council ID"})
		return
	}

	archived, err := h.registry.ArchiveCouncil(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"council": archived})
}

type addMemberRequest struct {
	UserID string       `json:"user_id"`
	Role   council.Role `json:"role"`
	Notes  string       `json:"notes"`
}

// AddMember handles POST /councils/:id/assignments — assigns a user to the
// council, reactivating a prior membership row for the same user when one
// exists.
func (h *CouncilHandler) AddMember(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid council ID"})
		return
	}

	var req addMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor, _ := identity.PrincipalFromCtx(c)
	m, err := h.registry.AddOrReactivate(c.Request.Context(), id, req.UserID, req.Role, req.Notes, actor)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"membership": m})
}

// ListMembers handles GET /councils/:id/members. ?active=true restricts the
// response to the current voter roster.
func (h *CouncilHandler) ListMembers(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid council ID"})
		return
	}

	ctx := c.Request.Context()
	var members []*council.Membership
	if c.Query("active") == "true" {
		members, err = h.registry.ListActive(ctx, id)
	} else {
		members, err = h.registry.ListMembers(ctx, id)
	}
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if members == nil {
		members = []*council.Membership{}
	}
	c.JSON(http.StatusOK, gin.H{"members": members, "count": len(members)})
}

// RevokeMember handles POST /councils/:id/members/:membershipId/revoke.
func (h *CouncilHandler) RevokeMember(c *gin.Context) {
	membershipID, err := uuid.Parse(c.Param("membershipId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid membership ID"})
		return
	}

	var body struct {
		Notes string `json:"notes"`
	}
	// Notes are optional.
	_ = c.ShouldBindJSON(&body)

	actor, _ := identity.PrincipalFromCtx(c)
	m, err := h.registry.Revoke(c.Request.Context(), membershipID, body.Notes, actor)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	if h.onDispatch != nil && m.Status == council.MembershipStatusRevoked {
		h.onDispatch(c.Request.Context(), "membership.revoked", map[string]string{
			"council_id":    m.CouncilID.String(),
			"membership_id": m.ID.String(),
			"user_id":       m.UserID,
		})
	}

	c.JSON(http.StatusOK, gin.H{"membership": m})
}

// ReinstateMember handles POST /councils/:id/members/:membershipId/reinstate.
func (h *CouncilHandler) ReinstateMember(c *gin.Context) {
	membershipID, err := uuid.Parse(c.Param("membershipId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid membership ID"})
		return
	}

	actor, _ := identity.PrincipalFromCtx(c)
	m, err := h.registry.Reinstate(c.Request.Context(), membershipID, actor)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"membership": m})
}
