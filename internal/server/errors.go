// Package server exposes the REST surface: council administration, decision
// submission, and evidence ledger reads, verification, and administrative
// appends.
package server

import (
	"errors"
	"net/http"

	"github.com/evidentry/evidentry/internal/approval"
	"github.com/evidentry/evidentry/internal/council"
	"github.com/evidentry/evidentry/internal/identity"
	"github.com/evidentry/evidentry/internal/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// classify maps a service error to its HTTP status, machine-readable code,
// and client-facing message. Unknown errors are 500s with a generic message;
// their detail is logged, never echoed.
func classify(err error) (status int, code, msg string) {
	var councilVal *council.ErrValidation
	var approvalVal *approval.ErrValidation

	switch {
	case errors.As(err, &councilVal), errors.As(err, &approvalVal),
		errors.Is(err, ledger.ErrInvalidEntryType):
		return http.StatusUnprocessableEntity, "validation_error", err.Error()
	case errors.Is(err, identity.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated", "invalid credential"
	case errors.Is(err, approval.ErrForbidden), errors.Is(err, council.ErrCouncilArchived):
		return http.StatusForbidden, "authorization_error", err.Error()
	case errors.Is(err, council.ErrNotFound), errors.Is(err, council.ErrMembershipNotFound):
		return http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, ledger.ErrTailConflict):
		return http.StatusConflict, "conflict", err.Error()
	default:
		return http.StatusInternalServerError, "internal_error", "internal error"
	}
}

// writeError renders the uniform error body {error, code, statusCode}.
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	status, code, msg := classify(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{
		"error":      msg,
		"code":       code,
		"statusCode": status,
	})
}
