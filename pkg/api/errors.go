package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vigil-ops/vigil/pkg/dispatch"
	"github.com/vigil-ops/vigil/pkg/registry"
	"github.com/vigil-ops/vigil/pkg/store"
)

// respondError maps service errors to HTTP statuses. Unrecognized errors
// become opaque 500s; details stay in the logs, not the response.
func respondError(c *gin.Context, err error) {
	switch {
	case registry.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, registry.ErrUnknownAction):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
	case errors.Is(err, store.ErrTicketHeld):
		c.JSON(http.StatusConflict, gin.H{"error": "ticket is held"})
	case errors.Is(err, store.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "resource is not in a valid state for this operation"})
	case errors.Is(err, store.ErrAlreadyTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": "proposal is already terminal"})
	case errors.Is(err, dispatch.ErrApprovalRequired):
		c.JSON(http.StatusConflict, gin.H{"error": "proposal requires approval"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
