package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vigil-ops/vigil/pkg/models"
)

func (s *Server) listActionsHandler(c *gin.Context) {
	status := models.ProposalStatus(c.Query("status"))
	proposals, err := s.actions.ListProposals(c.Request.Context(), status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposals": proposals, "count": len(proposals)})
}

func (s *Server) getActionHandler(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	p, err := s.actions.GetProposal(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) actionAuditHandler(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	events, err := s.audit.ListByProposal(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (s *Server) approveActionHandler(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.dispatcher.Approve(c.Request.Context(), id, extractAuthor(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"approved": true})
}

type rejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (s *Server) rejectActionHandler(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
		return
	}
	if err := s.dispatcher.Reject(c.Request.Context(), id, extractAuthor(c), req.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rejected": true})
}

func (s *Server) cancelActionHandler(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "cancelled via api"
	}
	if err := s.dispatcher.Cancel(c.Request.Context(), id, extractAuthor(c), req.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}
