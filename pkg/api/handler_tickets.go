package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vigil-ops/vigil/pkg/models"
)

func (s *Server) listTicketsHandler(c *gin.Context) {
	status := models.TicketStatus(c.Query("status"))
	tickets, err := s.tickets.List(c.Request.Context(), status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": tickets, "count": len(tickets)})
}

func (s *Server) getTicketHandler(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ticket, err := s.tickets.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

func (s *Server) resolveTicketHandler(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.tickets.Resolve(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}

func (s *Server) holdTicketHandler(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.tickets.Hold(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"held": true})
}

func (s *Server) unholdTicketHandler(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.tickets.Unhold(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"held": false})
}

// pathID parses the :id path parameter, writing the 400 itself on failure.
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}
