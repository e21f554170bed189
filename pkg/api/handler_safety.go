package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vigil-ops/vigil/pkg/safety"
)

func (s *Server) getModeHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"mode": s.safety.Mode()})
}

type setModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

func (s *Server) setModeHandler(c *gin.Context) {
	var req setModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode is required"})
		return
	}
	if err := s.safety.SetMode(c.Request.Context(), safety.Mode(req.Mode), extractAuthor(c)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": req.Mode})
}

func (s *Server) killSwitchHandler(c *gin.Context) {
	result, err := s.safety.KillSwitch(c.Request.Context(), extractAuthor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
