package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListTokensByDevice(c *gin.Context) {
	tokens, err := s.tokenSvc.ListByDevice(c.Request.Context(), strings.TrimSpace(c.Param("device_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

func (s *Server) GetTokenInfo(c *gin.Context) {
	info, err := s.tokenSvc.GetByToken(c.Request.Context(), strings.TrimSpace(c.Param("token")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, info)
}

func (s *Server) ValidateToken(c *gin.Context) {
	var query struct {
		Token string `form:"token"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	valid, err := s.tokenSvc.Validate(c.Request.Context(), strings.TrimSpace(query.Token))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": valid})
}
