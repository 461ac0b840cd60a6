package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	generationdomain "github.com/smallbiznis/imagegen/internal/generation/domain"
)

type generateRequest struct {
	Prompt   string  `json:"prompt"`
	Style    *string `json:"style"`
	DeviceID string  `json:"device_id"`
	Token    *string `json:"token"`
}

func (s *Server) Generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var style, token string
	if req.Style != nil {
		style = strings.TrimSpace(*req.Style)
	}
	if req.Token != nil {
		token = strings.TrimSpace(*req.Token)
	}

	result, err := s.generationSvc.Attempt(c.Request.Context(), generationdomain.Request{
		DeviceID: strings.TrimSpace(req.DeviceID),
		Prompt:   req.Prompt,
		Style:    style,
		Token:    token,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) GetUsage(c *gin.Context) {
	usage, err := s.creditSvc.Usage(c.Request.Context(), strings.TrimSpace(c.Param("device_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, usage)
}
