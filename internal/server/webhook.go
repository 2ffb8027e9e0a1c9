package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleWebhook ingests raw provider deliveries. The body is read unparsed
// because signature verification covers the exact bytes on the wire.
func (s *Server) handleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.webhookSvc.Handle(c.Request.Context(), payload, c.Request.Header); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
