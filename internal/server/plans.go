package server

import (
	"net/http"

	plandomain "github.com/fastingvibe/api/internal/plan/domain"

	"github.com/gin-gonic/gin"
)

func (s *Server) listPlans(c *gin.Context) {
	plans, err := s.planSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items := make([]productDetails, 0, len(plans))
	for _, plan := range plans {
		items = append(items, toProductDetails(plan))
	}
	c.JSON(http.StatusOK, gin.H{"plans": items})
}

func (s *Server) updatePlanPrice(c *gin.Context) {
	var req plandomain.UpdatePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	plan, err := s.planSvc.UpdatePrice(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"plan":    toProductDetails(plan),
	})
}
