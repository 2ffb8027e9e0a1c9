package server

import (
	"net/http"

	entitlementdomain "github.com/fastingvibe/api/internal/entitlement/domain"
	plandomain "github.com/fastingvibe/api/internal/plan/domain"

	"github.com/gin-gonic/gin"
)

type createCheckoutSessionRequest struct {
	ProductID string `json:"productId" binding:"required"`
	Email     string `json:"email"`
}

type productDetails struct {
	ProductID     string `json:"productId"`
	Name          string `json:"name"`
	Price         int64  `json:"price"`
	Currency      string `json:"currency"`
	Interval      string `json:"interval"`
	IntervalCount int    `json:"intervalCount"`
	PriceText     string `json:"priceText"`
}

type createCheckoutSessionResponse struct {
	ClientSecret    string         `json:"clientSecret"`
	PaymentIntentID string         `json:"paymentIntentId"`
	ProductDetails  productDetails `json:"productDetails"`
}

func (s *Server) createCheckoutSession(c *gin.Context) {
	var req createCheckoutSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	owner := s.ownerFromContext(c)
	session, err := s.entitlementSvc.CreatePurchase(c.Request.Context(), entitlementdomain.CreatePurchaseRequest{
		Owner:      owner,
		Email:      req.Email,
		ProductRef: req.ProductID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, createCheckoutSessionResponse{
		ClientSecret:    session.ClientSecret,
		PaymentIntentID: session.IntentRef,
		ProductDetails:  toProductDetails(session.Plan),
	})
}

func toProductDetails(plan plandomain.Plan) productDetails {
	return productDetails{
		ProductID:     plan.ProductRef,
		Name:          plan.Name,
		Price:         plan.Price,
		Currency:      plan.Currency,
		Interval:      string(plan.BillingInterval),
		IntervalCount: plan.IntervalCount,
		PriceText:     plan.PriceText,
	}
}

// successTest and cancelTest are the payment sheet's redirect probes; they
// carry no entitlement logic.
func (s *Server) successTest(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "payment flow completed"})
}

func (s *Server) cancelTest(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": false, "message": "payment flow cancelled"})
}
