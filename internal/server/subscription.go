package server

import (
	"net/http"
	"time"

	entitlementdomain "github.com/fastingvibe/api/internal/entitlement/domain"
	"github.com/fastingvibe/api/pkg/db/pagination"

	"github.com/gin-gonic/gin"
)

func (s *Server) cancelSubscription(c *gin.Context) {
	owner := s.ownerFromContext(c)
	if err := s.entitlementSvc.Cancel(c.Request.Context(), owner); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type entitlementView struct {
	ID            string     `json:"id"`
	ProductID     string     `json:"productId"`
	State         string     `json:"state"`
	StartAt       *time.Time `json:"startAt,omitempty"`
	EndAt         *time.Time `json:"endAt,omitempty"`
	AutoRenew     bool       `json:"autoRenew"`
	Currency      string     `json:"currency"`
	Interval      string     `json:"interval"`
	IntervalCount int        `json:"intervalCount"`
	PaymentMethod string     `json:"paymentMethod,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func (s *Server) myEntitlement(c *gin.Context) {
	owner := s.ownerFromContext(c)

	active, err := s.entitlementSvc.Active(c.Request.Context(), owner)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	history, pageInfo, err := s.entitlementSvc.History(c.Request.Context(), owner, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items := make([]entitlementView, 0, len(history))
	for i := range history {
		items = append(items, toEntitlementView(&history[i]))
	}

	resp := gin.H{
		"entitled":  active != nil,
		"history":   items,
		"page_info": pageInfo,
	}
	if active != nil {
		resp["active"] = toEntitlementView(active)
	}
	c.JSON(http.StatusOK, resp)
}

func toEntitlementView(ent *entitlementdomain.Entitlement) entitlementView {
	return entitlementView{
		ID:            ent.ID.String(),
		ProductID:     ent.ProductRef,
		State:         string(ent.State),
		StartAt:       ent.StartAt,
		EndAt:         ent.EndAt,
		AutoRenew:     ent.AutoRenew,
		Currency:      ent.Currency,
		Interval:      string(ent.BillingInterval),
		IntervalCount: ent.IntervalCount,
		PaymentMethod: ent.PaymentMethod,
		CreatedAt:     ent.CreatedAt,
	}
}
