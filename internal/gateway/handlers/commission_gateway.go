package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"syntra-ledger/internal/database/models"
	"syntra-ledger/internal/gateway/middleware"
	"syntra-ledger/internal/services/commissions"
	"syntra-ledger/internal/services/settlement"
)

type CommissionsHTTPHandler struct {
	ledger *commissions.Ledger
	engine *settlement.Engine
	now    func() time.Time
}

func NewCommissionsHTTPHandler(ledger *commissions.Ledger, engine *settlement.Engine) *CommissionsHTTPHandler {
	return &CommissionsHTTPHandler{ledger: ledger, engine: engine, now: time.Now}
}

type ListCommissionsQuery struct {
	PageQuery
	DistributorID int64  `form:"distributor_id"`
	Status        string `form:"status"`
	Level         string `form:"level"`
	ProductType   string `form:"product_type"`
	OrderID       string `form:"order_id"`
}

func (q ListCommissionsQuery) filter() commissions.Filter {
	return commissions.Filter{
		DistributorID: q.DistributorID,
		Status:        models.CommissionStatus(q.Status),
		Level:         q.Level,
		ProductType:   q.ProductType,
		OrderID:       q.OrderID,
	}
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

// ListMine lists the caller's own commissions.
func (h *CommissionsHTTPHandler) ListMine(c *gin.Context) {
	var query ListCommissionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid query parameters"))
		return
	}
	query.DistributorID = middleware.UserID(c)
	h.list(c, query)
}

// ListAll lists commissions across distributors.
func (h *CommissionsHTTPHandler) ListAll(c *gin.Context) {
	var query ListCommissionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid query parameters"))
		return
	}
	h.list(c, query)
}

func (h *CommissionsHTTPHandler) list(c *gin.Context, query ListCommissionsQuery) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	page, err := h.ledger.ListCommissions(ctx, query.filter(), query.Request())
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, successWithMetaResponse("Commissions retrieved successfully", toCommissionViews(page.Items), pageMeta(page)))
}

func (h *CommissionsHTTPHandler) Balance(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	b, err := h.ledger.Balance(ctx, middleware.UserID(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Balance retrieved successfully", toBalanceView(b)))
}

func (h *CommissionsHTTPHandler) Settle(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	cm, err := h.engine.SettleOne(ctx, id)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Commission settled successfully", toCommissionView(cm)))
}

func (h *CommissionsHTTPHandler) Cancel(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format: "+err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	cm, err := h.ledger.Cancel(ctx, id, req.Reason)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Commission cancelled successfully", toCommissionView(cm)))
}

func (h *CommissionsHTTPHandler) CancelOrder(c *gin.Context) {
	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format: "+err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	res, err := h.ledger.CancelForOrder(ctx, c.Param("order_id"), req.Reason)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Order commissions cancelled", gin.H{
		"order_id":        res.OrderID,
		"cancelled":       toCommissionViews(res.Cancelled),
		"already_settled": toCommissionViews(res.Settled),
	}))
}

// RunSettlement triggers a settlement pass immediately.
func (h *CommissionsHTTPHandler) RunSettlement(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Minute)
	defer cancel()

	n, err := h.engine.AutoSettleEligible(ctx, h.now())
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Settlement run completed", gin.H{"settled": n}))
}
