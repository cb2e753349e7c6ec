package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"syntra-ledger/internal/gateway/middleware"
	"syntra-ledger/internal/services/referral"
	"syntra-ledger/internal/services/rules"
	"syntra-ledger/internal/services/stats"
)

type AdminHTTPHandler struct {
	graph *referral.Service
	rules *rules.Service
	stats *stats.Service
}

func NewAdminHTTPHandler(graph *referral.Service, ruleSvc *rules.Service, statsSvc *stats.Service) *AdminHTTPHandler {
	return &AdminHTTPHandler{graph: graph, rules: ruleSvc, stats: statsSvc}
}

type ListDistributorsQuery struct {
	PageQuery
	Search string `form:"search"`
	Tier   int32  `form:"tier"`
	Active *bool  `form:"active"`
}

// UpdateDistributorRequest patches a distributor. An empty rate string clears
// the override.
type UpdateDistributorRequest struct {
	Name       *string `json:"name"`
	Tier       *int32  `json:"tier"`
	Level1Rate *string `json:"level1_rate"`
	Level2Rate *string `json:"level2_rate"`
	IsActive   *bool   `json:"is_active"`
}

type UpdateConfigRequest struct {
	Level1Rate        decimal.Decimal `json:"level1_rate"`
	Level2Rate        decimal.Decimal `json:"level2_rate"`
	EnterpriseRate    decimal.Decimal `json:"enterprise_rate"`
	HoldingPeriodDays int32           `json:"holding_period_days"`
	MinWithdrawAmount decimal.Decimal `json:"min_withdraw_amount"`
}

func parseRatePatch(raw *string) (*decimal.NullDecimal, error) {
	if raw == nil {
		return nil, nil
	}
	v := strings.TrimSpace(*raw)
	if v == "" {
		return &decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil, err
	}
	return &decimal.NullDecimal{Decimal: d, Valid: true}, nil
}

func (h *AdminHTTPHandler) Overview(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	o, err := h.stats.Overview(ctx)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Overview retrieved successfully", o))
}

func (h *AdminHTTPHandler) ListDistributors(c *gin.Context) {
	var query ListDistributorsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid query parameters"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	page, err := h.stats.ListDistributors(ctx, stats.DistributorFilter{
		Search: query.Search,
		Tier:   query.Tier,
		Active: query.Active,
	}, query.Request())
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, successWithMetaResponse("Distributors retrieved successfully", page.Items, pageMeta(page)))
}

func (h *AdminHTTPHandler) UpdateDistributor(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req UpdateDistributorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format: "+err.Error()))
		return
	}
	l1, err := parseRatePatch(req.Level1Rate)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid level1_rate"))
		return
	}
	l2, err := parseRatePatch(req.Level2Rate)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid level2_rate"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	d, err := h.graph.UpdateDistributor(ctx, id, referral.DistributorPatch{
		Name:       req.Name,
		Tier:       req.Tier,
		Level1Rate: l1,
		Level2Rate: l2,
		IsActive:   req.IsActive,
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}
	h.stats.InvalidateOverview(ctx)
	c.JSON(http.StatusOK, successResponse("Distributor updated successfully", toDistributorView(d, nil)))
}

func (h *AdminHTTPHandler) GetConfig(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	rs, err := h.rules.GetConfig(ctx)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Commission config retrieved successfully", toRuleSetView(rs)))
}

func (h *AdminHTTPHandler) UpdateConfig(c *gin.Context) {
	var req UpdateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format: "+err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	rs, err := h.rules.UpdateConfig(ctx, rules.Input{
		Level1Rate:        req.Level1Rate,
		Level2Rate:        req.Level2Rate,
		EnterpriseRate:    req.EnterpriseRate,
		HoldingPeriodDays: req.HoldingPeriodDays,
		MinWithdrawAmount: req.MinWithdrawAmount,
	}, middleware.UserID(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Commission config updated successfully", toRuleSetView(rs)))
}

func (h *AdminHTTPHandler) ConfigHistory(c *gin.Context) {
	var query PageQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid query parameters"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	page, err := h.rules.History(ctx, query.Request())
	if err != nil {
		handleServiceError(c, err)
		return
	}
	views := make([]RuleSetView, 0, len(page.Items))
	for _, rs := range page.Items {
		views = append(views, toRuleSetView(rs))
	}
	c.JSON(http.StatusOK, successWithMetaResponse("Commission config history retrieved successfully", views, pageMeta(page)))
}
