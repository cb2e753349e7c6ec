package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"syntra-ledger/internal/gateway/middleware"
	"syntra-ledger/internal/services/referral"
)

type ReferralHTTPHandler struct {
	graph *referral.Service
}

func NewReferralHTTPHandler(graph *referral.Service) *ReferralHTTPHandler {
	return &ReferralHTTPHandler{graph: graph}
}

type BindRequest struct {
	InviteCode string `json:"invite_code"`
}

type DownlineQuery struct {
	PageQuery
	Level int `form:"level,default=1"`
}

// Me returns the caller's distributor profile, creating it on first call.
func (h *ReferralHTTPHandler) Me(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	userID := middleware.UserID(c)
	d, err := h.graph.EnsureDistributor(ctx, userID, "")
	if err != nil {
		handleServiceError(c, err)
		return
	}
	edge, err := h.graph.GetInviter(ctx, userID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	var inviterID *int64
	if edge != nil {
		inviterID = &edge.InviterID
	}
	c.JSON(http.StatusOK, successResponse("Distributor retrieved successfully", toDistributorView(d, inviterID)))
}

func (h *ReferralHTTPHandler) Bind(c *gin.Context) {
	var req BindRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format: "+err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	edge, err := h.graph.Bind(ctx, middleware.UserID(c), req.InviteCode)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, successResponse("Referral bound successfully", EdgeView{
		InviterID: edge.InviterID,
		InviteeID: edge.InviteeID,
		BoundAt:   edge.BoundAt,
	}))
}

func (h *ReferralHTTPHandler) Downline(c *gin.Context) {
	var query DownlineQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid query parameters"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	page, err := h.graph.ListDownline(ctx, middleware.UserID(c), query.Level, query.Request())
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, successWithMetaResponse("Downline retrieved successfully", page.Items, pageMeta(page)))
}
