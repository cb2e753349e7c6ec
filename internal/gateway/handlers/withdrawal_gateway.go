package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"syntra-ledger/internal/database/models"
	"syntra-ledger/internal/gateway/middleware"
	"syntra-ledger/internal/services/withdrawals"
)

type WithdrawalHTTPHandler struct {
	withdrawals *withdrawals.Service
}

func NewWithdrawalHTTPHandler(svc *withdrawals.Service) *WithdrawalHTTPHandler {
	return &WithdrawalHTTPHandler{withdrawals: svc}
}

type WithdrawalRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Method   string          `json:"method" binding:"required"`
	Account  string          `json:"account" binding:"required"`
	RealName string          `json:"real_name" binding:"required"`
}

type ReviewRequest struct {
	Approved *bool  `json:"approved" binding:"required"`
	Remark   string `json:"remark"`
}

type MarkPaidRequest struct {
	Reference string `json:"reference"`
}

type ListWithdrawalsQuery struct {
	PageQuery
	DistributorID int64  `form:"distributor_id"`
	Status        string `form:"status"`
}

func (h *WithdrawalHTTPHandler) Request(c *gin.Context) {
	var req WithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format: "+err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	w, err := h.withdrawals.RequestWithdrawal(ctx, withdrawals.Request{
		DistributorID: middleware.UserID(c),
		Amount:        req.Amount,
		Method:        req.Method,
		Account:       req.Account,
		RealName:      req.RealName,
	})
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, successResponse("Withdrawal requested successfully", toWithdrawalView(w)))
}

func (h *WithdrawalHTTPHandler) ListMine(c *gin.Context) {
	var query ListWithdrawalsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid query parameters"))
		return
	}
	query.DistributorID = middleware.UserID(c)
	h.list(c, query)
}

func (h *WithdrawalHTTPHandler) ListAll(c *gin.Context) {
	var query ListWithdrawalsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid query parameters"))
		return
	}
	h.list(c, query)
}

func (h *WithdrawalHTTPHandler) list(c *gin.Context, query ListWithdrawalsQuery) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	page, err := h.withdrawals.ListWithdrawals(ctx, withdrawals.Filter{
		DistributorID: query.DistributorID,
		Status:        models.WithdrawalStatus(query.Status),
	}, query.Request())
	if err != nil {
		handleServiceError(c, err)
		return
	}
	views := make([]WithdrawalView, 0, len(page.Items))
	for _, w := range page.Items {
		views = append(views, toWithdrawalView(w))
	}
	c.JSON(http.StatusOK, successWithMetaResponse("Withdrawals retrieved successfully", views, pageMeta(page)))
}

func (h *WithdrawalHTTPHandler) Review(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format: "+err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	w, err := h.withdrawals.Review(ctx, id, *req.Approved, middleware.UserID(c), req.Remark)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Withdrawal reviewed successfully", toWithdrawalView(w)))
}

func (h *WithdrawalHTTPHandler) MarkPaid(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req MarkPaidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format: "+err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	w, err := h.withdrawals.MarkPaid(ctx, id, req.Reference)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Withdrawal marked as paid", toWithdrawalView(w)))
}
