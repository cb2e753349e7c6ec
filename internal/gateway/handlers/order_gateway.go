package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"syntra-ledger/internal/services/commissions"
	"syntra-ledger/internal/services/orders"
)

type OrderHTTPHandler struct {
	processor orders.Processor
}

func NewOrderHTTPHandler(processor orders.Processor) *OrderHTTPHandler {
	return &OrderHTTPHandler{processor: processor}
}

// OrderCompleted accepts an order completion event pushed by the order source.
// Replays answer 200 with the stored commission set, fresh orders 201.
func (h *OrderHTTPHandler) OrderCompleted(c *gin.Context) {
	var evt commissions.OrderCompleted
	if err := c.ShouldBindJSON(&evt); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format: "+err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	res, err := h.processor.Handle(ctx, evt)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	code := http.StatusCreated
	message := "Order commissions recorded"
	if res.Replayed {
		code = http.StatusOK
		message = "Order already processed"
	}
	c.JSON(code, successResponse(message, gin.H{
		"order_id":     evt.OrderID,
		"replayed":     res.Replayed,
		"rule_version": res.RuleVersion,
		"commissions":  toCommissionViews(res.Commissions),
	}))
}
