package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperrors "syntra-ledger/internal/errors"
	"syntra-ledger/internal/services/paging"
)

const requestTimeout = 10 * time.Second

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

type PageMeta struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalCount int64 `json:"total_count"`
	HasNext    bool  `json:"has_next"`
}

func successResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	}
}

func errorResponse(message string) APIResponse {
	return APIResponse{
		Success: false,
		Message: message,
	}
}

func successWithMetaResponse(message string, data interface{}, meta interface{}) APIResponse {
	return APIResponse{
		Success: true,
		Message: message,
		Data:    data,
		Meta:    meta,
	}
}

func pageMeta[T any](p paging.Page[T]) PageMeta {
	return PageMeta{Page: p.Page, PageSize: p.PageSize, TotalCount: p.TotalCount, HasNext: p.HasNext}
}

type PageQuery struct {
	Page     int `form:"page,default=1"`
	PageSize int `form:"page_size,default=20"`
}

func (q PageQuery) Request() paging.Request {
	return paging.Request{Page: q.Page, PageSize: q.PageSize}
}

// handleServiceError writes the error response for a failed service call.
// Ledger error codes go through their gRPC status to pick the HTTP status.
func handleServiceError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	resp := errorResponse("")
	if code := apperrors.GetCode(err); code != apperrors.CodeUnknown {
		resp.Error = string(code)
	}

	s, ok := status.FromError(apperrors.HandleError(err))
	if !ok {
		resp.Message = "Unknown service error"
		c.AbortWithStatusJSON(http.StatusInternalServerError, resp)
		return
	}
	resp.Message = s.Message()
	switch s.Code() {
	case codes.InvalidArgument:
		c.AbortWithStatusJSON(http.StatusBadRequest, resp)
	case codes.NotFound:
		c.AbortWithStatusJSON(http.StatusNotFound, resp)
	case codes.FailedPrecondition, codes.AlreadyExists:
		c.AbortWithStatusJSON(http.StatusConflict, resp)
	case codes.Unavailable:
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, resp)
	default:
		resp.Message = "Service error: " + s.Message()
		c.AbortWithStatusJSON(http.StatusInternalServerError, resp)
	}
}

func parseIDParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid "+name))
		return 0, false
	}
	return id, true
}
