package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"syntra-ledger/internal/gateway/handlers"
	"syntra-ledger/internal/gateway/middleware"
	"syntra-ledger/internal/services/commissions"
	"syntra-ledger/internal/services/orders"
	"syntra-ledger/internal/services/referral"
	"syntra-ledger/internal/services/rules"
	"syntra-ledger/internal/services/settlement"
	"syntra-ledger/internal/services/stats"
	"syntra-ledger/internal/services/withdrawals"
	"syntra-ledger/internal/utils"
)

// Deps are the services the HTTP surface exposes.
type Deps struct {
	DB          *gorm.DB
	Redis       *redis.Client
	Issuer      *utils.TokenIssuer
	Referral    *referral.Service
	Rules       *rules.Service
	Ledger      *commissions.Ledger
	Settlement  *settlement.Engine
	Withdrawals *withdrawals.Service
	Stats       *stats.Service
	Orders      orders.Processor

	RateLimit      string
	AllowedOrigins []string
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(deps Deps) (*gin.Engine, error) {
	r := gin.New()

	r.Use(middleware.CORS(deps.AllowedOrigins))
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(middleware.Metrics())
	if deps.RateLimit != "" {
		limit, err := middleware.RateLimit(deps.RateLimit)
		if err != nil {
			return nil, err
		}
		r.Use(limit)
	}

	referralHandler := handlers.NewReferralHTTPHandler(deps.Referral)
	commissionsHandler := handlers.NewCommissionsHTTPHandler(deps.Ledger, deps.Settlement)
	withdrawalHandler := handlers.NewWithdrawalHTTPHandler(deps.Withdrawals)
	adminHandler := handlers.NewAdminHTTPHandler(deps.Referral, deps.Rules, deps.Stats)
	orderHandler := handlers.NewOrderHTTPHandler(deps.Orders)

	// --- Distributor API Group ---
	protected := r.Group("/api/v1")
	protected.Use(middleware.JWTAuth(deps.Issuer))
	{
		protected.GET("/me", referralHandler.Me)
		protected.GET("/balance", commissionsHandler.Balance)
		protected.GET("/commissions", commissionsHandler.ListMine)

		referrals := protected.Group("/referrals")
		{
			referrals.POST("/bind", referralHandler.Bind)
			referrals.GET("/downline", referralHandler.Downline)
		}

		withdrawalGroup := protected.Group("/withdrawals")
		{
			withdrawalGroup.POST("", withdrawalHandler.Request)
			withdrawalGroup.GET("", withdrawalHandler.ListMine)
		}
	}

	// --- Order Events Group ---
	events := r.Group("/api/v1/events")
	events.Use(middleware.JWTAuth(deps.Issuer), middleware.RequireRole(utils.RoleService, utils.RoleAdmin))
	{
		events.POST("/orders/completed", orderHandler.OrderCompleted)
	}

	// --- Admin API Group ---
	admin := r.Group("/api/v1/admin")
	admin.Use(middleware.JWTAuth(deps.Issuer), middleware.RequireRole(utils.RoleAdmin))
	{
		admin.GET("/overview", adminHandler.Overview)

		distributors := admin.Group("/distributors")
		{
			distributors.GET("", adminHandler.ListDistributors)
			distributors.PATCH("/:id", adminHandler.UpdateDistributor)
		}

		config := admin.Group("/config")
		{
			config.GET("", adminHandler.GetConfig)
			config.PUT("", adminHandler.UpdateConfig)
			config.GET("/history", adminHandler.ConfigHistory)
		}

		commissionGroup := admin.Group("/commissions")
		{
			commissionGroup.GET("", commissionsHandler.ListAll)
			commissionGroup.POST("/:id/settle", commissionsHandler.Settle)
			commissionGroup.POST("/:id/cancel", commissionsHandler.Cancel)
		}
		admin.POST("/orders/:order_id/cancel", commissionsHandler.CancelOrder)
		admin.POST("/settlements/run", commissionsHandler.RunSettlement)

		withdrawalGroup := admin.Group("/withdrawals")
		{
			withdrawalGroup.GET("", withdrawalHandler.ListAll)
			withdrawalGroup.POST("/:id/review", withdrawalHandler.Review)
			withdrawalGroup.POST("/:id/paid", withdrawalHandler.MarkPaid)
		}
	}

	r.GET("/health", healthCheckHandler(deps))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r, nil
}

func healthCheckHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		services := map[string]string{"database": checkDatabase(ctx, deps.DB)}
		if deps.Redis != nil {
			services["redis"] = "healthy"
			if err := deps.Redis.Ping(ctx).Err(); err != nil {
				services["redis"] = "unavailable"
			}
		}

		status := "healthy"
		httpStatus := http.StatusOK
		if services["database"] != "healthy" {
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else if services["redis"] == "unavailable" {
			status = "degraded"
		}

		c.JSON(httpStatus, gin.H{
			"status":    status,
			"services":  services,
			"timestamp": time.Now().UTC(),
		})
	}
}

func checkDatabase(ctx context.Context, db *gorm.DB) string {
	if db == nil {
		return "unavailable"
	}
	sqlDB, err := db.DB()
	if err != nil {
		return "unavailable"
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return "unavailable"
	}
	return "healthy"
}
