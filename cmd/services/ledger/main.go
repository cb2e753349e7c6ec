package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"syntra-ledger/config"
	"syntra-ledger/internal/cache"
	"syntra-ledger/internal/database"
	"syntra-ledger/internal/gateway"
	"syntra-ledger/internal/logging"
	"syntra-ledger/internal/services/commissions"
	"syntra-ledger/internal/services/orders"
	"syntra-ledger/internal/services/referral"
	"syntra-ledger/internal/services/rules"
	"syntra-ledger/internal/services/settlement"
	"syntra-ledger/internal/services/stats"
	"syntra-ledger/internal/services/withdrawals"
	"syntra-ledger/internal/utils"
)

const serviceName = "commission-ledger"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(serviceName, cfg.AppEnv)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(cfg.DB.DSN, database.PoolConfig{
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		logger.Fatal("Failed to connect to db", zap.Error(err))
	}
	if err := database.MigrateLedgerDB(db); err != nil {
		logger.Fatal("Failed to migrate ledger database", zap.Error(err))
	}

	var redisClient *redis.Client
	var store cache.Cache = cache.NewMemory()
	if cfg.Redis.Enabled {
		redisClient, err = config.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer redisClient.Close()
		store = cache.NewRedis(redisClient)
	}

	ruleSvc := rules.NewService(db,
		rules.WithCache(store),
		rules.WithCacheTTL(cfg.Ledger.RulesCacheTTL),
		rules.WithLogger(logger),
	)
	seeded, err := ruleSvc.Bootstrap(ctx, cfg.Ledger.RulesFile)
	if err != nil {
		logger.Fatal("Failed to bootstrap commission rules", zap.Error(err))
	}
	if seeded {
		logger.Info("Seeded commission rules", zap.String("file", cfg.Ledger.RulesFile))
	}

	graph := referral.NewService(db, referral.WithLogger(logger))
	ledger := commissions.NewLedger(db, commissions.WithLedgerLogger(logger))
	engine := settlement.NewEngine(ledger, ruleSvc, settlement.WithLogger(logger))
	calculator := commissions.NewCalculator(db, ruleSvc, graph, commissions.WithCalculatorLogger(logger))

	intakeOpts := []orders.IntakeOption{orders.WithIntakeLogger(logger)}
	if cfg.Ledger.SettleOnOrder {
		intakeOpts = append(intakeOpts, orders.WithSettleOnOrder(engine))
	}
	intake := orders.NewIntake(calculator, graph, intakeOpts...)

	router, err := gateway.NewRouter(gateway.Deps{
		DB:          db,
		Redis:       redisClient,
		Issuer:      utils.NewTokenIssuer(cfg.Auth.JWTSecret),
		Referral:    graph,
		Rules:       ruleSvc,
		Ledger:      ledger,
		Settlement:  engine,
		Withdrawals: withdrawals.NewService(db, ruleSvc, withdrawals.WithLogger(logger), withdrawals.WithAutoPayout(cfg.Ledger.AutoPayoutOnApproval)),
		Stats:       stats.NewService(db, stats.WithCache(store), stats.WithLogger(logger)),
		Orders:      intake,

		RateLimit:      cfg.HTTP.RateLimit,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})
	if err != nil {
		logger.Fatal("Failed to build router", zap.Error(err))
	}

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Fatal("Failed to listen", zap.String("port", cfg.GRPCPort), zap.Error(err))
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		settlement.NewScheduler(engine, cfg.Ledger.SettlementInterval, logger).Start(ctx)
	}()

	if cfg.Stream.Enabled {
		consumer := orders.NewConsumer(redisClient, orders.ConsumerConfig{
			Stream:   cfg.Stream.Name,
			Group:    cfg.Stream.Group,
			Consumer: cfg.Stream.Consumer,
		}, intake, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil {
				logger.Error("Order stream consumer stopped", zap.Error(err))
			}
		}()
	}

	go func() {
		logger.Info("gRPC health endpoint listening", zap.String("port", cfg.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server stopped", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("HTTP server listening", zap.String("port", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	grpcServer.GracefulStop()
	wg.Wait()

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
