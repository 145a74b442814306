package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/gentlecorp/shopping-cart/internal/adapter/gateway"
	"github.com/gentlecorp/shopping-cart/internal/adapter/handler"
	"github.com/gentlecorp/shopping-cart/internal/adapter/messaging"
	"github.com/gentlecorp/shopping-cart/internal/adapter/storage"
	"github.com/gentlecorp/shopping-cart/internal/config"
	"github.com/gentlecorp/shopping-cart/internal/core/auth"
	"github.com/gentlecorp/shopping-cart/internal/core/service"
	"github.com/gentlecorp/shopping-cart/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize MySQL
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logger.Fatal("failed to open mysql", zap.Error(err))
	}
	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("failed to ping mysql", zap.Error(err))
	}
	mysqlAdapter := storage.NewMySQLAdapter(db)
	if err := mysqlAdapter.EnsureSchema(ctx); err != nil {
		logger.Fatal("failed to apply schema", zap.Error(err))
	}
	logger.Info("connected to mysql")

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	redisAdapter := storage.NewRedisAdapter(rdb)
	logger.Info("connected to redis")

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	// Outbound clients
	httpClient := &http.Client{Timeout: cfg.GatewayTimeout}
	customers := gateway.NewCustomerClient(
		gateway.BaseURL(cfg.Customer.Schema, cfg.Customer.Host, cfg.Customer.Port), httpClient, logger)
	inventory := gateway.NewInventoryClient(
		gateway.BaseURL(cfg.Inventory.Schema, cfg.Inventory.Host, cfg.Inventory.Port), httpClient, logger)
	keycloak := gateway.NewKeycloakClient(gateway.KeycloakConfig{
		TokenURL:     cfg.Keycloak.TokenURL(),
		ClientID:     cfg.Keycloak.ClientID,
		ClientSecret: cfg.Keycloak.ClientSecret,
	}, httpClient, logger)

	// Initialize services
	inspector := auth.NewInspector(logger)
	reader := service.NewCartReadService(mysqlAdapter, customers, inventory, keycloak, inspector, service.ReadConfig{
		AdminRole:         cfg.Auth.AdminRole,
		AdminUsername:     cfg.Auth.AdminUsername,
		AdminPassword:     cfg.Auth.AdminPassword,
		EnrichConcurrency: cfg.EnrichConcurrency,
	}, logger)
	writer := service.NewCartWriteService(mysqlAdapter, reader, inventory, logger)

	// Health probes
	health := handler.NewHealthReporter(cfg.GRPC.ProbeInterval, logger,
		handler.Probe{Name: "mysql", Check: mysqlAdapter.Ping},
		handler.Probe{Name: "redis", Check: redisAdapter.Ping},
	)

	var wg sync.WaitGroup
	probeCtx, stopProbes := context.WithCancel(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		health.Run(probeCtx)
	}()

	// Start Kafka consumer
	var consumer *messaging.CartConsumer
	consumerCtx, stopConsumer := context.WithCancel(ctx)
	consumerDone := make(chan struct{})
	if cfg.Kafka.Enabled {
		consumerCfg := messaging.ConsumerConfig{
			Brokers:     cfg.Kafka.Brokers,
			GroupID:     cfg.Kafka.GroupID,
			CreateTopic: cfg.Kafka.CreateTopic,
			DeleteTopic: cfg.Kafka.DeleteTopic,
		}
		consumer = messaging.NewCartConsumer(consumerCfg, messaging.NewReader(consumerCfg), writer, redisAdapter, metrics, logger)
		go func() {
			defer close(consumerDone)
			if err := consumer.Run(consumerCtx); err != nil {
				logger.Error("cart consumer error", zap.Error(err))
			}
		}()
	} else {
		close(consumerDone)
		logger.Info("kafka consumer disabled")
	}

	// Initialize gRPC server
	grpcServer := grpc.NewServer()
	health.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", cfg.GRPC.Addr), zap.Error(err))
	}

	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPC.Addr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(handler.HTTPDeps{
		Reader:    reader,
		Writer:    writer,
		Identity:  keycloak,
		Inspector: inspector,
		Health:    health,
		Metrics:   metrics,
		Logger:    logger,
		AdminRole: cfg.Auth.AdminRole,
		UserRoles: cfg.Auth.UserRoles,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpHandler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	// Stop HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	// Stop gRPC server
	health.Shutdown()
	grpcServer.GracefulStop()
	stopProbes()
	wg.Wait()
	logger.Info("gRPC server stopped")

	// Stop consumer
	stopConsumer()
	<-consumerDone
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logger.Warn("close kafka reader", zap.Error(err))
		}
	}
	logger.Info("consumer stopped")

	// Close connections
	rdb.Close()
	db.Close()
	logger.Info("connections closed")
}
