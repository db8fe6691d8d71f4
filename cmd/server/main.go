package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/richardliu001/rental-payout-service/internal/config"
	"github.com/richardliu001/rental-payout-service/internal/gateway"
	"github.com/richardliu001/rental-payout-service/internal/logger"
	"github.com/richardliu001/rental-payout-service/internal/model"
	"github.com/richardliu001/rental-payout-service/internal/rental"
	"github.com/richardliu001/rental-payout-service/internal/repo"
	"github.com/richardliu001/rental-payout-service/internal/service"
	httptransport "github.com/richardliu001/rental-payout-service/internal/transport/http"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfgPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	flag.Parse()

	// 1. load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(&model.Payout{}, &model.PayoutItem{}, &model.PayoutDestination{}, &model.OutboxEvent{}); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 5. kafka writer
	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.Hash{},
	}
	defer kw.Close()

	// 6. gateway & rental collaborator
	provider, err := gateway.NewProvider(cfg.Payout.Mode, cfg.Gateway, log)
	if err != nil {
		log.Fatalf("payout gateway: %v", err)
	}
	gw := gateway.NewAdapter(provider, gateway.Options{
		Enabled:       cfg.Payout.Enabled,
		MinimumAmount: cfg.Payout.MinimumAmount,
		RPS:           cfg.Payout.GatewayRPS,
	}, log)
	rentals := rental.NewClient(cfg.Rental.BaseURL, cfg.Rental.Timeout, log)

	// 7. repo & service
	loc, _ := cfg.Payout.Location()
	repository := repo.NewRepository(gdb, rdb, kw, log, cfg.Payout.DestinationCacheTTL)
	svc, err := service.NewPayoutService(service.Dependencies{
		Repo:         repository,
		Rentals:      rentals,
		Destinations: repository,
		Gateway:      gw,
		Locker:       repository,
		Log:          log,
		Workers:      cfg.Payout.Workers,
		RunTimeout:   cfg.Payout.RunTimeout,
		LockTTL:      cfg.Payout.LockTTL,
		Location:     loc,
	})
	if err != nil {
		log.Fatalf("payout service: %v", err)
	}

	// 8. gin router
	router := httptransport.NewRouter(svc, cfg.RateLimit, log)

	// 9. serve until signalled
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: router}
	go func() {
		log.Infow("payout-server listening", "addr", srv.Addr, "gateway", gw.Provider(), "mode", cfg.Payout.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("shutdown", "error", err)
	}
	log.Info("payout-server stopped")
}
