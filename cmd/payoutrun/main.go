// Command payoutrun pays out last month's rental revenue once and exits.
// It is meant to be started by the monthly scheduler; -date backfills the
// run for another run date.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
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

	"github.com/go-redis/redis/v8"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfgPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	date := flag.String("date", "", "run date YYYY-MM-DD (default today)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}
	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	loc, _ := cfg.Payout.Location()
	var runDate time.Time
	if *date != "" {
		if runDate, err = time.ParseInLocation("2006-01-02", *date, loc); err != nil {
			log.Fatalf("invalid -date %q: %v", *date, err)
		}
	}

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(&model.Payout{}, &model.PayoutItem{}, &model.PayoutDestination{}, &model.OutboxEvent{}); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	provider, err := gateway.NewProvider(cfg.Payout.Mode, cfg.Gateway, log)
	if err != nil {
		log.Fatalf("payout gateway: %v", err)
	}
	gw := gateway.NewAdapter(provider, gateway.Options{
		Enabled:       cfg.Payout.Enabled,
		MinimumAmount: cfg.Payout.MinimumAmount,
		RPS:           cfg.Payout.GatewayRPS,
	}, log)

	// events are left in the outbox for cmd/poller
	repository := repo.NewRepository(gdb, rdb, nil, log, cfg.Payout.DestinationCacheTTL)
	svc, err := service.NewPayoutService(service.Dependencies{
		Repo:         repository,
		Rentals:      rental.NewClient(cfg.Rental.BaseURL, cfg.Rental.Timeout, log),
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

	// SIGTERM stops queued locations; started ones finish.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if runDate.IsZero() {
		err = svc.ProcessMonthlyPayouts(ctx)
	} else {
		var sum service.RunSummary
		sum, err = svc.ProcessPayoutsForRunDate(ctx, runDate)
		if err == nil && sum.Failed > 0 {
			log.Warnw("payout run finished with failed locations", "period", sum.Period, "failed", sum.Failed)
		}
	}
	if err != nil {
		log.Errorw("payout run failed", "error", err)
		_ = log.Sync()
		os.Exit(1)
	}
}
