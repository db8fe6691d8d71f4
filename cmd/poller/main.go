package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/richardliu001/rental-payout-service/internal/config"
	"github.com/richardliu001/rental-payout-service/internal/logger"
	"github.com/richardliu001/rental-payout-service/internal/repo"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/segmentio/kafka-go"
)

func main() {
	cfgPath := flag.String("config", "internal/config/config.yaml", "path to config file")
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

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}

	// payout id is the message key, so one payout's events stay ordered
	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.Hash{},
	}
	defer kw.Close()

	// destinations and locks are not used here
	repository := repo.NewRepository(gdb, nil, kw, log, 0)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	log.Info("payout-poller started")
	for {
		select {
		case <-ctx.Done():
			log.Info("payout-poller stopped")
			return
		case <-ticker.C:
		}
		events, err := repository.PollOutbox(ctx, 100)
		if err != nil {
			log.Errorf("poll outbox: %v", err)
			continue
		}
		for _, evt := range events {
			if err := repository.PublishEvent(ctx, evt); err != nil {
				log.Errorw("publish event", "outbox_id", evt.ID, "payout_id", evt.AggregateID, "error", err)
				// keep order per payout: retry the rest on the next tick
				break
			}
			if err := repository.MarkOutboxProcessed(ctx, evt.ID); err != nil {
				log.Errorw("mark processed", "outbox_id", evt.ID, "error", err)
			} else {
				log.Infow("event sent", "outbox_id", evt.ID, "payout_id", evt.AggregateID, "event_type", evt.EventType)
			}
		}
	}
}
