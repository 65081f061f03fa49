// Worker consumes delegation and payment events from Kafka, stores them in Postgres and pushes them to Loki.
// Set KAFKA_BROKERS, EVENTS_KAFKA_TOPIC and KAFKA_GROUP_ID. DATABASE_URL and LOKI_URL are each optional
// but at least one sink must be configured.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"x402-delegation/backend/internal/config"
	"x402-delegation/backend/internal/db"
	"x402-delegation/backend/internal/telemetry/domain"
	"x402-delegation/backend/internal/telemetry/loki"
	telemetryrepo "x402-delegation/backend/internal/telemetry/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("worker: KAFKA_BROKERS is required")
	}
	if cfg.LokiURL == "" && cfg.DatabaseURL == "" {
		log.Fatal("worker: set LOKI_URL, DATABASE_URL or both")
	}

	var store telemetryrepo.Repository
	if cfg.DatabaseURL != "" {
		conn, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("worker: db: %v", err)
		}
		defer conn.Close()
		store = telemetryrepo.NewPostgresRepository(conn)
	}
	var lokiClient *loki.Client
	if cfg.LokiURL != "" {
		lokiClient = loki.NewClient(cfg.LokiURL, nil)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.EventsKafkaTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("worker: consuming from %s (group %s)", cfg.EventsKafkaTopic, cfg.KafkaGroupID)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("worker: stopped")
				return
			}
			log.Printf("worker: kafka read error: %v", err)
			continue
		}
		handle(ctx, store, lokiClient, msg.Value)
	}
}

func handle(ctx context.Context, store telemetryrepo.Repository, lokiClient *loki.Client, raw []byte) {
	sinkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if store != nil {
		var ev domain.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			log.Printf("worker: skip undecodable event: %v", err)
		} else {
			if ev.CreatedAt.IsZero() {
				ev.CreatedAt = time.Now().UTC()
			}
			if err := store.Save(sinkCtx, &ev); err != nil {
				log.Printf("worker: save event: %v", err)
			}
		}
	}
	if lokiClient != nil {
		if err := lokiClient.PushEventJSON(sinkCtx, raw); err != nil {
			log.Printf("worker: loki push failed: %v", err)
		}
	}
}
