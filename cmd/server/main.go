package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	"postop-checkin/internal/config"
	"postop-checkin/internal/db"
	"postop-checkin/internal/escalation"
	"postop-checkin/internal/flow"
	httpserver "postop-checkin/internal/http"
	"postop-checkin/internal/llm"
	"postop-checkin/internal/logger"
	"postop-checkin/internal/orchestrator"
	"postop-checkin/internal/schedule"
	"postop-checkin/internal/sweep"
	"postop-checkin/internal/telephony"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()

	// Open database connection
	dbConn, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		zl.Fatal("failed to open database", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dbConn.PingContext(ctx); err != nil {
		zl.Fatal("failed to ping database", zap.Error(err))
	}
	if err := db.Migrate(context.Background(), dbConn); err != nil {
		zl.Fatal("failed to run migrations", zap.Error(err))
	}

	sessions := db.NewSessionRepository(dbConn, zl)
	patients := db.NewPatientRepository(dbConn)
	alerts := db.NewAlertRepository(dbConn, zl)
	notifier := db.NewNotifier(dbConn, "clinical_alerts")

	ai := llm.NewOpenAIClient(cfg.OpenAIKey, cfg.ChatModel, cfg.TranscribeModel)
	flowEngine := flow.NewEngine(ai, cfg.DialogueTimeout, zl)

	var sender escalation.Sender
	if cfg.NotifyURL != "" {
		sender = escalation.NewHTTPSender(cfg.NotifyURL, zl)
	} else {
		sender = &escalation.LogSender{Logger: zl}
	}
	dispatcher := escalation.NewDispatcher(alerts, sender, notifier, cfg.CoordinatorID, zl)

	dialer := telephony.NewClient(cfg.ProviderBaseURL, cfg.ProviderToken, cfg.CallerNumber, cfg.PublicBaseURL, zl)
	orch := orchestrator.New(sessions, patients, flowEngine, ai, dispatcher, dialer, orchestrator.Options{
		TurnTimeout:       cfg.TurnTimeout,
		MaxCallDuration:   cfg.MaxCallDuration,
		TranscribeTimeout: cfg.TranscribeTimeout,
		MinConfidence:     cfg.MinConfidence,
		RedialMaxAttempts: cfg.RedialMaxAttempts,
		RedialDelay:       cfg.RedialDelay,
	}, cfg.PublicBaseURL, zl)

	scheduler := schedule.NewService(sessions, zl)

	// The sweep keeps claiming and starting due calls until shutdown.
	sw := sweep.New(sessions, orch, cfg.SweepInterval, cfg.SweepBatch, zl)
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sw.Run(sweepCtx)

	srv := httpserver.NewServer(scheduler, patients, sessions, alerts, orch, zl)
	addr := ":" + cfg.Port
	zl.Info("listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, srv); err != nil {
		zl.Fatal("server error", zap.Error(err))
	}
}
