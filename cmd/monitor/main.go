package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/gfmartins/nfe-monitor/internal/config"
	"github.com/gfmartins/nfe-monitor/internal/db"
	"github.com/gfmartins/nfe-monitor/internal/domain"
	"github.com/gfmartins/nfe-monitor/internal/ingest"
	"github.com/gfmartins/nfe-monitor/internal/notify"
	"github.com/gfmartins/nfe-monitor/internal/portal"
	"github.com/gfmartins/nfe-monitor/internal/repository"
	"github.com/gfmartins/nfe-monitor/internal/scheduler"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(".")
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	// Run migrations
	if err := db.RunMigrations(cfg.Database, "./migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Create repositories
	entityRepo := repository.NewEntityRepository(conn.Pool)
	documentRepo := repository.NewDocumentRepository(conn.Pool)
	runRepo := repository.NewRunRepository(conn.Pool)

	// One fresh portal session per attempt; the coordinator only sees the
	// capability interface, never the jurisdiction.
	sessions := portal.Factory(func(entity domain.MonitoredEntity) portal.Session {
		return portal.NewNacionalSession(entity, portal.Options{
			URL:            cfg.Portal.URL,
			Headless:       cfg.Portal.Headless,
			WaitTimeout:    cfg.Portal.WaitTimeout,
			PageDelay:      cfg.Portal.PageDelay,
			CertificateDir: cfg.Portal.CertificateDir,
		}, log)
	})

	gate := ingest.NewGate(documentRepo, log)
	coordinator := ingest.NewCoordinator(entityRepo, runRepo, gate, sessions, log)

	mailer := notify.NewMailer(cfg.SMTP, log)
	dispatcher := notify.NewDispatcher(entityRepo, documentRepo, mailer, cfg.Notify.DashboardURL, log)

	sched, err := scheduler.New(cfg.Scheduler, entityRepo, coordinator, dispatcher, log)
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}

	log.WithFields(logrus.Fields{
		"workers":         cfg.Scheduler.Workers,
		"scrape_interval": cfg.Scheduler.ScrapeInterval,
		"digest_at":       cfg.Scheduler.DigestHour,
	}).Info("NFe monitor started")

	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Scheduler stopped: %v", err)
	}

	log.Info("Shutdown complete")
}
