package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fluxytools/chatai/internal/api"
	"github.com/fluxytools/chatai/internal/config"
	"github.com/fluxytools/chatai/internal/database"
	"github.com/fluxytools/chatai/internal/logging"
	"github.com/fluxytools/chatai/internal/notify"
	"github.com/fluxytools/chatai/internal/repository/sqlstore"
	"github.com/fluxytools/chatai/internal/services"
)

func main() {
	rollback := flag.Bool("rollback", false, "roll back the last storage migration and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal("Failed to load configuration: ", err)
	}

	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	if *rollback {
		if err := database.RollbackMigration(cfg.Storage); err != nil {
			log.WithError(err).Fatal("Failed to roll back migration")
		}
		log.WithField("storage", cfg.Storage.Driver).Info("Rolled back last migration")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to storage and run migrations
	db, err := database.Open(cfg.Storage)
	if err != nil {
		log.WithError(err).Fatal("Failed to open storage")
	}
	defer db.Close()

	hub := notify.NewHub()

	// Instances sharing PostgreSQL see each other's credential changes
	if db.Driver == database.DriverPostgres {
		bridge, err := notify.NewPGBridge(ctx, database.GetDSN(cfg.Storage.Postgres), hub, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to start notify bridge")
		}
		defer bridge.Close()
		go func() {
			if err := bridge.Run(ctx); err != nil {
				log.WithError(err).Error("Notify bridge stopped")
			}
		}()
	}

	// Initialize services
	repo := sqlstore.NewKeyValueRepository(db.DB)
	svc, err := services.NewServices(ctx, cfg, repo, hub, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize services")
	}
	go svc.Run(ctx)

	config.Watch(func(next *config.Config, err error) {
		if err != nil {
			log.WithError(err).Warn("Ignoring invalid configuration change")
			return
		}
		if err := svc.ApplyConfig(next); err != nil {
			log.WithError(err).Warn("Failed to apply configuration change")
		}
	})

	accessLog := log.WriterLevel(logrus.InfoLevel)
	defer accessLog.Close()

	app := api.NewApp(svc, cfg, accessLog)

	go func() {
		<-ctx.Done()
		log.Info("Shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.WithError(err).Error("Shutdown failed")
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.WithField("addr", addr).WithField("storage", db.Driver).Info("ChatAI server starting")
	if err := app.Listen(addr); err != nil {
		log.WithError(err).Fatal("Failed to start server")
	}
}
