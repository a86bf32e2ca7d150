package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/fluxytools/chatai/internal/cli"
	"github.com/fluxytools/chatai/internal/config"
	"github.com/fluxytools/chatai/internal/database"
	"github.com/fluxytools/chatai/internal/logging"
	"github.com/fluxytools/chatai/internal/notify"
	"github.com/fluxytools/chatai/internal/render"
	"github.com/fluxytools/chatai/internal/repository/sqlstore"
	"github.com/fluxytools/chatai/internal/services"
)

func main() {
	local := flag.Bool("local", false, "run the free model proxy in process instead of calling the server")
	plain := flag.Bool("plain", false, "print replies without markdown styling")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal("Failed to load configuration: ", err)
	}

	// Keep logs off the prompt unless asked for
	level := cfg.Log.Level
	if os.Getenv("CHATAI_LOG_LEVEL") == "" {
		level = "warn"
	}
	log := logging.New(level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	// The terminal client always keeps its state in a local SQLite file
	storage := cfg.Storage
	storage.Driver = database.DriverSQLite
	db, err := database.Open(storage)
	if err != nil {
		log.WithError(err).Fatal("Failed to open storage")
	}
	defer db.Close()

	var opts []services.Option
	if !*local {
		opts = append(opts, services.WithRemoteProxy(cfg.Client.ProxyURL))
	}

	svc, err := services.NewServices(ctx, cfg, sqlstore.NewKeyValueRepository(db.DB), notify.NewHub(), log, opts...)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize services")
	}
	go svc.Run(ctx)

	wrap := cfg.Client.WordWrap
	if *plain {
		wrap = 0
	}

	historyFile := cfg.Client.HistoryFile
	if historyFile == "" {
		historyFile = filepath.Join(filepath.Dir(storage.SQLitePath), "history")
	}

	if err := cli.Run(ctx, svc, render.NewRenderer(wrap), historyFile); err != nil {
		log.WithError(err).Error("Shell stopped")
		os.Exit(1)
	}
}
