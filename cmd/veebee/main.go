package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"veebee/internal/api"
	"veebee/internal/bot"
	"veebee/internal/config"
	"veebee/internal/modules/status"
	"veebee/internal/namemc"
	"veebee/internal/premium"
	"veebee/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	session, err := bot.NewSession(cfg.DiscordToken)
	if err != nil {
		logger.Fatal("session init failed", zap.Error(err))
	}

	auditor := premium.NewAuditor(store, logger)
	directory := bot.NewDirectory(session)
	manager := premium.NewManager(store, auditor, directory, logger, cfg.Premium)

	botSvc := bot.New(cfg, logger, store, manager, namemc.New(), session)
	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started")

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := premium.NewScheduler(manager, logger, cfg.Premium)
	if err := scheduler.Start(rootCtx); err != nil {
		logger.Fatal("scheduler start failed", zap.Error(err))
	}

	var poller *status.Poller
	if len(cfg.Status.Monitors) > 0 {
		poller = status.New(cfg.Status, logger, func(monitor config.MonitorConfig, up bool, report status.Report) {
			state := "down"
			if up {
				state = "up"
			}
			message := fmt.Sprintf("**%s** is %s", monitor.Name, state)
			if report.Message != "" {
				message += ": " + report.Message
			}
			botSvc.NotifyChannel(monitor.ChannelID, message)
		})
		poller.Start(rootCtx)
	}

	var server *api.Server
	if cfg.API.Enabled {
		server = api.NewServer(cfg.API, logger, store, manager, api.NewDiscordVerifier())
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("api server error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")

	cancel()
	scheduler.Stop()
	if poller != nil {
		poller.Stop()
	}

	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if server != nil {
		_ = server.Shutdown(ctx)
	}
	botSvc.Close(ctx)
}
