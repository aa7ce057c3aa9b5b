package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/elly-po/copiAlpha-sub000/api"
	"github.com/elly-po/copiAlpha-sub000/config"
	"github.com/elly-po/copiAlpha-sub000/custody"
	"github.com/elly-po/copiAlpha-sub000/engine"
	"github.com/elly-po/copiAlpha-sub000/executor"
	"github.com/elly-po/copiAlpha-sub000/notify"
	"github.com/elly-po/copiAlpha-sub000/scheduler"
	"github.com/elly-po/copiAlpha-sub000/server"
	"github.com/elly-po/copiAlpha-sub000/storage"
)

func main() {
	godotenv.Load()

	log := newLogger()

	cfg, err := config.Load(os.Getenv("COPIALPHA_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ledger, err := storage.NewPostgres(cfg.Cache, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init storage")
	}
	defer ledger.Close()

	client := api.NewClient(cfg.SwapAPI.BaseURL, cfg.SwapAPI.PriceURL,
		time.Duration(cfg.SwapAPI.RequestTimeoutMS)*time.Millisecond)

	swapExec := executor.NewAggregatorExecutor(client, log)
	runner := executor.NewRetrying(swapExec, executor.RetryPolicy{
		MaxAttempts: cfg.Engine.RetryMaxAttempts,
		BaseDelay:   time.Duration(cfg.Engine.RetryBaseDelayMS) * time.Millisecond,
	}, log)

	custodyURL := os.Getenv("CUSTODY_URL")
	if custodyURL == "" {
		custodyURL = "http://localhost:8090"
	}
	signers := custody.NewHTTPResolver(custodyURL, 5*time.Second)

	relay := notify.NewRelay(notify.NewLogNotifier(log), log)

	dispatcher := engine.NewDispatcher(ledger, runner, client, signers, relay,
		cfg.Engine, cfg.Sizing, cfg.Cache, log)

	// Give a sweep four periods before its context expires.
	monitor := engine.NewMonitor(ledger, dispatcher,
		4*time.Duration(cfg.Monitor.IntervalSec)*time.Second, log)

	sched := scheduler.New(log)
	if err := sched.Every(cfg.Monitor.IntervalSec, monitor); err != nil {
		log.Fatal().Err(err).Msg("failed to register position monitor")
	}
	sched.Start()

	srv := server.New(cfg.Server, dispatcher, ledger, log)
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	log.Info().
		Int("port", cfg.Server.Port).
		Int("monitor_interval_sec", cfg.Monitor.IntervalSec).
		Int("concurrency", cfg.Engine.RateLimiterConcurrency).
		Msg("copiAlpha engine running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeoutMS)*time.Millisecond)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	sched.Stop()
	dispatcher.Drain()

	log.Info().Msg("stopped")
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if lvl, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && lvl != zerolog.NoLevel {
		level = lvl
	}

	var log zerolog.Logger
	if os.Getenv("LOG_PRETTY") == "true" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}
