package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/punchamoorthee/webledger/internal/api"
	"github.com/punchamoorthee/webledger/internal/config"
	"github.com/punchamoorthee/webledger/internal/export"
	"github.com/punchamoorthee/webledger/internal/logger"
	"github.com/punchamoorthee/webledger/internal/mercadopago"
	"github.com/punchamoorthee/webledger/internal/notify"
	"github.com/punchamoorthee/webledger/internal/service"
	"github.com/punchamoorthee/webledger/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to config file (default ./config.yaml if present)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		errLog := zerolog.New(os.Stderr)
		errLog.Error().Err(err).Msg("Failed to load config")
		return 1
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, Version: cfg.Build})

	ctx := context.Background()
	repo, err := store.Open(ctx, cfg.Store, log)
	if err != nil {
		log.Error().Err(err).Str("driver", cfg.Store.Driver).Msg("Unable to open store")
		return 1
	}
	defer repo.Close()

	loc, err := time.LoadLocation(cfg.Telegram.TimeZone)
	if err != nil {
		log.Warn().Err(err).Str("tz", cfg.Telegram.TimeZone).Msg("Unknown time zone, using UTC")
		loc = time.UTC
	}

	// Initialize Layers
	var ledgerOpts []service.Option
	var handlerOpts []api.HandlerOption
	var notifier *notify.Notifier
	if cfg.Telegram.Enabled {
		tg := notify.NewTelegram(cfg.Telegram.BaseURL, cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.Timeout)
		notifier = notify.New(tg, notify.Options{
			QueueSize:     cfg.Telegram.QueueSize,
			RatePerSecond: cfg.Telegram.RatePerSecond,
			SendTimeout:   cfg.Telegram.Timeout,
			Location:      loc,
		}, log)
		ledgerOpts = append(ledgerOpts, service.WithNotifier(notifier))
		handlerOpts = append(handlerOpts, api.WithSender(tg))
	}

	ledger := service.NewLedger(repo, export.New(cfg.Export.XLSXEnabled), log, ledgerOpts...)

	mp := cfg.MercadoPago
	var forwarder mercadopago.Forwarder = mercadopago.NewLedgerForwarder(ledger)
	if mp.ForwardURL != "" {
		forwarder = mercadopago.NewHTTPForwarder(mp.ForwardURL, mp.ForwardAPIKey, mp.Timeout)
	}
	webhook := mercadopago.NewAdapter(mercadopago.AdapterConfig{
		WebhookSecret: mp.WebhookSecret,
		AdjustmentAs:  mp.AdjustmentAs,
		Policy:        mercadopago.Policy{DefaultCategory: mp.DefaultCategory, InvertKind: mp.InvertKind},
	}, mercadopago.NewClient(mp.BaseURL, mp.AccessToken, mp.Timeout, log), forwarder, log)

	handlerOpts = append(handlerOpts, api.WithBuild(cfg.Build), api.WithLocation(loc))
	handler := api.NewHandler(ledger, webhook, log, handlerOpts...)

	if len(cfg.Auth.APIKeys) == 0 {
		log.Warn().Msg("No API keys configured, /finance routes will refuse every request")
	}
	if mp.WebhookSecret == "" {
		log.Warn().Msg("Webhook secret not set, payment notifications are accepted unsigned")
	}

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(handler, cfg.Auth.APIKeys, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("driver", cfg.Store.Driver).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	code := 0
	select {
	case <-stop:
	case err := <-serveErr:
		log.Error().Err(err).Msg("Server failed")
		code = 1
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
	if notifier != nil {
		if err := notifier.Close(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Notification queue not fully drained")
		}
	}
	return code
}
