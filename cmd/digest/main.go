package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/punchamoorthee/webledger/internal/config"
	"github.com/punchamoorthee/webledger/internal/domain"
	"github.com/punchamoorthee/webledger/internal/export"
	"github.com/punchamoorthee/webledger/internal/logger"
	"github.com/punchamoorthee/webledger/internal/notify"
	"github.com/punchamoorthee/webledger/internal/service"
	"github.com/punchamoorthee/webledger/internal/store"
)

// Sends the month-to-date summary to Telegram once. Meant for cron.
func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to config file")
	month := flag.String("month", "", "Month to summarize, YYYY-MM (default current month)")
	dryRun := flag.Bool("dry-run", false, "Print the message instead of sending it")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		errLog := zerolog.New(os.Stderr)
		errLog.Error().Err(err).Msg("Failed to load config")
		return 1
	}
	log := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, Service: "webledger-digest", Version: cfg.Build})

	loc, err := time.LoadLocation(cfg.Telegram.TimeZone)
	if err != nil {
		loc = time.UTC
	}
	now := time.Now().In(loc)
	if *month == "" {
		*month = now.Format(domain.MonthLayout)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	repo, err := store.Open(ctx, cfg.Store, log)
	if err != nil {
		log.Error().Err(err).Msg("Unable to open store")
		return 1
	}
	defer repo.Close()

	ledger := service.NewLedger(repo, export.New(false), log)
	summary, err := ledger.Summary(ctx, *month)
	if err != nil {
		log.Error().Err(err).Msg("Unable to compute summary")
		return 1
	}

	text := notify.DailySummaryMessage(now, summary)
	if *dryRun {
		os.Stdout.WriteString(text + "\n")
		return 0
	}

	tg := notify.NewTelegram(cfg.Telegram.BaseURL, cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.Timeout)
	if err := tg.Send(ctx, text); err != nil {
		log.Error().Err(err).Msg("Digest not sent")
		return 1
	}
	log.Info().Str("month", *month).Int("count", summary.Count).Msg("Digest sent")
	return 0
}
