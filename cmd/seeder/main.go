package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/punchamoorthee/webledger/internal/config"
	"github.com/punchamoorthee/webledger/internal/domain"
	"github.com/punchamoorthee/webledger/internal/export"
	"github.com/punchamoorthee/webledger/internal/logger"
	"github.com/punchamoorthee/webledger/internal/service"
	"github.com/punchamoorthee/webledger/internal/store"
)

// Imports a CSV of movements (date,concept,category,amount,kind) through the
// ledger, so re-running the same file creates nothing new.
func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to config file")
	file := flag.String("file", "", "CSV file to import")
	noEnforce := flag.Bool("no-idempotency", false, "Insert every row even when an identical movement exists")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		errLog := zerolog.New(os.Stderr)
		errLog.Error().Err(err).Msg("Failed to load config")
		return 1
	}
	log := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: true, Service: "webledger-seeder", Version: cfg.Build})

	if *file == "" {
		log.Error().Msg("-file is required")
		return 2
	}
	f, err := os.Open(*file)
	if err != nil {
		log.Error().Err(err).Msg("Unable to open CSV")
		return 1
	}
	defer f.Close()

	ctx := context.Background()
	repo, err := store.Open(ctx, cfg.Store, log)
	if err != nil {
		log.Error().Err(err).Msg("Unable to open store")
		return 1
	}
	defer repo.Close()

	ledger := service.NewLedger(repo, export.New(false), log)

	log.Info().Str("file", *file).Str("driver", cfg.Store.Driver).Msg("--- Importing movements ---")
	created, replayed, rejected, err := importCSV(ctx, ledger, f, !*noEnforce, log)
	if err != nil {
		log.Error().Err(err).Msg("Import failed")
		return 1
	}
	log.Info().
		Int("created", created).
		Int("replayed", replayed).
		Int("rejected", rejected).
		Msg("Import finished")
	return 0
}

type adder interface {
	Add(ctx context.Context, in domain.NewRecord, enforce bool) (domain.Record, bool, error)
}

func importCSV(ctx context.Context, ledger adder, r io.Reader, enforce bool, log zerolog.Logger) (created, replayed, rejected int, err error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	line := 0
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return created, replayed, rejected, nil
		}
		if err != nil {
			return created, replayed, rejected, err
		}
		line++
		if line == 1 && len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), "date") {
			continue
		}

		in, perr := parseRow(row)
		if perr != nil {
			rejected++
			log.Warn().Int("line", line).Err(perr).Msg("Row skipped")
			continue
		}
		_, isNew, aerr := ledger.Add(ctx, in, enforce)
		switch {
		case aerr != nil:
			if !service.IsClientError(aerr) {
				return created, replayed, rejected, aerr
			}
			rejected++
			log.Warn().Int("line", line).Err(aerr).Msg("Row rejected")
		case isNew:
			created++
		default:
			replayed++
		}
	}
}

func parseRow(row []string) (domain.NewRecord, error) {
	if len(row) < 5 {
		return domain.NewRecord{}, domain.Errorf(domain.ErrValidation, "expected 5 columns, got %d", len(row))
	}
	amount, err := strconv.ParseInt(strings.TrimSpace(row[3]), 10, 64)
	if err != nil {
		return domain.NewRecord{}, domain.Errorf(domain.ErrValidation, "amount %q is not an integer", row[3])
	}
	return domain.NewRecord{
		Date:     row[0],
		Concept:  row[1],
		Category: row[2],
		Amount:   amount,
		Kind:     domain.Kind(strings.ToLower(strings.TrimSpace(row[4]))),
		Source:   domain.SourceImport,
	}, nil
}
