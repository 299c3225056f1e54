// Package main выполняет разовое начисление агио по одному бару или по всем барам.
//
// Использование:
//
//	agios -d postgres://... [-b bar] [-date 2024-03-01] [-u bar]
//
// Процесс завершается с ненулевым кодом, если хотя бы одно начисление не удалось.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"

	"github.com/mmeshcher/bartab/internal/agios"
	"github.com/mmeshcher/bartab/internal/ledger"
	"github.com/mmeshcher/bartab/internal/repository"
)

type options struct {
	DatabaseURI    string `env:"DATABASE_URI"`
	SystemUsername string `env:"SYSTEM_USERNAME" envDefault:"bar"`
	Bar            string
	Date           time.Time
}

func parseOptions(args []string) (*options, error) {
	opts := &options{}
	if err := env.Parse(opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	fs := flag.NewFlagSet("agios", flag.ContinueOnError)
	fs.StringVar(&opts.DatabaseURI, "d", opts.DatabaseURI, "database URI")
	fs.StringVar(&opts.SystemUsername, "u", opts.SystemUsername, "username owning the bar default accounts")
	fs.StringVar(&opts.Bar, "b", "", "bar id (all bars when empty)")
	date := fs.String("date", "", "evaluation date YYYY-MM-DD (today when empty)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if opts.DatabaseURI == "" {
		return nil, fmt.Errorf("database URI is required")
	}

	opts.Date = time.Now()
	if *date != "" {
		d, err := time.Parse(time.DateOnly, *date)
		if err != nil {
			return nil, fmt.Errorf("parse date: %w", err)
		}
		opts.Date = d
	}
	return opts, nil
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(opts.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l := ledger.NewService(repo, ledger.WithLogger(logger))
	engine := agios.NewEngine(repo, l, ledger.NewSystemAccounts(repo, opts.SystemUsername), logger)

	var sum agios.Summary
	if opts.Bar != "" {
		sum, err = engine.RunBar(ctx, opts.Bar, opts.Date)
	} else {
		sum, err = engine.RunAll(ctx, opts.Date)
	}

	sugar.Infow("agios run finished",
		"bar", opts.Bar,
		"date", opts.Date.Format(time.DateOnly),
		"accounts", sum.Accounts,
		"charged", sum.Charged,
		"total", sum.Total.String(),
	)
	if err != nil {
		repo.Close()
		logger.Sync()
		sugar.Fatalw("agios run failed", "error", err)
	}
}
