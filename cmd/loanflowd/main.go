// Command loanflowd runs the loan fulfillment orchestrator: a SQLite-backed
// workflow engine, a pool of queue workers, and an HTTP facade for submitting
// applications and delivering human decisions.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	_ "modernc.org/sqlite"

	"github.com/lendr/loanflow"
	"github.com/lendr/loanflow/pkg/loan"
)

type config struct {
	Addr     string     `env:"LOANFLOW_ADDR" envDefault:":8080"`
	DBPath   string     `env:"LOANFLOW_DB" envDefault:"loanflow.db"`
	Workers  int        `env:"LOANFLOW_WORKERS" envDefault:"4"`
	LogLevel slog.Level `env:"LOANFLOW_LOG_LEVEL" envDefault:"INFO"`

	AttemptTimeout time.Duration `env:"LOANFLOW_ATTEMPT_TIMEOUT" envDefault:"5m"`
	MaxAttempts    int           `env:"LOANFLOW_MAX_ATTEMPTS" envDefault:"5"`
	InitialBackoff time.Duration `env:"LOANFLOW_RETRY_INITIAL_BACKOFF" envDefault:"1s"`
	MaxBackoff     time.Duration `env:"LOANFLOW_RETRY_MAX_BACKOFF" envDefault:"30s"`

	EligibilityURL string `env:"ELIGIBILITY_SERVICE_URL" envDefault:"http://eligibility-service"`
	OfferURL       string `env:"CUSTOMER_OFFER_SERVICE_URL" envDefault:"http://customer-offer-service"`
	AgreementURL   string `env:"SALES_AGREEMENT_SERVICE_URL" envDefault:"http://sales-agreement-service"`
	AccountURL     string `env:"CONSUMER_LOAN_SERVICE_URL" envDefault:"http://consumer-loan-service"`
	PaymentURL     string `env:"PAYMENT_ORDER_SERVICE_URL" envDefault:"http://payment-order-service"`
	EventSinkURL   string `env:"BFF_INTERNAL_URL" envDefault:"http://bff"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("loanflowd exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("sqlite", "file:"+cfg.DBPath+"?_journal=WAL")
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	collab := loan.NewHTTPCollaborators(loan.HTTPClientConfig{
		EligibilityURL: cfg.EligibilityURL,
		OfferURL:       cfg.OfferURL,
		AgreementURL:   cfg.AgreementURL,
		AccountURL:     cfg.AccountURL,
		PaymentURL:     cfg.PaymentURL,
		EventSinkURL:   cfg.EventSinkURL,
	})

	metrics := &loanflow.BasicMetrics{}
	opts := loanflow.Options{
		AttemptTimeout: cfg.AttemptTimeout,
		Retry: loanflow.Retry(cfg.MaxAttempts).
			WithExponentialBackoff(cfg.InitialBackoff, 2.0, cfg.MaxBackoff).
			Policy(),
		Observer: loanflow.NewCompositeObserver(loanflow.NewLoggingObserver(logger), metrics),
		Logger:   logger,
	}

	bundle, err := loanflow.NewSQLiteBundle(db, collab, opts)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	// Resume instances interrupted by the previous shutdown before any new
	// traffic arrives.
	recovered, err := bundle.Engine.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover instances: %w", err)
	}
	logger.Info("startup recovery complete", slog.Int("instances", recovered))

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bundle.Worker.Run(ctx)
		}()
	}

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: newServer(bundle.Engine, bundle.Worker, metrics, logger),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("loanflowd listening", slog.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		stop()
		wg.Wait()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.Any("error", err))
	}
	wg.Wait()
	return nil
}
