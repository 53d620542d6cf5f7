// Command server runs the order lifecycle API.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/dappfactory/orderflow/internal/app"
	"github.com/dappfactory/orderflow/internal/app/httpapi"
	"github.com/dappfactory/orderflow/internal/app/storage/postgres"
	"github.com/dappfactory/orderflow/internal/chain"
	"github.com/dappfactory/orderflow/internal/compliance"
	"github.com/dappfactory/orderflow/internal/config"
	"github.com/dappfactory/orderflow/internal/generator"
	"github.com/dappfactory/orderflow/internal/middleware"
	"github.com/dappfactory/orderflow/internal/packager"
	"github.com/dappfactory/orderflow/internal/app/services/notify"
	"github.com/dappfactory/orderflow/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault("server").WithError(err).Error("load configuration")
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}).WithField("component", "server")

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
}

func run(cfg config.Config, log *logger.Logger) error {
	stores := app.Stores{}
	if cfg.Database.DSN != "" {
		db, err := sqlx.Connect("postgres", cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)

		if err := postgres.Migrate(db.DB); err != nil {
			return err
		}
		stores.Orders = postgres.New(db)
		log.Info("using postgres order store")
	} else {
		log.Warn("no database configured, using in-memory order store")
	}

	chainClient, err := chain.NewClient(chain.Config{
		RPCURL:   cfg.Chain.RPCURL,
		Treasury: cfg.Chain.Treasury,
		Timeout:  cfg.Chain.Timeout.Std(),
	})
	if err != nil {
		return err
	}

	genClient, err := generator.NewClient(nil, cfg.Generator.Endpoint, cfg.Generator.APIKey,
		log.WithField("component", "generator"))
	if err != nil {
		return err
	}

	zipPackager, err := packager.NewZipPackager(cfg.Packager.SpoolDir,
		log.WithField("component", "packager"))
	if err != nil {
		return err
	}

	collab := app.Collaborators{
		TransactionLookup: chainClient,
		Generator:         genClient,
		Scorer:            compliance.New(log.WithField("component", "compliance")),
		Packager:          zipPackager,
	}
	if cfg.Chain.SignerURL != "" {
		signer, err := chain.NewTreasurySigner(nil, cfg.Chain.SignerURL, cfg.Chain.SignerToken,
			log.WithField("component", "treasury"))
		if err != nil {
			return err
		}
		collab.RefundIssuer = signer
	} else {
		log.Warn("no treasury signer configured, refunds disabled")
	}
	if cfg.Mail.Endpoint != "" {
		mailer := notify.NewMailer(notify.Config{
			Endpoint: cfg.Mail.Endpoint,
			APIKey:   cfg.Mail.APIKey,
			From:     cfg.Mail.From,
		}, nil, log.WithField("component", "notify"))
		collab.PaymentNotifier = mailer
		collab.CompletionMailer = mailer
	}

	application, err := app.New(
		stores,
		collab,
		app.Options{
			GeneratorWorkers:   cfg.Generator.Workers,
			RefundSweepEnabled: true,
			RefundSweepCron:    cfg.Refund.SweepSchedule,
		},
		log,
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return err
	}

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	server := httpapi.NewServer(
		application.Orders,
		application.Payments,
		application.Generation,
		application.Downloads,
		application.Refunds,
		log.WithField("component", "httpapi"),
	)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.Router(limiter),
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
	return application.Stop(shutdownCtx)
}
