// license-server is the issuing side of the activation system: it validates
// and redeems activation codes, runs payment checkout sessions, and exposes
// operator endpoints for offline code issuance.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"baizecli/internal/config"
	"baizecli/internal/infrastructure"
	"baizecli/internal/issuer"
	"baizecli/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := infrastructure.MustInitializeLogger(cfg.Logging)
	defer infrastructure.CloseLogFile()

	if err := run(cfg, logger); err != nil {
		logger.Error("license server exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	db, err := issuer.Open(cfg.Issuer.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	keys, err := issuer.LoadOrGenerateKeys(cfg.Issuer.KeyDir, logger)
	if err != nil {
		return err
	}

	svc := issuer.NewService(issuer.NewRepository(db), keys, issuer.Config{
		Product:        config.ProductID,
		Version:        config.ProductVersion,
		CheckoutURL:    cfg.Issuer.CheckoutURL,
		SessionTTL:     cfg.Issuer.SessionTTL,
		MaxActivations: cfg.Issuer.MaxActivations,
	}, logger)

	srv := server.New(cfg.Server, svc, logger, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down license server")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}
