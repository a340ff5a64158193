// baize-codegen is the operator's offline issuance tool. It mints signed
// activation codes straight into the issuer database and can export the
// packaging assets (public key PEM and self-check signature) embedded into
// client builds.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"baizecli/internal/config"
	"baizecli/internal/infrastructure"
	"baizecli/internal/issuer"
)

// selfCheckPayload must stay in sync with the client verifier's constant.
const selfCheckPayload = "baize-license-selfcheck-v1"

func main() {
	dbPath := flag.String("db", "", "issuer database path (defaults to the configured path)")
	keyDir := flag.String("keys", "", "issuer key directory (defaults to the configured path)")
	count := flag.Int("n", 1, "number of codes to generate")
	email := flag.String("email", "", "customer email recorded with each code")
	expiresDays := flag.Int("expires-days", 0, "days until expiry, 0 for no expiry")
	maxActivations := flag.Int("max-activations", 0, "redemption budget per code, 0 for the configured default")
	fingerprintFlag := flag.String("fingerprint", "", "pre-bind codes to a device fingerprint")
	exportDir := flag.String("export-assets", "", "write client packaging assets (public key and self-check signature) to this directory and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := infrastructure.MustInitializeLogger(cfg.Logging)
	defer infrastructure.CloseLogFile()

	if *dbPath == "" {
		*dbPath = cfg.Issuer.DatabasePath
	}
	if *keyDir == "" {
		*keyDir = cfg.Issuer.KeyDir
	}

	if err := run(cfg, logger, options{
		dbPath:         *dbPath,
		keyDir:         *keyDir,
		count:          *count,
		email:          *email,
		expiresDays:    *expiresDays,
		maxActivations: *maxActivations,
		fingerprint:    *fingerprintFlag,
		exportDir:      *exportDir,
	}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	dbPath         string
	keyDir         string
	count          int
	email          string
	expiresDays    int
	maxActivations int
	fingerprint    string
	exportDir      string
}

func run(cfg *config.Config, logger *slog.Logger, opts options) error {
	keys, err := issuer.LoadOrGenerateKeys(opts.keyDir, logger)
	if err != nil {
		return err
	}

	if opts.exportDir != "" {
		return exportAssets(keys, opts.exportDir)
	}

	if opts.count < 1 {
		return fmt.Errorf("code count must be at least 1")
	}

	db, err := issuer.Open(opts.dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := issuer.NewService(issuer.NewRepository(db), keys, issuer.Config{
		Product:        config.ProductID,
		Version:        config.ProductVersion,
		CheckoutURL:    cfg.Issuer.CheckoutURL,
		SessionTTL:     cfg.Issuer.SessionTTL,
		MaxActivations: cfg.Issuer.MaxActivations,
	}, logger)

	ctx := context.Background()
	for i := 0; i < opts.count; i++ {
		issued, err := svc.GenerateCode(ctx, issuer.GenerateParams{
			CustomerEmail:  opts.email,
			ExpiresDays:    opts.expiresDays,
			MaxActivations: opts.maxActivations,
			Fingerprint:    opts.fingerprint,
		})
		if err != nil {
			return fmt.Errorf("generate code %d of %d: %w", i+1, opts.count, err)
		}
		fmt.Println(issued.Code)
	}
	return nil
}

// exportAssets writes the two files a client build embeds: the issuer public
// key and a known-good signature the client verifies at startup.
func exportAssets(keys *issuer.KeyStore, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}

	publicPEM, err := keys.PublicKeyPEM()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "license_public.pem"), publicPEM, 0o644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}

	signature, err := keys.Sign([]byte(selfCheckPayload))
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "selfcheck.sig"), []byte(signature), 0o644); err != nil {
		return fmt.Errorf("write self-check signature: %w", err)
	}

	fmt.Printf("Packaging assets written to %s\n", dir)
	return nil
}
