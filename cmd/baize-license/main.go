// baize-license is the desktop-side license tool: it reports activation
// state, runs activation and deactivation, and drives the purchase flow
// against the licensing server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"baizecli/internal/client"
	"baizecli/internal/config"
	"baizecli/internal/fingerprint"
	"baizecli/internal/infrastructure"
	"baizecli/internal/license"
	"baizecli/internal/sigverify"
	"baizecli/internal/store"
	"baizecli/internal/trial"
)

const usage = `Usage: baize-license <command> [arguments]

Commands:
  status              show current license and trial state
  activate <code>     activate this device with an activation code
  deactivate          remove the license from this device
  trial               show the trial window state
  buy                 open a payment checkout session
  poll                check pending payments for an issued code
  fingerprint         print this device's hardware fingerprint
`

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := infrastructure.MustInitializeLogger(cfg.Logging)
	defer infrastructure.CloseLogFile()

	if err := run(cfg, logger, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, args []string) error {
	paths, err := config.GetPaths()
	if err != nil {
		return fmt.Errorf("resolve data paths: %w", err)
	}

	fp := fingerprint.NewGenerator(paths.DeviceIDFile, logger)

	if args[0] == "fingerprint" {
		fmt.Println(fp.Fingerprint())
		return nil
	}

	verifier, err := sigverify.NewEmbeddedVerifier(logger)
	if err != nil {
		return fmt.Errorf("load embedded issuer key: %w", err)
	}

	tracker := trial.NewTracker(paths.TrialFile, cfg.Client.TrialDays, logger)
	sessions := store.NewSessionStore(paths.SessionsFile)
	remote := client.New(
		cfg.Client.ServerURL,
		config.ProductID,
		config.ProductVersion,
		cfg.Client.RequestTimeout,
		sessions,
		logger,
	)

	mgr, err := license.NewManager(license.Options{
		Store:          store.NewMultiFile(logger, paths.LicenseCandidates...),
		Trial:          tracker,
		Remote:         remote,
		Fingerprint:    fp,
		SelfCheck:      verifier,
		ProductID:      config.ProductID,
		ProductVersion: config.ProductVersion,
		MarkerPath:     paths.MarkerFile,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer mgr.Close()

	ctx := context.Background()

	switch args[0] {
	case "status":
		ok, msg, details := mgr.CheckValidity()
		fmt.Println(msg)
		if details.Trial {
			fmt.Printf("Trial: %d day(s) remaining\n", details.RemainingDays)
		}
		if !ok {
			os.Exit(1)
		}

	case "activate":
		if len(args) < 2 {
			return fmt.Errorf("activate requires an activation code")
		}
		ok, msg := mgr.Activate(ctx, args[1])
		fmt.Println(msg)
		if !ok {
			os.Exit(1)
		}

	case "trial":
		ok, msg, status := tracker.Check()
		fmt.Println(msg)
		if status.Trial {
			fmt.Printf("Remaining: %d day(s)\n", status.RemainingDays)
		}
		if !ok {
			os.Exit(1)
		}

	case "deactivate":
		if mgr.Deactivate() {
			fmt.Println("License removed from this device.")
		} else {
			fmt.Println("Some license copies could not be removed; check file permissions.")
			os.Exit(1)
		}

	case "buy":
		ok, msg, checkoutURL := remote.CreateCheckoutSession(ctx, fp.Fingerprint())
		fmt.Println(msg)
		if !ok {
			os.Exit(1)
		}
		fmt.Printf("Open this URL to complete the purchase:\n  %s\n", checkoutURL)
		fmt.Println("Afterwards run: baize-license poll")

	case "poll":
		ok, msg, code := remote.PollPaymentStatus(ctx, fp.Fingerprint())
		fmt.Println(msg)
		if !ok {
			os.Exit(1)
		}
		fmt.Printf("Activation code: %s\n", code)
		activated, actMsg := mgr.Activate(ctx, code)
		fmt.Println(actMsg)
		if !activated {
			os.Exit(1)
		}

	default:
		flag.Usage()
		os.Exit(2)
	}

	return nil
}
