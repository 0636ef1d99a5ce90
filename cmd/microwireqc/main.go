package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"MicrowireQC/internal/app"
	"MicrowireQC/internal/config"
	"MicrowireQC/internal/domain"
	"MicrowireQC/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "microwireqc",
		Short:         "Quality evaluation pipeline for microwire production telemetry",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand(), newReevaluateCommand(), newReviewCommand(), newProbeCommand())
	return root
}

func setup() (config.Config, *slog.Logger) {
	cfg := config.Load()
	return cfg, logging.New(cfg.Logging.Level, cfg.Logging.Format)
}

func withApplication(cmd *cobra.Command, run func(*app.Application, *slog.Logger) error) error {
	cfg, logger := setup()

	application, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		logger.Error("application setup failed", "error", err)
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn("close application", "error", err)
		}
	}()

	if err := run(application, logger); err != nil {
		logger.Error("command failed", "command", cmd.Name(), "error", err)
		return err
	}
	return nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume device reports from MQTT and evaluate them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApplication(cmd, func(a *app.Application, _ *slog.Logger) error {
				return a.Serve(cmd.Context())
			})
		},
	}
}

func newReevaluateCommand() *cobra.Command {
	var scenario string

	cmd := &cobra.Command{
		Use:   "reevaluate",
		Short: "Re-run rules, prediction and arbitration for a scenario",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApplication(cmd, func(a *app.Application, _ *slog.Logger) error {
				res, err := a.Reevaluate(cmd.Context(), scenario)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "processed %d record(s)\n", res.Processed)
				for _, batch := range res.Skipped {
					fmt.Fprintf(cmd.OutOrStdout(), "skipped %s\n", batch)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scenario, "scenario", "", "two-character scenario code")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

func newReviewCommand() *cobra.Command {
	var (
		verdict  string
		reviewer string
		note     string
	)

	cmd := &cobra.Command{
		Use:   "review <batch-number>",
		Short: "Settle a pending record with a human verdict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseVerdict(verdict)
			if err != nil {
				return err
			}
			return withApplication(cmd, func(a *app.Application, _ *slog.Logger) error {
				rec, err := a.Review(cmd.Context(), args[0], v, reviewer, note)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", rec.BatchNumber, rec.FinalVerdict)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&verdict, "verdict", "", "PASS or FAIL")
	cmd.Flags().StringVar(&reviewer, "reviewer", os.Getenv("USER"), "name recorded with the note")
	cmd.Flags().StringVar(&note, "note", "", "free-text justification")
	_ = cmd.MarkFlagRequired("verdict")
	return cmd
}

func newProbeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check that the predictor answers its health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger := setup()
			if err := app.Probe(cmd.Context(), cfg, logger); err != nil {
				logger.Error("probe failed", "error", err)
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "predictor available")
			return nil
		},
	}
}

func parseVerdict(s string) (domain.Verdict, error) {
	v := domain.Verdict(strings.ToUpper(strings.TrimSpace(s)))
	if !v.Conclusive() {
		return "", fmt.Errorf("%w: got %q", domain.ErrInvalidReviewVerdict, s)
	}
	return v, nil
}
