package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	app "github.com/okian/yieldboard/internal/app"
	"github.com/spf13/cobra"
)

func runEpochCommand() *cobra.Command {
	var epoch uint64
	cmd := &cobra.Command{
		Use:   "run-epoch",
		Short: "Run one epoch, or every elapsed epoch not yet distributed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				if !cmd.Flags().Changed("epoch") {
					if err := svc.RunLatest(ctx); err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), svc.GetStats())
				}
				report, err := svc.RunEpoch(ctx, epoch)
				if report != nil {
					if perr := printJSON(cmd.OutOrStdout(), report); perr != nil {
						return errors.Join(err, perr)
					}
				}
				return err
			})
		},
	}
	cmd.Flags().Uint64Var(&epoch, "epoch", 0, "epoch id to run")
	return cmd
}

func redriveCommand() *cobra.Command {
	var (
		account string
		epoch   uint64
	)
	cmd := &cobra.Command{
		Use:   "redrive",
		Short: "Re-submit a failed-terminal payout under its original idempotency key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				p, err := svc.Redrive(ctx, account, epoch)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), p)
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account id of the payout")
	cmd.Flags().Uint64Var(&epoch, "epoch", 0, "epoch id of the payout")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("epoch")
	return cmd
}

// withService starts the service without its time-based trigger, runs fn and
// stops it.
func withService(cmd *cobra.Command, fn func(context.Context, *app.Service) error) error {
	cfg := *configFrom(cmd)
	cfg.ScheduleInterval = 0

	ctx := cmd.Context()
	svc := app.New(&cfg)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	defer svc.Stop(context.Background())
	return fn(ctx, svc)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
