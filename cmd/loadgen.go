package main

import (
	"context"
	"runtime"
	"time"

	"github.com/okian/yieldboard/internal/loadgen"
	"github.com/spf13/cobra"
)

// Default load run constants.
const (
	defaultAccounts    = 1000
	defaultUnstakeEach = 10
	defaultTopN        = 50
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 30 * time.Second
	defaultRunTimeout  = 10 * time.Minute
)

func loadgenCommand() *cobra.Command {
	var (
		cfg     loadgen.Config
		epoch   uint64
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Stake a population of accounts against a running server and check its leaderboard",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("epoch") {
				cfg.RunEpoch = &epoch
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			_, err := loadgen.Run(ctx, &cfg)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "url", "http://localhost:9080", "base URL of the service")
	f.IntVar(&cfg.Accounts, "accounts", defaultAccounts, "number of accounts to stake")
	f.IntVar(&cfg.UnstakeEach, "unstake-each", defaultUnstakeEach, "every n-th account unstakes half its stake (0 disables)")
	f.IntVar(&cfg.Workers, "workers", runtime.NumCPU()*defaultWorkers, "number of concurrent requests")
	f.DurationVar(&cfg.Timeout, "request-timeout", defaultTimeout, "HTTP request timeout")
	f.IntVar(&cfg.TopN, "top", defaultTopN, "leaderboard entries to fetch")
	f.Uint64Var(&epoch, "epoch", 0, "epoch to run after staking")
	f.BoolVar(&cfg.Verbose, "verbose", false, "log every failed request")
	f.DurationVar(&timeout, "timeout", defaultRunTimeout, "overall run timeout")
	return cmd
}
