package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vpnagg/aggregator/internal/telemetry/log"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Args:  cobra.NoArgs,
	Short: "Run one discover-validate-fetch-dedup-score-write pipeline pass",
	RunE:  runProcess,
}

func init() {
	processCmd.Flags().String("output-dir", "", "override output.dir")
	processCmd.Flags().String("formats", "", "comma-separated output formats, or \"all\"")
	processCmd.Flags().Bool("force-refresh", false, "bypass the fetch cache for this run")
	processCmd.Flags().Int("concurrent", 0, "override execution.concurrent_limit")
	processCmd.Flags().Int("timeout", 0, "fetch timeout in seconds, overrides fetch.timeout")
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	outputDir, _ := cmd.Flags().GetString("output-dir")
	formats, _ := cmd.Flags().GetString("formats")
	forceRefresh, _ := cmd.Flags().GetBool("force-refresh")
	concurrent, _ := cmd.Flags().GetInt("concurrent")
	timeoutS, _ := cmd.Flags().GetInt("timeout")
	if timeoutS > 0 {
		cfg.Fetch.Timeout = time.Duration(timeoutS) * time.Second
	}

	orch, cleanup, err := buildOrchestrator(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	overrides := map[string]any{}
	if outputDir != "" {
		overrides["output_dir"] = outputDir
	}
	if formats != "" {
		overrides["formats"] = []string{formats}
	}
	if forceRefresh {
		overrides["force_refresh"] = true
	}
	if concurrent > 0 {
		overrides["concurrent_limit"] = concurrent
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	record, runErr := orch.Run(ctx, overrides)
	if record == nil {
		return runErr
	}

	fmt.Printf("sources checked: %d, unique configs: %d, reachable: %d, elapsed: %s\n",
		record.Sources, record.TotalConfigs, record.Reachable, record.Durations.Total.Round(time.Millisecond))
	log.Info("process run finished", "run_id", record.RunID, "status", record.Status)

	return runErr
}
