package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Args:  cobra.NoArgs,
	Short: "Run environment and configuration checks",
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	formats, err := cfg.ResolvedFormats()
	if err != nil {
		return err
	}

	if info, statErr := os.Stat(cfg.Output.Dir); statErr == nil && !info.IsDir() {
		return fmt.Errorf("output.dir %q exists and is not a directory", cfg.Output.Dir)
	}

	fmt.Println("config: ok")
	fmt.Printf("output dir: %s\n", cfg.Output.Dir)
	fmt.Printf("formats: %v\n", formats)
	fmt.Printf("concurrency limit: %d\n", cfg.Execution.ConcurrentLimit)
	if cfg.Execution.SkipNetwork {
		fmt.Println("source validation probes and github discovery: disabled (SKIP_NETWORK/CI set)")
	}
	if cfg.Discovery.GithubToken == "" {
		fmt.Println("github discovery: disabled (GITHUB_TOKEN not set)")
	}

	return nil
}
