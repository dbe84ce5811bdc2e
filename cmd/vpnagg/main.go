package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vpnagg/aggregator/internal/xerrors"
)

var (
	cfgFile string
	verbose bool
	version = "dev" // set by build flags
)

var rootCmd = &cobra.Command{
	Use:   "vpnagg",
	Short: "VPN subscription aggregator",
	Long: `vpnagg discovers, validates, fetches, deduplicates, and scores VPN
proxy subscription sources, emitting ready-to-use client configs in several
formats.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(retestCmd)
}

// Commands are defined in separate files:
// - processCmd in process.go
// - sourcesCmd in sources.go
// - validateCmd in validate.go
// - serverCmd in server.go
// - retestCmd in retest.go

func main() {
	if err := rootCmd.Execute(); err != nil {
		if xerrors.Is(err, xerrors.KindConfig) {
			fmt.Fprintln(os.Stderr, "config error:", err)
			os.Exit(2)
		}
		os.Exit(1)
	}
}
