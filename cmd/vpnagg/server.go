package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vpnagg/aggregator/internal/xerrors"
)

// serverCmd is the external-interface surface (HTTP API / web UI). It is
// explicitly not part of the core aggregation pipeline; this command exists
// so the CLI surface is complete, but it does not start a listener.
var serverCmd = &cobra.Command{
	Use:   "server {api|web|all}",
	Args:  cobra.ExactArgs(1),
	Short: "External interface entry point (not part of the core pipeline)",
	RunE:  runServer,
}

func runServer(cmd *cobra.Command, args []string) error {
	switch args[0] {
	case "api", "web", "all":
	default:
		return xerrors.New(xerrors.KindConfig, "server mode must be one of api|web|all", nil)
	}
	return fmt.Errorf("server mode %q is not implemented in this build; use 'process' for one-shot runs", args[0])
}
