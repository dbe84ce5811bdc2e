package main

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vpnagg/aggregator/internal/telemetry/log"
	"github.com/vpnagg/aggregator/internal/xerrors"
	"github.com/vpnagg/aggregator/pkg/model"
	"github.com/vpnagg/aggregator/pkg/output"
	"github.com/vpnagg/aggregator/pkg/protocol"
	"github.com/vpnagg/aggregator/pkg/scorer"
	"github.com/vpnagg/aggregator/pkg/tester"
)

var retestCmd = &cobra.Command{
	Use:   "retest <input>",
	Args:  cobra.ExactArgs(1),
	Short: "Reprobe an existing raw/base64 subscription file and write sorted outputs",
	Long: `retest reads a previously generated raw or base64 subscription file,
re-runs the Tester and Scorer stages only (no discovery, fetch, or dedup),
and rewrites the configured output formats in quality-score order.`,
	RunE: runRetest,
}

func init() {
	retestCmd.Flags().String("output-dir", "", "override output.dir")
	retestCmd.Flags().String("formats", "", "comma-separated output formats, or \"all\"")
}

func runRetest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if v, _ := cmd.Flags().GetString("output-dir"); v != "" {
		cfg.Output.Dir = v
	}
	if v, _ := cmd.Flags().GetString("formats"); v != "" {
		cfg.Output.Formats = []string{v}
	}
	formats, err := cfg.ResolvedFormats()
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return xerrors.New(xerrors.KindIO, "reading retest input", err)
	}

	lines := decodeLines(raw)
	results := make([]*model.ConfigResult, 0, len(lines))
	for _, line := range lines {
		if !protocol.IsValidConfig(line) {
			continue
		}
		r, err := protocol.Parse(line, args[0])
		if err != nil {
			log.Warn("retest: skipping unparseable line", "error", err.Error())
			continue
		}
		results = append(results, r)
	}

	t := tester.New(tester.Config{
		ConcurrencyPerProtocol: cfg.Test.ConcurrencyPerProtocol,
		Timeout:                cfg.Test.Timeout,
		MaxPingMS:              cfg.Test.MaxPingMS,
		AppProbes:              cfg.Test.AppProbes,
	})
	t.TestAll(cmd.Context(), results)

	scored := scorer.Score(scorer.Default{}, results)

	res := output.Write(cfg.Output.Dir, scored, formats)
	if err, ok := res.Errors[output.FormatRaw]; ok {
		return err
	}

	fmt.Printf("retested %d configs, wrote %d files to %s\n", len(scored), len(res.Written), cfg.Output.Dir)
	return nil
}

// decodeLines accepts either plain newline-delimited config lines or a
// single base64-encoded blob of the same, matching what vpn_subscription_raw.txt
// and vpn_subscription_base64.txt respectively contain.
func decodeLines(raw []byte) []string {
	trimmed := bytes.TrimSpace(raw)
	if looksLikeBase64(trimmed) {
		if decoded, err := base64.StdEncoding.DecodeString(string(trimmed)); err == nil {
			trimmed = decoded
		}
	}

	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(string(trimmed)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func looksLikeBase64(b []byte) bool {
	if bytes.ContainsAny(b, ":\n") && bytes.Contains(b, []byte("://")) {
		return false
	}
	for _, c := range b {
		isAlnum := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !isAlnum && c != '+' && c != '/' && c != '=' {
			return false
		}
	}
	return len(b) > 0
}
