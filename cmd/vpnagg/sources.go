package main

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/vpnagg/aggregator/internal/xerrors"
	"github.com/vpnagg/aggregator/pkg/model"
	"github.com/vpnagg/aggregator/pkg/source/store"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage known subscription sources",
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Args:  cobra.NoArgs,
	Short: "List known sources and their reliability weight",
	RunE:  runSourcesList,
}

var sourcesAddCmd = &cobra.Command{
	Use:   "add <url>",
	Args:  cobra.ExactArgs(1),
	Short: "Add a source at a given tier",
	RunE:  runSourcesAdd,
}

var sourcesBlacklistCmd = &cobra.Command{
	Use:   "blacklist <url>",
	Args:  cobra.ExactArgs(1),
	Short: "Blacklist a source",
	RunE:  runSourcesBlacklist,
}

var sourcesWhitelistCmd = &cobra.Command{
	Use:   "whitelist <url>",
	Args:  cobra.ExactArgs(1),
	Short: "Clear a source's blacklist flag",
	RunE:  runSourcesWhitelist,
}

var sourcesCleanupOlderCmd = &cobra.Command{
	Use:   "cleanup-older",
	Args:  cobra.NoArgs,
	Short: "Prune source history entries older than --days",
	RunE:  runSourcesCleanupOlder,
}

func init() {
	sourcesAddCmd.Flags().String("tier", string(model.TierBulk), "tier: premium|reliable|bulk|experimental")
	sourcesCleanupOlderCmd.Flags().Int("days", 30, "prune history entries older than this many days")

	sourcesCmd.AddCommand(sourcesListCmd, sourcesAddCmd, sourcesBlacklistCmd, sourcesWhitelistCmd, sourcesCleanupOlderCmd)
}

func openStore() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.Output.Dir)
}

func runSourcesList(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"URL", "Tier", "Weight", "State", "Blacklisted", "Success", "Failure"})
	for _, m := range st.All() {
		table.Append([]string{
			m.URL,
			string(m.Tier),
			fmt.Sprintf("%.2f", m.Weight),
			string(m.State),
			fmt.Sprintf("%v", m.IsBlacklisted),
			fmt.Sprintf("%d", m.SuccessCount),
			fmt.Sprintf("%d", m.FailureCount),
		})
	}
	table.Render()
	return nil
}

func runSourcesAdd(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}

	tier, _ := cmd.Flags().GetString("tier")
	switch model.Tier(tier) {
	case model.TierPremium, model.TierReliable, model.TierBulk, model.TierExperimental:
	default:
		return xerrors.New(xerrors.KindConfig, "unknown tier: "+tier, nil)
	}

	meta := model.NewSourceMetadata(args[0], model.Tier(tier))
	if err := st.AddAtomic(meta); err != nil {
		return err
	}
	fmt.Printf("added %s at tier %s\n", args[0], tier)
	return nil
}

func runSourcesBlacklist(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	if err := st.Blacklist(args[0]); err != nil {
		return err
	}
	fmt.Printf("blacklisted %s\n", args[0])
	return nil
}

func runSourcesWhitelist(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	if err := st.Whitelist(args[0]); err != nil {
		return err
	}
	fmt.Printf("whitelisted %s\n", args[0])
	return nil
}

func runSourcesCleanupOlder(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	days, _ := cmd.Flags().GetInt("days")
	if days < 1 {
		return xerrors.New(xerrors.KindConfig, "--days must be at least 1", nil)
	}
	if err := st.CleanupOlderThan(days); err != nil {
		return err
	}
	fmt.Printf("pruned source history older than %d days\n", days)
	return nil
}
