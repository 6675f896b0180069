package cmd

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/primerl/bridge/internal/config"
	"github.com/primerl/bridge/internal/prefixcache"
)

var (
	adminConfigFile string
	adminFP         string
)

// adminCmd groups one-off maintenance operations an operator runs by
// hand against a live deployment's backing stores, rather than from
// inside the long-running serve process.
var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Run maintenance operations against the bridge's backing stores",
}

var adminDemoteHostCmd = &cobra.Command{
	Use:   "demote-host",
	Short: "Spill a prefix-cache entry from the hbm tier into the sqlite-backed host tier",
	RunE: func(cmd *cobra.Command, args []string) error {
		if adminFP == "" {
			return fmt.Errorf("admin demote-host: --fp is required")
		}
		fp, err := hex.DecodeString(adminFP)
		if err != nil {
			return fmt.Errorf("admin demote-host: --fp must be hex: %w", err)
		}

		cfg, err := config.Load(adminConfigFile)
		if err != nil {
			return err
		}

		cache, err := prefixcache.NewFromURL(cfg.PrefixCacheURL)
		if err != nil {
			return err
		}
		host, err := prefixcache.OpenHostTier(cfg.HostTierPath)
		if err != nil {
			return err
		}
		defer host.Close()

		if err := cache.DemoteToHost(context.Background(), fp, host); err != nil {
			return err
		}
		fmt.Printf("demoted %s to host tier (%s)\n", adminFP, cfg.HostTierPath)
		return nil
	},
}

func init() {
	adminCmd.PersistentFlags().StringVar(&adminConfigFile, "config", "", "Optional TOML tunables file")
	adminDemoteHostCmd.Flags().StringVar(&adminFP, "fp", "", "Hex-encoded prompt fingerprint to demote")
	adminCmd.AddCommand(adminDemoteHostCmd)
	rootCmd.AddCommand(adminCmd)
}
