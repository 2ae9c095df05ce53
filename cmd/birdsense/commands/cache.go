package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/perchlabs/birdsense/pkg/cache"
	"github.com/perchlabs/birdsense/pkg/kv"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Result cache maintenance",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache entry count",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, store, err := openCache(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		defer c.Close()

		stats, err := c.Stats(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("entries: %d\n", stats.Entries)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all cached results",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, store, err := openCache(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		defer c.Close()

		if err := c.Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("cache cleared")
		return nil
	},
}

// openCache opens the cache without building the full engine, so
// maintenance works even when model assets are absent.
func openCache(cmd *cobra.Command) (*cache.Cache, kv.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	store, err := kv.NewBadger(kv.BadgerOptions{Dir: cfg.DataDir})
	if err != nil {
		return nil, nil, fmt.Errorf("open cache store: %w", err)
	}
	cacheCfg, err := cfg.CacheConfig()
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	// No sweeper for one-shot maintenance commands.
	cacheCfg.SweepInterval = 0
	return cache.New(store, cacheCfg), store, nil
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
