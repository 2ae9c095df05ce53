package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/perchlabs/birdsense/pkg/cache"
	"github.com/perchlabs/birdsense/pkg/classify"
	"github.com/perchlabs/birdsense/pkg/config"
	"github.com/perchlabs/birdsense/pkg/infer"
	"github.com/perchlabs/birdsense/pkg/infer/tflite"
	"github.com/perchlabs/birdsense/pkg/kv"
	"github.com/perchlabs/birdsense/pkg/labels"
	"github.com/perchlabs/birdsense/pkg/remote"
	"github.com/perchlabs/birdsense/pkg/storage"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "birdsense",
	Short: "Offline-first bird identification from audio recordings",
	Long: `birdsense classifies bird recordings into ranked species predictions.

Classification runs on-device when the model assets are available,
serves repeated recordings from a local result cache, and falls back
to the hosted service when the local path fails.

Examples:
  # Identify a recording
  birdsense identify dawn-chorus.wav

  # Identify with location context for seasonal re-weighting
  birdsense identify dawn-chorus.wav --lat 41.88 --lon -87.63

  # Offline only: never contact the remote service
  birdsense identify dawn-chorus.wav --offline
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default birdsense.yaml if present)")
}

// loadConfig reads the configured (or default) config file.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.Load(cfgFile)
	}
	if _, err := os.Stat("birdsense.yaml"); err == nil {
		return config.Load("birdsense.yaml")
	}
	return config.Default(), nil
}

// app bundles the wired engine with the resources it owns.
type app struct {
	engine *classify.Engine
	store  kv.Store
}

func (a *app) Close() {
	_ = a.engine.Close()
	_ = a.store.Close()
}

// buildApp constructs the engine from configuration: local model
// assets, a badger-backed result cache, and the optional remote client.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	assets, err := storage.NewLocal(cfg.AssetDir)
	if err != nil {
		return nil, fmt.Errorf("open asset dir: %w", err)
	}

	labelData, err := storage.ReadAll(ctx, assets, cfg.Labels)
	if err != nil {
		return nil, fmt.Errorf("load labels: %w", err)
	}
	table, err := labels.ParseBytes(labelData)
	if err != nil {
		return nil, err
	}

	var unitOpts []infer.UnitOption
	if order, err := cfg.AcceleratorOrder(); err != nil {
		return nil, err
	} else if order != nil {
		unitOpts = append(unitOpts, infer.WithAcceleratorOrder(order))
	}
	unit := infer.NewUnit(tflite.New(), infer.NewStoreSource(assets), unitOpts...)
	unit.RegisterVariant("default", cfg.Model)
	for name, spec := range cfg.Variants {
		unit.RegisterVariant(name, spec)
	}

	store, err := kv.NewBadger(kv.BadgerOptions{Dir: cfg.DataDir})
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}
	cacheCfg, err := cfg.CacheConfig()
	if err != nil {
		store.Close()
		return nil, err
	}

	opts := []classify.EngineOption{
		classify.WithCache(cache.New(store, cacheCfg)),
		classify.WithExtractor(cfg.Melspec),
	}
	if cfg.MetaModel != nil {
		opts = append(opts, classify.WithMetaModel(*cfg.MetaModel))
	}
	if cfg.Remote.BaseURL != "" {
		opts = append(opts, classify.WithRemote(
			remote.NewClient(cfg.Remote.BaseURL, remote.WithAPIKey(cfg.Remote.APIKey))))
	}

	return &app{
		engine: classify.NewEngine(cfg.Classify, unit, table, opts...),
		store:  store,
	}, nil
}
