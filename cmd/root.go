package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/qagate/internal/output"
	"github.com/joescharf/qagate/internal/store"
)

// envKeyReplacer maps nested keys to env names: worker.concurrency becomes
// QAGATE_WORKER_CONCURRENCY.
var envKeyReplacer = strings.NewReplacer(".", "_")

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	logger    *slog.Logger
	dataStore store.Store

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "qagate",
	Short: "Quality gate for AI-generated ruling summaries",
	Long: `qagate checks plain-language summaries of court rulings before they publish.

Every summary runs through deterministic validators and an LLM judge. The
fused verdict decides whether it publishes, goes to human review, or is
blocked. Rejected summaries can be regenerated and re-checked a bounded
number of times. Batches are processed by claim-workers sharing one queue.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		closeStore()
		os.Exit(1)
	}
	closeStore()
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/qagate/config.yaml)")
}

func initConfig() {
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "qagate")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("QAGATE")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	home, _ := os.UserHomeDir()
	setDefaults(filepath.Join(home, ".config", "qagate"))

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key with its default value. Tests call
// it with a temp dir.
func setDefaults(stateDir string) {
	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.level", "info")

	viper.SetDefault("db.driver", "sqlite")
	viper.SetDefault("db_path", filepath.Join(stateDir, "qagate.db"))
	viper.SetDefault("db.postgres.dsn", "")
	viper.SetDefault("db.postgres.max_conns", 10)
	viper.SetDefault("db.postgres.min_conns", 0)
	viper.SetDefault("db.postgres.max_conn_lifetime", "1h")
	viper.SetDefault("db.postgres.max_conn_idle_time", "30m")
	viper.SetDefault("db.postgres.dial_timeout", "5s")

	viper.SetDefault("llm.provider", "anthropic")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	viper.SetDefault("openai.api_key", "")
	viper.SetDefault("openai.model", "gpt-4o-mini")
	viper.SetDefault("openai.base_url", "")

	viper.SetDefault("judge.enabled", true)
	viper.SetDefault("judge.max_issues", 6)
	viper.SetDefault("judge.max_attempts", 2)
	viper.SetDefault("judge.rate_per_second", 0.0)
	viper.SetDefault("judge.burst", 1)
	viper.SetDefault("judge.call_timeout", "30s")
	viper.SetDefault("judge.enabled_types", []string{})

	viper.SetDefault("fixloop.max_attempts", 2)
	viper.SetDefault("policy.review_enabled", true)

	viper.SetDefault("worker.concurrency", 4)
	viper.SetDefault("worker.claim_limit", 10)
	viper.SetDefault("worker.poll_interval", "5s")
	viper.SetDefault("worker.item_timeout", "2m")
	viper.SetDefault("worker.reclaim_after", "10m")
	viper.SetDefault("worker.max_item_cost_usd", 0.05)

	viper.SetDefault("pricing.input_per_mtok", 0.80)
	viper.SetDefault("pricing.output_per_mtok", 4.00)
	viper.SetDefault("pricing.flat_per_call", 0.0)

	viper.SetDefault("batch.default_limit", 50)
	viper.SetDefault("batch.max_limit", 100)
	viper.SetDefault("batch.estimated_item_cost_usd", 0.0004)
	viper.SetDefault("batch.max_cost_usd", 1.0)
	viper.SetDefault("batch.daily_budget_usd", 0.0)

	viper.SetDefault("api.key", "")
	viper.SetDefault("port", 8080)
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun
	logger = newLogger(os.Stderr)

	// Initialize store lazily, only when commands actually need it.
	// This allows config/version commands to run without a db.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	s, err := store.Open(commandContext(), storeConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// commandContext is the context of the running command, or Background when
// called outside Execute.
func commandContext() context.Context {
	if ctx := rootCmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func storeConfig() store.Config {
	return store.Config{
		Driver: viper.GetString("db.driver"),
		Path:   viper.GetString("db_path"),
		Postgres: store.PostgresConfig{
			DSN:             viper.GetString("db.postgres.dsn"),
			MaxConns:        viper.GetInt32("db.postgres.max_conns"),
			MinConns:        viper.GetInt32("db.postgres.min_conns"),
			MaxConnLifetime: viper.GetDuration("db.postgres.max_conn_lifetime"),
			MaxConnIdleTime: viper.GetDuration("db.postgres.max_conn_idle_time"),
			DialTimeout:     viper.GetDuration("db.postgres.dial_timeout"),
		},
	}
}

func closeStore() {
	if dataStore != nil {
		_ = dataStore.Close()
		dataStore = nil
	}
}
