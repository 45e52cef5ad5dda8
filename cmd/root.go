// Package cmd implements the identd command line: one-shot identity
// operations, the HTTP API server and the MCP stdio server.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/Siddhant-K-code/identd/pkg/cache"
	"github.com/Siddhant-K-code/identd/pkg/profile"
	"github.com/Siddhant-K-code/identd/pkg/session"
	"github.com/Siddhant-K-code/identd/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "identd",
	Short: "Resolve who is speaking and remember them across tiers",
	Long: `identd maps free-text utterances to a persistent identity.

Identities live in tiers: the single anchor, promoted echoes, manually
seeded stubs and short-lived foreign visitors held in memory. Repeated
similar visitors are promoted to echoes automatically.

Examples:
  identd resolve --text "I'm not Chris, I'm Dana"
  identd identity list --tier echo
  identd trust add --from chris --to dana --relationship friend
  identd serve --addr :8420`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./identd.yaml or $HOME/.identd/identd.yaml)")
	rootCmd.PersistentFlags().String("db", "", "durable store path (SQLite DSN or directory for the file backend)")
	rootCmd.PersistentFlags().String("backend", "", "durable store backend: sqlite or file")
	rootCmd.PersistentFlags().String("anchor", "", "anchor identity id")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (json or console)")

	_ = viper.BindPFlag("store.path", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("store.backend", rootCmd.PersistentFlags().Lookup("backend"))
	_ = viper.BindPFlag("anchor.id", rootCmd.PersistentFlags().Lookup("anchor"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))

	setDefaults(viper.GetViper())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("identd")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.identd")
		}
	}

	viper.SetEnvPrefix("IDENTD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			fmt.Fprintf(os.Stderr, "warning: read config %s: %v\n", cfgFile, err)
		}
	}
}

// setDefaults mirrors the library defaults so every key shows up in
// viper.AllSettings and can be overridden from the environment.
func setDefaults(v *viper.Viper) {
	def := profile.DefaultConfig()

	v.SetDefault("anchor.id", def.Anchor.ID)
	v.SetDefault("store.backend", def.Store.Backend)
	v.SetDefault("store.path", def.Store.Path)
	v.SetDefault("foreign.capacity", def.Store.ForeignCapacity)
	v.SetDefault("foreign.max_age", def.Store.ForeignMaxAge)

	for ns, nc := range def.Cache.Namespaces {
		v.SetDefault("cache."+string(ns)+".capacity", nc.Capacity)
		v.SetDefault("cache."+string(ns)+".ttl", nc.TTL)
	}
	v.SetDefault("cache.foreign_ttl", def.Cache.ForeignTTL)

	v.SetDefault("thresholds.anchor", def.Resolver.Thresholds.Anchor)
	v.SetDefault("thresholds.echo", def.Resolver.Thresholds.Echo)
	v.SetDefault("thresholds.foreign", def.Resolver.Thresholds.Foreign)
	v.SetDefault("thresholds.cluster", def.Resolver.Thresholds.Cluster)
	v.SetDefault("cluster.quorum", def.Resolver.Quorum)

	v.SetDefault("rules.file", "")
	v.SetDefault("cleanup.interval", def.CleanupInterval)
	v.SetDefault("trust.decay_interval", def.Trust.DecayInterval)
	v.SetDefault("trust.decay_rate", def.Trust.DecayRate)
	v.SetDefault("trust.idle_after", def.Trust.IdleAfter)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("telemetry.traces", telemetry.TracesNone)
	v.SetDefault("telemetry.otlp_endpoint", "")

	v.SetDefault("server.addr", ":8420")
	v.SetDefault("session.db_path", "identd-sessions.db")
}

// engineConfig maps viper keys onto the engine configuration.
func engineConfig(v *viper.Viper) (profile.Config, error) {
	cfg := profile.DefaultConfig()

	cfg.Anchor.ID = v.GetString("anchor.id")
	if raw := v.GetStringMap("anchor.seed_tone"); len(raw) > 0 {
		cfg.Anchor.SeedTone = make(map[string]float64, len(raw))
		for token, w := range raw {
			f, err := cast.ToFloat64E(w)
			if err != nil {
				return cfg, fmt.Errorf("anchor.seed_tone.%s: %w", token, err)
			}
			cfg.Anchor.SeedTone[token] = f
		}
	}

	cfg.Store.Backend = v.GetString("store.backend")
	cfg.Store.Path = v.GetString("store.path")
	cfg.Store.ForeignCapacity = v.GetInt("foreign.capacity")
	cfg.Store.ForeignMaxAge = v.GetDuration("foreign.max_age")

	for _, ns := range cache.Namespaces {
		nc := cfg.Cache.Namespaces[ns]
		if c := v.GetInt("cache." + string(ns) + ".capacity"); c > 0 {
			nc.Capacity = c
		}
		if ttl := v.GetDuration("cache." + string(ns) + ".ttl"); ttl > 0 {
			nc.TTL = ttl
		}
		cfg.Cache.Namespaces[ns] = nc
	}
	cfg.Cache.ForeignTTL = v.GetDuration("cache.foreign_ttl")

	cfg.Resolver.Thresholds.Anchor = v.GetFloat64("thresholds.anchor")
	cfg.Resolver.Thresholds.Echo = v.GetFloat64("thresholds.echo")
	cfg.Resolver.Thresholds.Foreign = v.GetFloat64("thresholds.foreign")
	cfg.Resolver.Thresholds.Cluster = v.GetFloat64("thresholds.cluster")
	cfg.Resolver.Quorum = v.GetInt("cluster.quorum")

	cfg.RulesFile = v.GetString("rules.file")
	cfg.CleanupInterval = v.GetDuration("cleanup.interval")
	cfg.Trust.DecayInterval = v.GetDuration("trust.decay_interval")
	cfg.Trust.DecayRate = v.GetFloat64("trust.decay_rate")
	cfg.Trust.IdleAfter = v.GetDuration("trust.idle_after")

	if cfg.Resolver.Quorum < 1 {
		return cfg, fmt.Errorf("cluster.quorum must be at least 1, got %d", cfg.Resolver.Quorum)
	}
	return cfg, nil
}

func newLogger() (*zap.Logger, error) {
	return telemetry.NewLogger(viper.GetString("log.level"), viper.GetString("log.format"))
}

// openEngine builds an engine from the current viper configuration.
// Used by the CLI, API, and MCP.
func openEngine(ctx context.Context, logger *zap.Logger, reg prometheus.Registerer) (*profile.Engine, error) {
	cfg, err := engineConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}
	return profile.Open(ctx, cfg, logger, reg)
}

// openSessionStore opens the session lock store, preferring dbPath over
// the session.db_path key.
func openSessionStore(dbPath string, logger *zap.Logger) (*session.SQLiteStore, error) {
	if dbPath == "" {
		dbPath = viper.GetString("session.db_path")
	}
	return session.NewSQLiteStore(dbPath, logger)
}

// withEngine runs fn against a freshly opened engine and closes it after.
func withEngine(fn func(ctx context.Context, e *profile.Engine) error) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	e, err := openEngine(ctx, logger, nil)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	if err := fn(ctx, e); err != nil {
		return err
	}
	e.Wait()
	return nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
