package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind    string
	port    int
	prefix  string
	profile bool
	tlsCert string
	tlsKey  string
	verbose bool
	version bool

	cards string
	db    string

	minPlayers    int
	scoreLimit    int
	maxRounds     int
	handSize      int
	roundTime     time.Duration
	retention     time.Duration
	purgeInterval time.Duration
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.cards == "" {
		return errors.New("--cards is required")
	}
	if c.minPlayers < 1 {
		return fmt.Errorf("invalid minimum player count: %d", c.minPlayers)
	}
	if c.scoreLimit < 1 {
		return fmt.Errorf("invalid score limit: %d", c.scoreLimit)
	}
	if c.maxRounds < 1 {
		return fmt.Errorf("invalid max round count: %d", c.maxRounds)
	}
	if c.handSize < 1 {
		return fmt.Errorf("invalid hand size: %d", c.handSize)
	}
	if c.purgeInterval <= 0 {
		return fmt.Errorf("invalid purge interval: %s", c.purgeInterval)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// roomConfig is the per-room configuration snapshot taken at creation.
func (c *Config) roomConfig() RoomConfig {
	return RoomConfig{
		MinPlayers: c.minPlayers,
		ScoreLimit: c.scoreLimit,
		MaxRounds:  c.maxRounds,
		RoundTime:  c.roundTime,
		HandSize:   c.handSize,
	}
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("CZARBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "czarbox",
		Short:         "A real-time fill-in-the-blank party card game server.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: CZARBOX_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: CZARBOX_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: CZARBOX_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: CZARBOX_PROFILE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: CZARBOX_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: CZARBOX_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: CZARBOX_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: CZARBOX_VERSION)")

	fs.StringVar(&cfg.cards, "cards", "cah-all-full.json", "path to card pack file (env: CZARBOX_CARDS)")
	fs.StringVar(&cfg.db, "db", "", "path to sqlite database, empty for in-memory only (env: CZARBOX_DB)")
	fs.IntVar(&cfg.minPlayers, "min-players", 3, "minimum players before a round can start (env: CZARBOX_MIN_PLAYERS)")
	fs.IntVar(&cfg.scoreLimit, "score-limit", 8, "score that ends the game (env: CZARBOX_SCORE_LIMIT)")
	fs.IntVar(&cfg.maxRounds, "max-rounds", 10, "round count that ends the game (env: CZARBOX_MAX_ROUNDS)")
	fs.IntVar(&cfg.handSize, "hand-size", 5, "response cards dealt per hand (env: CZARBOX_HAND_SIZE)")
	fs.DurationVar(&cfg.roundTime, "round-time", 90*time.Second, "per-round deadline, 0 to disable (env: CZARBOX_ROUND_TIME)")
	fs.DurationVar(&cfg.retention, "retention", 7*24*time.Hour, "time before stale rooms are purged (env: CZARBOX_RETENTION)")
	fs.DurationVar(&cfg.purgeInterval, "purge-interval", time.Hour, "how often the purge runs (env: CZARBOX_PURGE_INTERVAL)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("czarbox v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
