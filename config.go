/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

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
	bind         string
	board        string
	flipDelay    time.Duration
	port         int
	prefix       string
	profile      bool
	tlsCert      string
	tlsKey       string
	verbose      bool
	version      bool
	watchTimeout time.Duration
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.flipDelay < 0 {
		return fmt.Errorf("invalid flip delay (must not be negative): %s", c.flipDelay)
	}
	if c.watchTimeout <= 0 {
		return fmt.Errorf("invalid watch timeout (must be positive): %s", c.watchTimeout)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// SimulateConfig holds the flags of the simulate subcommand.
type SimulateConfig struct {
	deadline time.Duration
	maxThink time.Duration
	players  int
	rounds   int
	seed     int64
	size     int
}

func (s *SimulateConfig) validate() error {
	if s.players < 1 {
		return fmt.Errorf("invalid player count (must be at least 1): %d", s.players)
	}
	if s.rounds < 1 {
		return fmt.Errorf("invalid round count (must be at least 1): %d", s.rounds)
	}
	if s.size < 1 {
		return fmt.Errorf("invalid board size (must be at least 1): %d", s.size)
	}
	if s.maxThink < 0 {
		return fmt.Errorf("invalid think time (must not be negative): %s", s.maxThink)
	}
	if s.deadline <= 0 {
		return fmt.Errorf("invalid deadline (must be positive): %s", s.deadline)
	}
	return nil
}

// bindEnv lets CONCENTRATION_* environment variables fill any flag that was
// not set on the command line.
func bindEnv(v *viper.Viper, fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("CONCENTRATION")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "concentration",
		Short:         "A shared memory-match board that many players flip at once.",
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

	fs := cmd.PersistentFlags()

	fs.StringVar(&cfg.board, "board", "", fmt.Sprintf("path to a board file, or embedded:NAME for a bundled board (%s) (env: CONCENTRATION_BOARD)", strings.Join(embeddedBoards(), ", ")))
	fs.DurationVar(&cfg.flipDelay, "flip-delay", time.Second, "time before a mismatched pair is turned face down (env: CONCENTRATION_FLIP_DELAY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: CONCENTRATION_VERBOSE)")

	fs = cmd.Flags()

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: CONCENTRATION_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: CONCENTRATION_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: CONCENTRATION_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: CONCENTRATION_PROFILE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: CONCENTRATION_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: CONCENTRATION_TLS_KEY)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: CONCENTRATION_VERSION)")
	fs.DurationVar(&cfg.watchTimeout, "watch-timeout", 5*time.Minute, "longest time a watch request is held open (env: CONCENTRATION_WATCH_TIMEOUT)")

	bindEnv(v, cmd.PersistentFlags())
	bindEnv(v, cmd.Flags())

	cmd.AddCommand(newSimulateCmd(v, cfg, &SimulateConfig{}))

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("concentration v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

func newSimulateCmd(v *viper.Viper, cfg *Config, sim *SimulateConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Hammer a random board with concurrent players and check it stays consistent.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sim.validate(); err != nil {
				return err
			}
			if cfg.flipDelay < 0 {
				return fmt.Errorf("invalid flip delay (must not be negative): %s", cfg.flipDelay)
			}

			report, err := Simulate(cmd.Context(), cfg, sim)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), report)

			return nil
		},
	}

	fs := cmd.Flags()

	fs.DurationVar(&sim.deadline, "deadline", 30*time.Second, "fail if the simulation runs longer than this (env: CONCENTRATION_DEADLINE)")
	fs.DurationVar(&sim.maxThink, "max-think", 2*time.Millisecond, "longest pause between a player's flips (env: CONCENTRATION_MAX_THINK)")
	fs.IntVar(&sim.players, "players", 10, "number of concurrent players (env: CONCENTRATION_PLAYERS)")
	fs.IntVar(&sim.rounds, "rounds", 100, "flips attempted by each player (env: CONCENTRATION_ROUNDS)")
	fs.Int64Var(&sim.seed, "seed", 0, "random seed, 0 for time-based (env: CONCENTRATION_SEED)")
	fs.IntVar(&sim.size, "size", 4, "width and height of the random board (env: CONCENTRATION_SIZE)")

	bindEnv(v, fs)

	return cmd
}
