package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bountydotnew/querykit/config"
	"github.com/bountydotnew/querykit/internal/app"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

const defaultConfig = "bounty.yaml"

type globals struct {
	configPath string
}

func (g *globals) load() (*config.Config, error) {
	cfg, err := config.Load(g.configPath, g.configPath == defaultConfig)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// dial loads the config and connects the CLI clients to the daemon.
func (g *globals) dial(ctx context.Context) (*app.Clients, func(), error) {
	cfg, err := g.load()
	if err != nil {
		return nil, nil, err
	}
	log, err := app.NewLogger(cfg, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	cl, err := app.Dial(ctx, cfg, log, app.DialOptions{
		OnMutateFail: func(proc string, err error) {
			fmt.Fprintf(os.Stderr, "%s failed: %v\n", proc, err)
		},
	})
	if err != nil {
		return nil, nil, err
	}
	return cl, func() {
		_ = cl.Close(context.Background())
		_ = log.Sync()
	}, nil
}

func main() {
	g := &globals{}
	rootCmd := &cobra.Command{
		Use:   "bountyd",
		Short: "bounty.new daemon and admin CLI",
		Long: `bountyd serves the bounty.new procedures over HTTP and talks to a
running daemon as an admin client.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", defaultConfig, "path to the YAML config")

	rootCmd.AddCommand(
		serveCmd(g),
		migrateCmd(g),
		appsCmd(g),
		waitlistCmd(g),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
