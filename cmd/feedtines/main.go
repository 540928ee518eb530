// Command feedtines serves feeds fetched from an ordered list of providers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/grishkovelli/feedtines"
	"github.com/spf13/cobra"
)

const appName = "feedtines"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Feed proxy with provider failover",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.SetHandler(cli.Default)
			if debug {
				log.SetLevel(log.DebugLevel)
			} else {
				log.SetLevel(log.InfoLevel)
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", feedtines.DefaultConfigPath, "path to the YAML configuration")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "toggle debug logging")

	cmd.AddCommand(serveCmd(&configPath), checkCmd(&configPath))
	return cmd
}

func serveCmd(configPath *string) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve feeds over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := feedtines.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			log.WithField("path", *configPath).Info("loaded configuration")

			if port > 0 {
				cfg.Port = port
			}

			engine := feedtines.New(cfg)
			engine.LogPlan()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return engine.ListenAndServe(ctx)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "override the configured listen port")
	return cmd
}

func checkCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print the provider plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := feedtines.LoadConfig(*configPath)
			if err != nil {
				return err
			}

			feedtines.New(cfg).LogPlan()
			return nil
		},
	}
}
