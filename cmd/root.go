// Package cmd implements the dpl CLI surface (spec §6): operation
// create/join/complete/abort/state/log/list/watch/resource, call
// start/end/fail, and serve for the remote HTTP access surface. Structured the way the
// teacher's cobra+viper root does: persistent flags bound into viper,
// config assembled once in PersistentPreRunE and shared by reference.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/coredpl/dpl/config"
)

var (
	cfgFile string
	conf    *config.Config
)

var rootCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "dpl",
		Short:        "dpl - distributed processing ledger",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(CommandContext(cmd))
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.PersistentFlags().String("base-path", "", "ledger storage root directory")
	cmd.PersistentFlags().String("participant-id", "", "this process's participant identity (default: hostname-pid-<random suffix>)")

	_ = viper.BindPFlag("base_path", cmd.PersistentFlags().Lookup("base-path"))
	_ = viper.BindPFlag("participant_id", cmd.PersistentFlags().Lookup("participant-id"))

	viper.SetEnvPrefix("DPL")
	viper.AutomaticEnv()

	cmd.AddCommand(serveCommand())
	cmd.AddCommand(operationCommand())
	cmd.AddCommand(callCommand())

	return cmd
}()

// Execute is the main entry point called from main.go.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return rootCmd.ExecuteContext(ctx)
}

// CommandContext returns command context, falling back to Background.
func CommandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

func initConfig(ctx context.Context) error {
	conf = config.DefaultConfig()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("read config: %w", err)
			}
		}
	}

	if err := viper.Unmarshal(conf); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if v := viper.GetString("base_path"); v != "" {
		conf.BasePath = v
	}

	conf.ApplyDefaults()
	if err := conf.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return log.SetupLog(ctx, conf.Log, "")
}

// participantID resolves this process's participant identity: the
// --participant-id flag/env override, or a generated hostname-pid-uuid
// fallback stable for the process's lifetime.
func participantID() string {
	if v := viper.GetString("participant_id"); v != "" {
		return v
	}
	return fallbackParticipantID()
}

var fallbackParticipantID = sync.OnceValue(func() string {
	host, _ := os.Hostname()
	if host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
})
