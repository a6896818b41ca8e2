package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zulandar/courier/internal/config"
	"github.com/zulandar/courier/internal/db"
	"github.com/zulandar/courier/internal/settings"
	"github.com/zulandar/courier/internal/telegraph"
)

func newConfigCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and change the relay configuration",
		Long:  "Reads and writes the stored relay configuration (source, targets, running flag) without going through the bot.",
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Courier config file")

	cmd.AddCommand(newConfigShowCmd(&configPath))
	cmd.AddCommand(newConfigSetSourceCmd(&configPath))
	cmd.AddCommand(newConfigAddTargetCmd(&configPath))
	cmd.AddCommand(newConfigRunningCmd(&configPath, "start", true))
	cmd.AddCommand(newConfigRunningCmd(&configPath, "stop", false))
	return cmd
}

func newConfigShowCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stored relay configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd, *configPath)
		},
	}
}

func newConfigSetSourceCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:     "set-source [--] <channel-id>",
		Short:   "Set the source channel",
		Example: "  courier config set-source -- -1001234567890",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSetSource(cmd, *configPath, args[0])
		},
	}
}

func newConfigAddTargetCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:     "add-target [--] <channel-id>",
		Short:   "Add a target channel",
		Example: "  courier config add-target -- -1009876543210",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigAddTarget(cmd, *configPath, args[0])
		},
	}
}

func newConfigRunningCmd(configPath *string, use string, running bool) *cobra.Command {
	short := "Start relaying"
	if !running {
		short = "Stop relaying"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSetRunning(cmd, *configPath, running)
		},
	}
}

// loadSettings loads the config file and returns the configuration manager
// for its database.
func loadSettings(configPath string) (*config.Config, *settings.Manager, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	mgr, err := openSettings(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, mgr, nil
}

// openSettings connects to the configured database, migrates the tables if
// needed and returns a manager over the configuration record.
func openSettings(cfg *config.Config) (*settings.Manager, error) {
	gormDB, err := db.Connect(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect to %s database: %w", cfg.Database.Driver, err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, err
	}
	return newManager(cfg, gormDB)
}

func runConfigShow(cmd *cobra.Command, configPath string) error {
	_, mgr, err := loadSettings(configPath)
	if err != nil {
		return err
	}
	rec, err := mgr.Get(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), telegraph.FormatStatus(rec))
	return nil
}

func runConfigSetSource(cmd *cobra.Command, configPath, arg string) error {
	cfg, mgr, err := loadSettings(configPath)
	if err != nil {
		return err
	}
	id, err := parseChannelID(cfg, arg)
	if err != nil {
		return err
	}
	if err := mgr.SetSource(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Source channel set: %d\n", id)
	return nil
}

func runConfigAddTarget(cmd *cobra.Command, configPath, arg string) error {
	cfg, mgr, err := loadSettings(configPath)
	if err != nil {
		return err
	}
	id, err := parseChannelID(cfg, arg)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	rec, err := mgr.Get(ctx)
	if err != nil {
		return err
	}
	if rec.HasTarget(id) {
		fmt.Fprintf(cmd.OutOrStdout(), "Target %d already present\n", id)
		return nil
	}
	if err := mgr.AddTarget(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Target added: %d\n", id)
	return nil
}

func runConfigSetRunning(cmd *cobra.Command, configPath string, running bool) error {
	_, mgr, err := loadSettings(configPath)
	if err != nil {
		return err
	}
	if err := mgr.SetRunning(cmd.Context(), running); err != nil {
		return err
	}
	if running {
		fmt.Fprintln(cmd.OutOrStdout(), "Relay started")
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "Relay stopped")
	}
	return nil
}

// parseChannelID applies the same rules the operator menu uses.
func parseChannelID(cfg *config.Config, arg string) (int64, error) {
	input := strings.TrimSpace(arg)
	id, err := strconv.ParseInt(input, 10, 64)
	if err != nil {
		return 0, &settings.ParseError{Input: input, Err: err}
	}
	if err := channelValidator(cfg.Platform)(id); err != nil {
		return 0, err
	}
	return id, nil
}
