package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/zulandar/courier/internal/config"
	"github.com/zulandar/courier/internal/health"
	"github.com/zulandar/courier/internal/logging"
	"github.com/zulandar/courier/internal/settings"
	"github.com/zulandar/courier/internal/store"
	"github.com/zulandar/courier/internal/telegraph"
	"github.com/zulandar/courier/internal/telegraph/discord"
	"github.com/zulandar/courier/internal/telegraph/telegram"
)

// Example channel ids shown in operator prompts, per platform.
const (
	telegramExampleID = "-1001234567890"
	discordExampleID  = "112233445566778899"
)

// targetTimeout bounds a single duplicate call so one slow target cannot
// hold up the rest of the fan-out.
const targetTimeout = 30 * time.Second

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the relay bot",
		Long:  "Connects to the configured chat platform, relays source channel posts to every target, and serves the operator menu.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Courier config file")
	return cmd
}

func runRelay(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	mgr, err := openSettings(cfg)
	if err != nil {
		return err
	}

	adapter, err := createAdapter(cfg, logger)
	if err != nil {
		return err
	}

	daemon, err := telegraph.NewDaemon(telegraph.DaemonOpts{
		Settings:      mgr,
		Adapter:       adapter,
		OwnerID:       cfg.OwnerID,
		HeartbeatCron: cfg.Heartbeat.Cron,
		TargetTimeout: targetTimeout,
		ExampleID:     exampleID(cfg.Platform),
		Log:           logger,
		Out:           cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.Health.Enabled {
		go func() {
			err := health.Start(ctx, health.StartOpts{
				Status: mgr,
				Port:   cfg.Health.Port,
				Out:    cmd.OutOrStdout(),
			})
			if err != nil {
				logger.Error().Err(err).Int("port", cfg.Health.Port).Msg("health endpoint stopped")
			}
		}()
	}

	return daemon.Run(ctx)
}

// newManager builds the configuration manager with the channel id rules of
// the configured platform.
func newManager(cfg *config.Config, gormDB *gorm.DB) (*settings.Manager, error) {
	st, err := store.NewGormStore(gormDB)
	if err != nil {
		return nil, err
	}
	return settings.NewManager(settings.ManagerOpts{
		Store:     st,
		Validator: channelValidator(cfg.Platform),
	})
}

func channelValidator(platform string) settings.Validator {
	if platform == config.PlatformDiscord {
		return settings.PositiveChannelID
	}
	return settings.TelegramChannelID
}

// createAdapter builds a platform adapter from the config.
func createAdapter(cfg *config.Config, logger zerolog.Logger) (telegraph.Adapter, error) {
	log := logger.With().Str("component", cfg.Platform).Logger()
	switch cfg.Platform {
	case config.PlatformTelegram:
		return telegram.New(telegram.AdapterOpts{BotToken: cfg.Telegram.BotToken, Log: log})
	case config.PlatformDiscord:
		return discord.New(discord.AdapterOpts{BotToken: cfg.Discord.BotToken, Log: log})
	default:
		return nil, fmt.Errorf("unsupported platform %q", cfg.Platform)
	}
}

func exampleID(platform string) string {
	if platform == config.PlatformDiscord {
		return discordExampleID
	}
	return telegramExampleID
}
