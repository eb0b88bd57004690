package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/zulandar/muster/internal/config"
	"github.com/zulandar/muster/internal/coordinator"
	"github.com/zulandar/muster/internal/dashboard"
	"github.com/zulandar/muster/internal/db"
	"github.com/zulandar/muster/internal/journal"
	"github.com/zulandar/muster/internal/outbox"
	"github.com/zulandar/muster/internal/session"
	"github.com/zulandar/muster/internal/telegraph"
	discordadapter "github.com/zulandar/muster/internal/telegraph/discord"
	slackadapter "github.com/zulandar/muster/internal/telegraph/slack"
	telegramadapter "github.com/zulandar/muster/internal/telegraph/telegram"
	"go.uber.org/zap"
)

const defaultConfigPath = "muster.yaml"

func newStartCmd() *cobra.Command {
	var configPath, envFile string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the Muster bot",
		Long:  "Connects to the configured chat platform and serves session commands until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnvFile(envFile); err != nil {
				return err
			}
			cfg, err := loadConfig(configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runStart(ctx, cmd, cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Muster config file")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file with secrets such as TELEGRAM_BOT_TOKEN")
	return cmd
}

// loadEnvFile exports variables from a dotenv file. A missing file is not
// an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// loadConfig reads the config file. When the default file is absent and no
// path was given explicitly, the environment alone configures Muster.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func runStart(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	adapter, err := createAdapter(cfg, logger)
	if err != nil {
		return err
	}

	var sinks []session.Sink
	var events dashboard.EventSource
	if cfg.Journal.Driver != "" {
		rec, closeJournal, err := openJournal(cfg.Journal, logger.Named("journal"))
		if err != nil {
			return err
		}
		defer closeJournal()
		sinks = append(sinks, rec)
		events = rec
	}

	coord, err := coordinator.New(coordinator.Opts{
		Messenger:   telegraph.NewAdapterMessenger(adapter),
		ExtraSinks:  sinks,
		MinCapacity: cfg.Creation.MinCapacity,
		MaxCapacity: cfg.Creation.MaxCapacity,
		CancelWords: cfg.Creation.CancelWords,
		Outbox: outbox.Opts{
			SendTimeout: time.Duration(cfg.Outbox.SendTimeoutSec) * time.Second,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	if cfg.Dashboard.Enabled {
		go func() {
			err := dashboard.Start(ctx, dashboard.StartOpts{
				Sessions: coord,
				Events:   events,
				Port:     cfg.Dashboard.Port,
				Out:      cmd.OutOrStdout(),
				Logger:   logger.Named("dashboard"),
			})
			if err != nil {
				logger.Error("dashboard stopped", zap.Error(err))
			}
		}()
	}

	daemon, err := telegraph.NewDaemon(telegraph.DaemonOpts{
		Config:  cfg,
		Core:    coord,
		Adapter: adapter,
		Logger:  logger.Named("telegraph"),
		Out:     cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}
	return daemon.Run(ctx)
}

// createAdapter builds a platform adapter from the config.
func createAdapter(cfg *config.Config, logger *zap.Logger) (telegraph.Adapter, error) {
	switch cfg.Platform {
	case config.PlatformSlack:
		return slackadapter.New(slackadapter.AdapterOpts{
			AppToken:  cfg.Slack.AppToken,
			BotToken:  cfg.Slack.BotToken,
			ChannelID: cfg.Channel,
			Logger:    logger.Named("slack"),
		})
	case config.PlatformDiscord:
		return discordadapter.New(discordadapter.AdapterOpts{
			BotToken:  cfg.Discord.BotToken,
			ChannelID: cfg.Channel,
			GuildID:   cfg.Discord.GuildID,
			Logger:    logger.Named("discord"),
		})
	case config.PlatformTelegram:
		return telegramadapter.New(telegramadapter.AdapterOpts{
			BotToken:       cfg.Telegram.BotToken,
			ChatID:         cfg.Channel,
			PollTimeoutSec: cfg.Telegram.PollTimeoutSec,
			Logger:         logger.Named("telegram"),
		})
	default:
		return nil, fmt.Errorf("unsupported platform %q", cfg.Platform)
	}
}

// openJournal connects the journal database and returns the recorder with a
// func that closes the connection pool.
func openJournal(cfg config.JournalConfig, logger *zap.Logger) (*journal.Recorder, func(), error) {
	gormDB, err := db.Connect(cfg)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("journal: underlying db: %w", err)
	}
	closeDB := func() {
		if err := sqlDB.Close(); err != nil {
			logger.Warn("close journal db", zap.Error(err))
		}
	}

	rec, err := journal.New(gormDB, logger)
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	return rec, closeDB, nil
}
