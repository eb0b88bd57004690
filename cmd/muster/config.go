package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/zulandar/muster/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect Muster configuration",
	}
	cmd.AddCommand(newConfigCheckCmd())
	return cmd
}

func newConfigCheckCmd() *cobra.Command {
	var configPath, envFile string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print a summary",
		Long:  "Loads the config file and environment exactly as start would and reports the effective settings. Secrets are not printed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnvFile(envFile); err != nil {
				return err
			}
			cfg, err := loadConfig(configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			printConfigSummary(cmd.OutOrStdout(), cfg)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Muster config file")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file with secrets")
	return cmd
}

func printConfigSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "Config OK\n")
	fmt.Fprintf(w, "  platform:       %s\n", cfg.Platform)
	fmt.Fprintf(w, "  channel:        %s\n", orNone(cfg.Channel))
	fmt.Fprintf(w, "  command prefix: %s\n", cfg.CommandPrefix)
	fmt.Fprintf(w, "  workers:        %d\n", cfg.Workers)
	fmt.Fprintf(w, "  capacity:       %d-%d\n", cfg.Creation.MinCapacity, cfg.Creation.MaxCapacity)
	if cfg.Digest.Enabled {
		fmt.Fprintf(w, "  digest:         %s\n", cfg.Digest.Cron)
	} else {
		fmt.Fprintf(w, "  digest:         disabled\n")
	}
	switch cfg.Journal.Driver {
	case "":
		fmt.Fprintf(w, "  journal:        disabled\n")
	case "sqlite":
		fmt.Fprintf(w, "  journal:        sqlite %s\n", cfg.Journal.Path)
	default:
		fmt.Fprintf(w, "  journal:        %s %s:%d/%s\n", cfg.Journal.Driver, cfg.Journal.Host, cfg.Journal.Port, cfg.Journal.Database)
	}
	if cfg.Dashboard.Enabled {
		fmt.Fprintf(w, "  dashboard:      :%d\n", cfg.Dashboard.Port)
	} else {
		fmt.Fprintf(w, "  dashboard:      disabled\n")
	}
	fmt.Fprintf(w, "  log:            %s %s\n", cfg.Log.Level, orNone(cfg.Log.Format))
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
