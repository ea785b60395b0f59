package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/foxzi/courier/internal/api"
	"github.com/foxzi/courier/internal/app"
	"github.com/foxzi/courier/internal/config"
)

var (
	cfgFile   string
	envFile   string
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "courier",
	Short: "Courier - outbound client communication engine",
	Long: `Courier sends approved broadcast campaigns and tiered payment
reminders to clients over email, SMS and WhatsApp.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile == "" {
			return nil
		}
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, campaign worker and reminder scheduler",
	RunE:  runServe,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("courier version %s\n", version)
		if commit != "unknown" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment variables from a .env file")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(serveCmd, configCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	api.Version = version

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(context.Background())
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	channels, _ := cfg.ReminderChannels()

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  API: %s (%d keys)\n", cfg.API.ListenAddr, len(cfg.API.Keys))
	fmt.Printf("  Storage: %s\n", cfg.Storage.Path)
	fmt.Printf("  Directory: %s\n", cfg.Directory.Driver)
	fmt.Printf("  Email: %s\n", channelSummary(cfg.Channels.Email.Enabled, cfg.Channels.Email.Mode))
	fmt.Printf("  SMS: %s\n", channelSummary(cfg.Channels.SMS.Enabled, cfg.Channels.SMS.Mode))
	fmt.Printf("  WhatsApp: %s\n", channelSummary(cfg.Channels.WhatsApp.Enabled, cfg.Channels.WhatsApp.Mode))
	fmt.Printf("  Reminders: enabled=%t interval=%s timezone=%s channels=%v tiers=%d\n",
		cfg.Reminder.Enabled, cfg.Reminder.Interval, cfg.Reminder.Timezone, channels, len(cfg.Reminder.Tiers))
	if cfg.Metrics.Enabled {
		fmt.Printf("  Metrics: %s%s\n", cfg.Metrics.ListenAddr, cfg.Metrics.Path)
	}

	return nil
}

func channelSummary(enabled bool, mode string) string {
	if !enabled {
		return "disabled"
	}
	return mode
}
