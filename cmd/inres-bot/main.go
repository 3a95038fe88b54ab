package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/phonginreallife/inres-oncall/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "inres-bot",
	Short: "On-call roster and incident escalation bot",
	Long: `inres-bot runs the on-call Telegram bot.

Leads build duty rosters from an inline calendar, anyone can report a
critical issue with /critical, and unacknowledged incidents are reminded
and escalated to the secondary on-call automatically.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath == "" {
			configPath = os.Getenv("ONCALL_CONFIG_PATH")
		}
		return config.LoadConfig(configPath)
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the config file (default ./config/bot.config.yaml)")
	rootCmd.AddCommand(newServeCmd(), newMigrateCmd(), newRosterCmd(), newTokenCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
