package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/phonginreallife/inres-oncall/authz"
	"github.com/phonginreallife/inres-oncall/handlers"
	"github.com/phonginreallife/inres-oncall/internal/config"
	"github.com/phonginreallife/inres-oncall/internal/observability"
	"github.com/phonginreallife/inres-oncall/services"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the SQL schema to the configured database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.App
			if err := cfg.ValidateStore(); err != nil {
				return err
			}
			if cfg.StoreDriver != "postgres" && cfg.StoreDriver != "sqlite" {
				return fmt.Errorf("store_driver %q has no schema to migrate", cfg.StoreDriver)
			}
			b := &backends{cfg: cfg, logger: zap.NewNop()}
			st, err := b.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "Migration applied to %s database.\n", cfg.StoreDriver)
			return nil
		},
	}
}

func newRosterCmd() *cobra.Command {
	rosterCmd := &cobra.Command{
		Use:   "roster",
		Short: "Inspect duty rosters",
	}

	var team string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List every roster entry of a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			team = strings.ToLower(strings.TrimPrefix(team, "@"))
			if team == "" {
				return fmt.Errorf("--team is required")
			}
			cfg := config.App
			if err := cfg.ValidateStore(); err != nil {
				return err
			}
			logger, err := observability.NewLogger("warn")
			if err != nil {
				return err
			}
			b := &backends{cfg: cfg, logger: logger}
			st, err := b.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			directory := services.NewDirectoryService(st, authz.NewGate(cfg.SuperAdminID), logger)
			lines, err := directory.TeamRoster(cmd.Context(), team)
			if err != nil {
				return err
			}
			renderRoster(cmd.OutOrStdout(), lines)
			return nil
		},
	}
	listCmd.Flags().StringVarP(&team, "team", "t", "", "team name, with or without @")
	rosterCmd.AddCommand(listCmd)
	return rosterCmd
}

func renderRoster(w io.Writer, lines []services.RosterLine) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Date", "Team", "Primary", "Primary Phone", "Secondary", "Secondary Phone"})
	for _, l := range lines {
		tw.AppendRow(table.Row{
			l.Entry.Date, l.Entry.Team,
			l.Primary.DisplayName(), orDash(l.Primary.Phone),
			l.Secondary.DisplayName(), orDash(l.Secondary.Phone),
		})
	}
	tw.SetStyle(table.StyleLight)
	tw.Render()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func newTokenCmd() *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Manage status API tokens",
	}

	var (
		actorID int64
		ttl     time.Duration
	)
	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a bearer token for an admin or lead",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID <= 0 {
				return fmt.Errorf("--actor must be a positive Telegram ID")
			}
			raw, err := handlers.IssueToken(config.App.JWTSecret, actorID, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), raw)
			return nil
		},
	}
	issueCmd.Flags().Int64Var(&actorID, "actor", 0, "Telegram ID the token acts as")
	issueCmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	tokenCmd.AddCommand(issueCmd)
	return tokenCmd
}
