package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/guild-tickets/internal/app"
	"github.com/spec-kit/guild-tickets/internal/auth"
	"github.com/spec-kit/guild-tickets/internal/persistence"
)

var (
	transcriptOut  string
	sweepLimit     int
	tokenUserID    string
	tokenGuildID   string
	serviceKeyCost int
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return err
		}
		defer pg.Close()
		if pg.PoolHandle() == nil {
			return errors.New("POSTGRES_DSN is not set")
		}
		return persistence.RunMigrations(ctx, pg.PoolHandle(), logger)
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Run channel archival outside the server",
}

var archiveRunCmd = &cobra.Command{
	Use:   "run <ticket-id>",
	Short: "Archive one closed ticket now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd.Context(), app.Options{SkipMigrations: true}, func(c *app.Container) error {
			if err := c.Archives.Run(cmd.Context(), args[0]); err != nil {
				return err
			}
			state, err := c.Archives.State(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s after %d attempts\n", state.TicketID, state.Status, state.Attempts)
			return nil
		})
	},
}

var archiveSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Archive every unfinished ticket older than the stale threshold",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd.Context(), app.Options{SkipMigrations: true}, func(c *app.Container) error {
			cutoff := time.Now().UTC().Add(-cfg.Tickets.ArchiveStaleAfter())
			stale, err := c.Archives.Stale(cmd.Context(), cutoff, sweepLimit)
			if err != nil {
				return err
			}
			failed := 0
			for _, state := range stale {
				if err := c.Archives.Run(cmd.Context(), state.TicketID); err != nil {
					failed++
					logger.Warn("archive failed", zap.String("ticket_id", state.TicketID), zap.Error(err))
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), state.TicketID)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d archives failed", failed, len(stale))
			}
			return nil
		})
	},
}

var transcriptCmd = &cobra.Command{
	Use:   "transcript <ticket-id>",
	Short: "Export the transcript of an archived ticket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd.Context(), app.Options{SkipMigrations: true}, func(c *app.Container) error {
			doc, err := c.Archives.GenerateTranscript(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := transcriptOut
			if out == "" {
				out = doc.Filename
			}
			if out == "-" {
				_, err = cmd.OutOrStdout().Write(doc.Body)
				return err
			}
			if err := os.WriteFile(out, doc.Body, 0o644); err != nil {
				return fmt.Errorf("write transcript: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		})
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue API credentials",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a bearer token for a guild member",
	RunE: func(cmd *cobra.Command, args []string) error {
		tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
		token, expires, err := tokens.GenerateToken(tokenUserID, tokenGuildID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires %s\n", token, expires.Format(time.RFC3339))
		return nil
	},
}

var serviceKeyCmd = &cobra.Command{
	Use:   "servicekey",
	Short: "Manage the bot service key",
}

var serviceKeyHashCmd = &cobra.Command{
	Use:   "hash <key>",
	Short: "Print the bcrypt hash to put in AUTH_SERVICE_KEY_HASH",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.HashServiceKey(args[0], serviceKeyCost)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	archiveSweepCmd.Flags().IntVar(&sweepLimit, "limit", 50, "Maximum archives to process")
	transcriptCmd.Flags().StringVarP(&transcriptOut, "out", "o", "", "Output file, - for stdout (default: the transcript file name)")
	tokenIssueCmd.Flags().StringVar(&tokenUserID, "user", "", "Member user id")
	tokenIssueCmd.Flags().StringVar(&tokenGuildID, "guild", "", "Guild id")
	_ = tokenIssueCmd.MarkFlagRequired("user")
	_ = tokenIssueCmd.MarkFlagRequired("guild")
	serviceKeyHashCmd.Flags().IntVar(&serviceKeyCost, "cost", bcrypt.DefaultCost, "bcrypt cost")

	archiveCmd.AddCommand(archiveRunCmd, archiveSweepCmd)
	tokenCmd.AddCommand(tokenIssueCmd)
	serviceKeyCmd.AddCommand(serviceKeyHashCmd)
	rootCmd.AddCommand(migrateCmd, archiveCmd, transcriptCmd, tokenCmd, serviceKeyCmd)
}
