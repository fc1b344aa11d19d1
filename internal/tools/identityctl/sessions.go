package identityctl

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/streaming-identity-core/internal/app"
	"github.com/sandeepkv93/streaming-identity-core/internal/service"
)

func newSessionsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "sessions", Short: "Inspect and revoke user sessions"}

	var current string
	list := &cobra.Command{
		Use:   "list USER_ID",
		Short: "List active sessions of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUint("user id", args[0])
			if err != nil {
				return describe(err)
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				views, err := a.Services.Sessions.ListActiveSessions(ctx, userID, current)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(views))
				for _, v := range views {
					lastUsed := "-"
					if v.LastUsedAt != nil {
						lastUsed = v.LastUsedAt.UTC().Format(time.RFC3339)
					}
					rows = append(rows, []string{
						v.ID, string(v.State), v.IP, v.UserAgent, lastUsed,
						v.ExpiresAt.UTC().Format(time.RFC3339), strconv.FormatBool(v.IsCurrent),
					})
				}
				return opts.printer(cmd.OutOrStdout()).Table(
					[]string{"SESSION", "STATE", "IP", "USER AGENT", "LAST USED", "EXPIRES", "CURRENT"}, rows)
			})
		},
	}
	list.Flags().StringVar(&current, "current", "", "session id to mark as current")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke USER_ID SESSION_ID",
		Short: "Revoke one session owned by the user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUint("user id", args[0])
			if err != nil {
				return describe(err)
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				status, err := a.Services.Sessions.RevokeSession(ctx, userID, args[1])
				if err != nil {
					return err
				}
				return opts.printer(cmd.OutOrStdout()).Result(true, "revoke session "+args[1], []string{"status=" + status}, nil)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke-all USER_ID",
		Short: "Revoke every active session of the user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUint("user id", args[0])
			if err != nil {
				return describe(err)
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				changed, err := a.Services.Sessions.RevokeAllSessions(ctx, userID)
				if err != nil {
					return err
				}
				return opts.printer(cmd.OutOrStdout()).Result(true, "revoke all sessions of user "+args[0], []string{changedResult(changed)}, nil)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "tokens USER_ID",
		Short: "List sessions with the issue time of their newest refresh token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUint("user id", args[0])
			if err != nil {
				return describe(err)
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				items, err := a.Services.Tokens.SessionsWithTokens(ctx, userID)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(items))
				for _, it := range items {
					issued := "-"
					if it.LastTokenIssuedAt != nil {
						issued = it.LastTokenIssuedAt.UTC().Format(time.RFC3339)
					}
					rows = append(rows, []string{it.SessionID, issued})
				}
				return opts.printer(cmd.OutOrStdout()).Table([]string{"SESSION", "LAST TOKEN ISSUED"}, rows)
			})
		},
	})

	var limit int
	history := &cobra.Command{
		Use:   "history USER_ID",
		Short: "List the refresh tokens issued to a user, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUint("user id", args[0])
			if err != nil {
				return describe(err)
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				tokens, err := a.Services.Tokens.History(ctx, userID, limit)
				if err != nil {
					return err
				}
				now := time.Now()
				rows := make([][]string, 0, len(tokens))
				for _, t := range tokens {
					rows = append(rows, []string{
						t.ID, t.SessionID, string(t.State(now)),
						t.IssuedAt.UTC().Format(time.RFC3339), t.ExpiresAt.UTC().Format(time.RFC3339),
					})
				}
				return opts.printer(cmd.OutOrStdout()).Table([]string{"TOKEN", "SESSION", "STATE", "ISSUED", "EXPIRES"}, rows)
			})
		},
	}
	history.Flags().IntVar(&limit, "limit", 50, "maximum tokens to list (<= 0 lists up to 1000)")
	cmd.AddCommand(history)

	cmd.AddCommand(&cobra.Command{
		Use:   "inspect RAW_TOKEN",
		Short: "Show the stored state of a raw refresh token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				tok, err := a.Services.Tokens.Lookup(ctx, args[0])
				if err != nil {
					return err
				}
				if tok == nil {
					return fmt.Errorf("refresh token: %w", service.ErrNotFound)
				}
				details := []string{
					"session=" + tok.SessionID,
					"user=" + strconv.FormatUint(uint64(tok.UserID), 10),
					"state=" + string(tok.State(time.Now())),
				}
				return opts.printer(cmd.OutOrStdout()).Result(true, "refresh token "+tok.ID, details, nil)
			})
		},
	})
	return cmd
}
