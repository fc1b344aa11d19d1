package identityctl

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/streaming-identity-core/internal/app"
	"github.com/sandeepkv93/streaming-identity-core/internal/domain"
	"github.com/sandeepkv93/streaming-identity-core/internal/service"
)

func newUsersCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "users", Short: "Inspect and manage users and their role memberships"}
	cmd.AddCommand(
		newUserCreateCommand(opts),
		newUserShowCommand(opts),
		newUserBanCommand(opts),
		newUserUnbanCommand(opts),
		newUserRoleCommand(opts, true),
		newUserRoleCommand(opts, false),
		newUserCheckCommand(opts),
		newUserPermissionsCommand(opts),
	)
	return cmd
}

func newUserCreateCommand(opts *options) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "create EMAIL USERNAME",
		Short: "Register a user; an existing email returns the existing user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				u, err := a.Services.Users.CreateUser(ctx, args[0], args[1], password)
				if err != nil {
					return err
				}
				return printUsers(opts, cmd, u)
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "initial password")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newUserShowCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID|EMAIL",
		Short: "Show a user through the read-through cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				u, err := lookupUser(ctx, a, args[0])
				if err != nil {
					return err
				}
				return printUsers(opts, cmd, u)
			})
		},
	}
}

func newUserBanCommand(opts *options) *cobra.Command {
	var (
		reason string
		forDur time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ban ID",
		Short: "Ban a user, permanently unless --for is given",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUint("user id", args[0])
			if err != nil {
				return describe(err)
			}
			var until *time.Time
			if forDur > 0 {
				t := time.Now().Add(forDur).UTC()
				until = &t
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				u, err := a.Services.Users.BanUser(ctx, userID, reason, until)
				if err != nil {
					return err
				}
				return printUsers(opts, cmd, u)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "ban reason")
	cmd.Flags().DurationVar(&forDur, "for", 0, "ban duration")
	return cmd
}

func newUserUnbanCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "unban ID",
		Short: "Lift a ban",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUint("user id", args[0])
			if err != nil {
				return describe(err)
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				u, err := a.Services.Users.UnbanUser(ctx, userID)
				if err != nil {
					return err
				}
				return printUsers(opts, cmd, u)
			})
		},
	}
}

func newUserRoleCommand(opts *options, assign bool) *cobra.Command {
	var streamer uint
	use, short := "assign-role USER_ID ROLE", "Assign a role, globally or on one streamer's channel"
	if !assign {
		use, short = "revoke-role USER_ID ROLE", "Revoke a role assignment"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUint("user id", args[0])
			if err != nil {
				return describe(err)
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				mutate := a.Services.Authz.AssignRole
				if !assign {
					mutate = a.Services.Authz.RevokeRole
				}
				scope := scopeOf(streamer)
				changed, err := mutate(ctx, userID, roleRef(args[1]), scope)
				if err != nil {
					return err
				}
				title := fmt.Sprintf("%s %s for user %d in %s", strings.Fields(use)[0], args[1], userID, scope)
				return opts.printer(cmd.OutOrStdout()).Result(true, title, []string{changedResult(changed)}, nil)
			})
		},
	}
	cmd.Flags().UintVar(&streamer, "streamer", 0, "streamer id the assignment is scoped to, 0 for global")
	return cmd
}

func newUserCheckCommand(opts *options) *cobra.Command {
	var streamer uint
	cmd := &cobra.Command{
		Use:   "check USER_ID PERMISSION",
		Short: "Report whether a user holds a permission in a scope",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUint("user id", args[0])
			if err != nil {
				return describe(err)
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				scope := scopeOf(streamer)
				allowed, err := a.Services.Authz.HasPermission(ctx, userID, permissionRef(args[1]), scope)
				if err != nil {
					return err
				}
				return opts.printer(cmd.OutOrStdout()).Table(
					[]string{"USER", "PERMISSION", "SCOPE", "ALLOWED"},
					[][]string{{id(userID), args[1], scope.String(), strconv.FormatBool(allowed)}},
				)
			})
		},
	}
	cmd.Flags().UintVar(&streamer, "streamer", 0, "streamer id to check against, 0 for global")
	return cmd
}

func newUserPermissionsCommand(opts *options) *cobra.Command {
	var streamer uint
	cmd := &cobra.Command{
		Use:   "permissions USER_ID",
		Short: "List the roles and effective permissions of a user in a scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUint("user id", args[0])
			if err != nil {
				return describe(err)
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				scope := scopeOf(streamer)
				roles, err := a.Services.Authz.ListRoles(ctx, userID, scope)
				if err != nil {
					return err
				}
				grants, err := a.Services.Authz.ListPermissions(ctx, userID, scope)
				if err != nil {
					return err
				}
				names := make([]string, 0, len(roles))
				for _, r := range roles {
					names = append(names, r.Name)
				}
				return opts.printer(cmd.OutOrStdout()).Table(
					[]string{"USER", "SCOPE", "ROLES", "PERMISSIONS"},
					[][]string{{id(userID), scope.String(), strings.Join(names, ","), grantNames(grants)}},
				)
			})
		},
	}
	cmd.Flags().UintVar(&streamer, "streamer", 0, "streamer id, 0 for global")
	return cmd
}

func lookupUser(ctx context.Context, a *app.App, raw string) (*domain.User, error) {
	var (
		u   *domain.User
		err error
	)
	if n, perr := strconv.ParseUint(raw, 10, 64); perr == nil {
		u, err = a.Services.Users.GetUserByID(ctx, uint(n))
	} else {
		u, err = a.Services.Users.GetUserByEmail(ctx, raw)
	}
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("user %s: %w", raw, service.ErrNotFound)
	}
	return u, nil
}

func printUsers(opts *options, cmd *cobra.Command, users ...*domain.User) error {
	rows := make([][]string, 0, len(users))
	for _, u := range users {
		banned := "no"
		if u.BannedAt(time.Now()) {
			banned = "yes"
			if u.BanExpiresAt != nil {
				banned = "until " + u.BanExpiresAt.UTC().Format(time.RFC3339)
			}
		}
		rows = append(rows, []string{id(u.ID), u.Email, u.Username, banned, u.CreatedAt.UTC().Format(time.RFC3339)})
	}
	return opts.printer(cmd.OutOrStdout()).Table([]string{"ID", "EMAIL", "USERNAME", "BANNED", "CREATED"}, rows)
}
