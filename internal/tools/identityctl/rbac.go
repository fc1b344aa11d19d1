package identityctl

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/streaming-identity-core/internal/app"
	"github.com/sandeepkv93/streaming-identity-core/internal/domain"
	"github.com/sandeepkv93/streaming-identity-core/internal/service"
)

func newRolesCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "roles", Short: "Manage the role registry"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List roles with their permissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				roles, err := a.Services.Registry.ListRoles(ctx)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(roles))
				for _, r := range roles {
					perms, err := a.Services.Registry.PermissionsOfRole(ctx, domain.RoleByID(r.ID))
					if err != nil {
						return err
					}
					rows = append(rows, []string{id(r.ID), r.Name, permissionNames(perms), r.CreatedAt.Format(time.RFC3339)})
				}
				return opts.printer(cmd.OutOrStdout()).Table([]string{"ID", "NAME", "PERMISSIONS", "CREATED"}, rows)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "create NAME",
		Short: "Create a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				role, err := a.Services.Registry.CreateRole(ctx, args[0])
				if err != nil {
					return err
				}
				return opts.printer(cmd.OutOrStdout()).Table([]string{"ID", "NAME"}, [][]string{{id(role.ID), role.Name}})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete ROLE",
		Short: "Delete a role that no longer grants permissions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				changed, err := a.Services.Registry.DeleteRole(ctx, roleRef(args[0]))
				if err != nil {
					return err
				}
				return opts.printer(cmd.OutOrStdout()).Result(true, "delete role "+args[0], []string{changedResult(changed)}, nil)
			})
		},
	})

	for _, grant := range []bool{true, false} {
		grant := grant
		use, short := "grant ROLE PERMISSION", "Grant a permission to a role"
		if !grant {
			use, short = "revoke ROLE PERMISSION", "Revoke a permission from a role"
		}
		cmd.AddCommand(&cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
					mutate := a.Services.Registry.GrantPermission
					if !grant {
						mutate = a.Services.Registry.RevokePermission
					}
					changed, err := mutate(ctx, roleRef(args[0]), permissionRef(args[1]))
					if err != nil {
						return err
					}
					title := strings.Fields(use)[0] + " " + args[1] + " on " + args[0]
					return opts.printer(cmd.OutOrStdout()).Result(true, title, []string{changedResult(changed)}, nil)
				})
			},
		})
	}
	return cmd
}

func newPermissionsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "permissions", Short: "Manage the permission registry"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List permissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				perms, err := a.Services.Registry.ListPermissions(ctx)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(perms))
				for _, p := range perms {
					rows = append(rows, []string{id(p.ID), p.Name, p.CreatedAt.Format(time.RFC3339)})
				}
				return opts.printer(cmd.OutOrStdout()).Table([]string{"ID", "NAME", "CREATED"}, rows)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "create NAME",
		Short: "Create a permission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				perm, err := a.Services.Registry.CreatePermission(ctx, args[0])
				if err != nil {
					return err
				}
				return opts.printer(cmd.OutOrStdout()).Table([]string{"ID", "NAME"}, [][]string{{id(perm.ID), perm.Name}})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete PERMISSION",
		Short: "Delete a permission and its grants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				changed, err := a.Services.Registry.DeletePermission(ctx, permissionRef(args[0]))
				if err != nil {
					return err
				}
				return opts.printer(cmd.OutOrStdout()).Result(true, "delete permission "+args[0], []string{changedResult(changed)}, nil)
			})
		},
	})
	return cmd
}

func permissionNames(perms []domain.Permission) string {
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.Name)
	}
	return strings.Join(names, ",")
}

func grantNames(grants []service.PermissionGrant) string {
	names := make([]string, 0, len(grants))
	for _, g := range grants {
		names = append(names, g.Name)
	}
	return strings.Join(names, ",")
}
