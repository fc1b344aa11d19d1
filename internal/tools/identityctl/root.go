package identityctl

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/streaming-identity-core/internal/app"
	"github.com/sandeepkv93/streaming-identity-core/internal/config"
	"github.com/sandeepkv93/streaming-identity-core/internal/di"
	"github.com/sandeepkv93/streaming-identity-core/internal/domain"
	"github.com/sandeepkv93/streaming-identity-core/internal/service"
	"github.com/sandeepkv93/streaming-identity-core/internal/tools/common"
)

// Bootstrap assembles the application for one command run.
type Bootstrap func(ctx context.Context, cfg *config.Config) (*app.App, func(), error)

type options struct {
	envFile    string
	output     string
	loadConfig func() (*config.Config, error)
	bootstrap  Bootstrap
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(config.Load, di.InitializeApp)
}

func newRootCommand(loadConfig func() (*config.Config, error), bootstrap Bootstrap) *cobra.Command {
	opts := &options{loadConfig: loadConfig, bootstrap: bootstrap}
	cmd := &cobra.Command{
		Use:           "identityctl",
		Short:         "Operate the streaming identity core",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.envFile != "" {
				if err := os.Setenv("ENV_FILE", opts.envFile); err != nil {
					return err
				}
			}
			switch opts.output {
			case "table", "json":
				return nil
			default:
				return fmt.Errorf("unsupported output %q, want table or json", opts.output)
			}
		},
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "env file applied before the environment (default .env)")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "output format: table or json")
	cmd.AddCommand(
		newMigrateCommand(opts),
		newServeCommand(opts),
		newSweepCommand(opts),
		newRolesCommand(opts),
		newPermissionsCommand(opts),
		newUsersCommand(opts),
		newSessionsCommand(opts),
	)
	return cmd
}

func (o *options) printer(w io.Writer) common.Printer {
	return common.Printer{W: w, JSON: o.output == "json"}
}

// withApp loads config, builds the app and runs fn against it.
func (o *options) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	a, cleanup, err := o.bootstrap(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	return describe(fn(cmd.Context(), a))
}

// describe turns failures into their caller-facing form.
func describe(err error) error {
	if err == nil {
		return nil
	}
	translated := service.Translate(err)
	if translated.Code == "INTERNAL" {
		return err
	}
	return fmt.Errorf("%s: %w", translated.Code, err)
}

func parseUint(field, raw string) (uint, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", domain.ErrInvalidValue, field)
	}
	return uint(n), nil
}

// roleRef reads a numeric argument as an id and anything else as a name.
func roleRef(raw string) domain.RoleRef {
	if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
		return domain.RoleByID(uint(n))
	}
	return domain.RoleByName(raw)
}

func permissionRef(raw string) domain.PermissionRef {
	if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
		return domain.PermissionByID(uint(n))
	}
	return domain.PermissionByName(raw)
}

func scopeOf(streamerID uint) domain.Scope {
	if streamerID == 0 {
		return domain.GlobalScope()
	}
	return domain.StreamerScope(streamerID)
}

func id(v uint) string { return strconv.FormatUint(uint64(v), 10) }

func changedResult(changed bool) string {
	if changed {
		return "changed=true"
	}
	return "changed=false"
}
