// Package cli implements vaultadmin, the administrative command line for
// rackvault: schema migration, accounts, vault keys, second factor,
// backups and the audit trail.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/rackvault/internal/accounts"
	"github.com/dmitrijs2005/rackvault/internal/app"
	"github.com/dmitrijs2005/rackvault/internal/buildinfo"
	"github.com/dmitrijs2005/rackvault/internal/common"
	"github.com/dmitrijs2005/rackvault/internal/config"
	"github.com/dmitrijs2005/rackvault/internal/vault"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// InstallSecretEnv is read when no install secret is configured.
const InstallSecretEnv = "RACKVAULT_INSTALL_SECRET"

// clientIP is what the CLI records as the audit IP.
const clientIP = "cli"

// CLI carries the streams and the lazily opened App shared by commands.
type CLI struct {
	in     *bufio.Reader
	out    io.Writer
	logOut io.Writer

	cfg *config.Config
	app *app.App
}

func New(in io.Reader, out, logOut io.Writer) *CLI {
	return &CLI{in: bufio.NewReader(in), out: out, logOut: logOut}
}

// configArgs turns the changed flags that are also defined in global into
// the short command-line form understood by config.Load.
func configArgs(fs, global *pflag.FlagSet) []string {
	var args []string
	fs.Visit(func(f *pflag.Flag) {
		if f.Shorthand == "" || global.Lookup(f.Name) == nil {
			return
		}
		args = append(args, "-"+f.Shorthand, f.Value.String())
	})
	return args
}

func (c *CLI) loadConfig(cmd *cobra.Command) error {
	cfg, err := config.Load(configArgs(cmd.Flags(), cmd.Root().PersistentFlags()))
	if err != nil {
		return err
	}
	if cfg.InstallSecret == "" {
		cfg.InstallSecret = os.Getenv(InstallSecretEnv)
	}
	c.cfg = cfg
	return nil
}

func (c *CLI) open(ctx context.Context) error {
	a, err := app.Open(ctx, c.cfg, c.logOut)
	if err != nil {
		return err
	}
	c.app = a
	return nil
}

func (c *CLI) close() {
	if c.app != nil {
		_ = c.app.Close()
		c.app = nil
	}
}

// NewRootCmd builds the command tree.
func (c *CLI) NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "vaultadmin",
		Short:         "Administer a rackvault installation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.loadConfig(cmd); err != nil {
				return err
			}
			return c.open(cmd.Context())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			c.close()
		},
	}
	root.SetOut(c.out)
	root.SetErr(c.out)

	pf := root.PersistentFlags()
	pf.StringP("config", "c", "", "config file (.json, .toml, .yaml)")
	pf.StringP("driver", "D", "", "database driver (pgx | sqlite)")
	pf.StringP("dsn", "d", "", "database DSN")
	pf.StringP("install-secret", "s", "", "install secret (prefer "+InstallSecretEnv+")")
	pf.IntP("max-accounts", "m", common.DefaultMaxAccounts, "maximum number of accounts (at most 2)")
	pf.StringP("s3-bucket", "b", "", "S3 bucket for backups")
	pf.StringP("s3-region", "g", "", "S3 region")
	pf.StringP("s3-endpoint", "e", "", "S3 base endpoint")
	pf.StringP("s3-access-key", "u", "", "S3 access key")
	pf.StringP("s3-secret-key", "p", "", "S3 secret key")
	pf.StringP("backup-tables", "t", "", "comma separated backup tables, parents first")
	pf.StringP("log-level", "l", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		c.migrateCmd(),
		c.accountCmd(),
		c.vaultCmd(),
		c.totpCmd(),
		c.backupCmd(),
		c.auditCmd(),
		c.housekeepCmd(),
		c.versionCmd(),
	)
	return root
}

// Execute runs the command line with args.
func (c *CLI) Execute(ctx context.Context, args []string) error {
	root := c.NewRootCmd()
	root.SetArgs(args)
	defer c.close()
	return root.ExecuteContext(ctx)
}

func (c *CLI) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			// opening the app already migrated the schema
			c.success("schema is up to date (%s)", c.cfg.DatabaseDriver)
			return nil
		},
	}
}

func (c *CLI) housekeepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "housekeep",
		Short: "Drop expired device tokens and pending challenges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := c.app.Housekeep(cmd.Context())
			if err != nil {
				return err
			}
			c.success("removed %d expired device token(s)", res.DeviceTokens)
			return nil
		},
	}
}

func (c *CLI) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		// no database needed
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(*cobra.Command, []string) {
			buildinfo.PrintBuildData(c.out)
		},
	}
}

func (c *CLI) success(format string, args ...any) {
	fmt.Fprintln(c.out, color.GreenString("✓")+" "+fmt.Sprintf(format, args...))
}

func (c *CLI) account(ctx context.Context, username string) (*accounts.Account, error) {
	acc, err := c.app.GetAccount(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("account %q: %w", username, err)
	}
	return acc, nil
}

// unlock prompts for username's vault passphrase and returns an unlocked
// session. The caller locks it.
func (c *CLI) unlock(ctx context.Context, username string) (*vault.Session, error) {
	acc, err := c.account(ctx, username)
	if err != nil {
		return nil, err
	}
	pass, err := GetPassword(c.out, "Vault passphrase for "+username)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(pass)

	sess := vault.NewSession()
	if err := c.app.UnlockVault(ctx, sess, acc.ID, pass, clientIP); err != nil {
		return nil, err
	}
	return sess, nil
}
