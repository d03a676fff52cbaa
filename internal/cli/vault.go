package cli

import (
	"github.com/dmitrijs2005/rackvault/internal/common"
	"github.com/spf13/cobra"
)

func (c *CLI) vaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Manage the vault master key",
	}
	cmd.AddCommand(c.vaultInitCmd(), c.vaultShareCmd(), c.vaultPasswdCmd())
	return cmd
}

func (c *CLI) vaultInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init <username>",
		Short: "Generate the vault key and wrap it for username",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := c.account(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			pass, err := GetNewPassword(c.out, "New vault passphrase")
			if err != nil {
				return err
			}
			defer common.WipeByteArray(pass)

			if err := c.app.InitializeVault(cmd.Context(), acc.ID, pass); err != nil {
				return err
			}
			c.success("vault initialized for %s", acc.Username)
			return nil
		},
	}
}

func (c *CLI) vaultShareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "share <from-username> <to-username>",
		Short: "Give a second account access to the vault key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			target, err := c.account(ctx, args[1])
			if err != nil {
				return err
			}
			sess, err := c.unlock(ctx, args[0])
			if err != nil {
				return err
			}
			defer c.app.LockVault(ctx, sess)

			pass, err := GetNewPassword(c.out, "New vault passphrase for "+target.Username)
			if err != nil {
				return err
			}
			defer common.WipeByteArray(pass)

			if err := c.app.ShareVault(ctx, sess, target.ID, pass); err != nil {
				return err
			}
			c.success("vault shared with %s", target.Username)
			return nil
		},
	}
}

func (c *CLI) vaultPasswdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd <username>",
		Short: "Change a vault passphrase (the key itself is unchanged)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := c.account(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			current, err := GetPassword(c.out, "Current vault passphrase")
			if err != nil {
				return err
			}
			defer common.WipeByteArray(current)
			next, err := GetNewPassword(c.out, "New vault passphrase")
			if err != nil {
				return err
			}
			defer common.WipeByteArray(next)

			if err := c.app.ChangeVaultPassphrase(cmd.Context(), acc.ID, current, next); err != nil {
				return err
			}
			c.success("vault passphrase changed for %s", acc.Username)
			return nil
		},
	}
}
