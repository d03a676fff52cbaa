package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/rackvault/internal/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func (c *CLI) accountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage login accounts",
	}
	cmd.AddCommand(c.accountCreateCmd(), c.accountListCmd(), c.accountPasswdCmd())
	return cmd
}

func (c *CLI) accountCreateCmd() *cobra.Command {
	var email, role string
	cmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Create an account (the first one is the admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := GetNewPassword(c.out, "Login password")
			if err != nil {
				return err
			}
			defer common.WipeByteArray(pw)

			acc, err := c.app.CreateAccount(cmd.Context(), args[0], email, pw, role)
			if err != nil {
				return err
			}
			c.success("created account %s (%s, id %s)", acc.Username, acc.Role, acc.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "contact email")
	cmd.Flags().StringVar(&role, "role", "", "admin or operator (default: admin for the first account)")
	return cmd
}

func (c *CLI) accountListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := c.app.ListAccounts(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(c.out, color.YellowString("!")+" no accounts yet")
				return nil
			}

			now := time.Now()
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "USERNAME\tROLE\tVAULT\t2FA\tSTATUS\tLAST LOGIN")
			for _, a := range list {
				status := "active"
				if a.IsLocked(now) {
					status = fmt.Sprintf("locked (%d min)", common.MinutesUntil(now, a.LockedUntil))
				}
				last := "-"
				if !a.LastLoginAt.IsZero() {
					last = a.LastLoginAt.Local().Format(time.DateTime)
					if a.LastLoginIP != "" {
						last += " from " + a.LastLoginIP
					}
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					a.Username, a.Role, yesNo(a.HasVaultKey()), yesNo(a.TOTPEnabled), status, last)
			}
			return tw.Flush()
		},
	}
}

func (c *CLI) accountPasswdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd <username>",
		Short: "Change a login password (forgets remembered devices)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := c.account(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			current, err := GetPassword(c.out, "Current login password")
			if err != nil {
				return err
			}
			defer common.WipeByteArray(current)
			next, err := GetNewPassword(c.out, "New login password")
			if err != nil {
				return err
			}
			defer common.WipeByteArray(next)

			if err := c.app.ChangePassword(cmd.Context(), acc.ID, current, next); err != nil {
				return err
			}
			c.success("password changed for %s", acc.Username)
			return nil
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
