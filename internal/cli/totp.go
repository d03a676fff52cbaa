package cli

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/rackvault/internal/filex"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var errEnrollmentAborted = errors.New("enrollment aborted, nothing was changed")

func (c *CLI) totpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "totp",
		Short: "Manage the TOTP second factor",
	}
	cmd.AddCommand(c.totpEnrollCmd(), c.totpDisableCmd())
	return cmd
}

func (c *CLI) totpEnrollCmd() *cobra.Command {
	var qrPath string
	cmd := &cobra.Command{
		Use:   "enroll <username>",
		Short: "Enable TOTP for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			acc, err := c.account(ctx, args[0])
			if err != nil {
				return err
			}
			enr, err := c.app.BeginTOTPEnrollment(ctx, acc.ID)
			if err != nil {
				return err
			}
			confirmed := false
			defer func() {
				if !confirmed {
					c.app.CancelTOTPEnrollment(acc.ID)
				}
			}()

			fmt.Fprintln(c.out, color.CyanString("Secret:")+" "+enr.Secret)
			fmt.Fprintln(c.out, color.CyanString("URI:")+"    "+enr.URI)
			if qrPath != "" {
				if err := filex.WritePrivate(qrPath, enr.QRPNG); err != nil {
					return fmt.Errorf("write QR code: %w", err)
				}
				fmt.Fprintln(c.out, color.CyanString("QR:")+"     "+qrPath)
			}

			code, err := GetSimpleText(c.in, "Enter the 6-digit code from the authenticator", c.out)
			if err != nil || code == "" {
				return errEnrollmentAborted
			}
			if err := c.app.ConfirmTOTPEnrollment(ctx, acc.ID, code); err != nil {
				return err
			}
			confirmed = true
			c.success("two-factor authentication enabled for %s", acc.Username)
			return nil
		},
	}
	cmd.Flags().StringVar(&qrPath, "qr", "", "write the enrollment QR code PNG to this file")
	return cmd
}

func (c *CLI) totpDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <username>",
		Short: "Disable TOTP (forgets remembered devices)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := c.account(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			code, err := GetSimpleText(c.in, "Enter the current 6-digit code", c.out)
			if err != nil {
				return err
			}
			if err := c.app.DisableTOTP(cmd.Context(), acc.ID, code); err != nil {
				return err
			}
			c.success("two-factor authentication disabled for %s", acc.Username)
			return nil
		},
	}
}
