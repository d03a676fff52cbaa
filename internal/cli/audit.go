package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/rackvault/internal/audit"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func (c *CLI) auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit trail",
	}
	cmd.AddCommand(c.auditTailCmd())
	return cmd
}

func (c *CLI) auditTailCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent audit events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			events, err := c.app.RecentAudit(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tACTION\tACTOR\tIP\tDETAIL")
			for _, e := range events {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					e.CreatedAt.Local().Format(time.DateTime), colorAction(e.Action), e.Actor, e.IP, e.Detail)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "lines", "n", 20, "number of events")
	return cmd
}

func colorAction(a audit.Action) string {
	switch a {
	case audit.LoginFailed, audit.LoginLocked, audit.Login2FAFailed, audit.VaultUnlockFailed, audit.BackupImportFailed:
		return color.RedString(string(a))
	case audit.LoginSuccess, audit.Login2FASuccess, audit.VaultUnlock:
		return color.GreenString(string(a))
	default:
		return string(a)
	}
}
