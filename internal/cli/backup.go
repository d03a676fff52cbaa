package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/rackvault/internal/backup"
	"github.com/dmitrijs2005/rackvault/internal/filex"
	"github.com/dmitrijs2005/rackvault/internal/netx"
	"github.com/spf13/cobra"
)

func (c *CLI) backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export, import and list encrypted backups",
	}
	cmd.AddCommand(c.backupExportCmd(), c.backupImportCmd(), c.backupListCmd(), c.backupURLCmd())
	return cmd
}

func (c *CLI) backupExportCmd() *cobra.Command {
	var out, url, name string
	var toS3 bool
	cmd := &cobra.Command{
		Use:   "export <username>",
		Short: "Write an encrypted backup to a file, S3 or a presigned URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" && url == "" && !toS3 {
				return errors.New("one of --out, --s3 or --url is required")
			}
			ctx := cmd.Context()
			sess, err := c.unlock(ctx, args[0])
			if err != nil {
				return err
			}
			defer c.app.LockVault(ctx, sess)

			var buf bytes.Buffer
			if err := c.app.ExportBackup(ctx, sess, &buf); err != nil {
				return err
			}

			if out != "" {
				if err := filex.WritePrivate(out, buf.Bytes()); err != nil {
					return fmt.Errorf("write backup: %w", err)
				}
				c.success("backup written to %s", out)
			}
			if toS3 {
				store, err := c.app.BackupStore(ctx)
				if err != nil {
					return err
				}
				if name == "" {
					name = backup.ObjectName(time.Now())
				}
				key, err := store.Put(ctx, name, buf.Bytes())
				if err != nil {
					return err
				}
				c.success("backup uploaded to s3://%s/%s", store.Bucket(), key)
			}
			if url != "" {
				if err := netx.Upload(ctx, url, buf.Bytes()); err != nil {
					return err
				}
				c.success("backup uploaded to the presigned URL")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file")
	cmd.Flags().StringVar(&url, "url", "", "presigned PUT URL to upload to")
	cmd.Flags().BoolVar(&toS3, "s3", false, "upload to the configured S3 bucket")
	cmd.Flags().StringVar(&name, "name", "", "S3 object name (default: timestamped)")
	return cmd
}

func (c *CLI) backupImportCmd() *cobra.Command {
	var in, fromS3, url string
	cmd := &cobra.Command{
		Use:   "import <username>",
		Short: "Merge an encrypted backup; existing rows are kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := 0
			for _, v := range []string{in, fromS3, url} {
				if v != "" {
					sources++
				}
			}
			if sources != 1 {
				return errors.New("exactly one of --in, --s3 or --url is required")
			}
			ctx := cmd.Context()

			var blob []byte
			var err error
			switch {
			case in != "":
				blob, err = os.ReadFile(in)
			case url != "":
				blob, err = netx.Download(ctx, url)
			default:
				var store *backup.S3Store
				store, err = c.app.BackupStore(ctx)
				if err == nil {
					blob, err = store.Get(ctx, fromS3)
				}
			}
			if err != nil {
				return fmt.Errorf("read backup: %w", err)
			}

			sess, err := c.unlock(ctx, args[0])
			if err != nil {
				return err
			}
			defer c.app.LockVault(ctx, sess)

			res, err := c.app.ImportBackup(ctx, sess, bytes.NewReader(blob))
			if err != nil {
				return err
			}
			c.success("imported %d row(s), skipped %d existing", res.Imported, res.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVarP(&in, "in", "i", "", "input file")
	cmd.Flags().StringVar(&fromS3, "s3", "", "S3 object name or key to download")
	cmd.Flags().StringVar(&url, "url", "", "presigned GET URL to download from")
	return cmd
}

func (c *CLI) backupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backups in the configured S3 bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := c.app.BackupStore(cmd.Context())
			if err != nil {
				return err
			}
			keys, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(c.out, k)
			}
			return nil
		},
	}
}

func (c *CLI) backupURLCmd() *cobra.Command {
	var put bool
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "url <name>",
		Short: "Print a presigned URL for a backup object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := c.app.BackupStore(ctx)
			if err != nil {
				return err
			}
			var url string
			if put {
				url, err = store.UploadURL(ctx, args[0], ttl)
			} else {
				url, err = store.DownloadURL(ctx, args[0], ttl)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, url)
			return nil
		},
	}
	cmd.Flags().BoolVar(&put, "put", false, "presign an upload instead of a download")
	cmd.Flags().DurationVar(&ttl, "ttl", backup.DefaultURLTTL, "URL lifetime")
	return cmd
}
