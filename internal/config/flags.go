package config

import (
	"flag"
	"io"
	"strings"

	"github.com/dmitrijs2005/rackvault/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-D string   database driver (pgx | sqlite)
//	-d string   database DSN
//	-s string   install secret
//	-m int      maximum number of accounts
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g. "http://127.0.0.1:9000/")
//	-u string   S3 access key
//	-p string   S3 secret key
//	-t string   comma separated backup tables, parent before child
//	-l string   log level
//
// Arguments are filtered with flagx.FilterArgs first so flags belonging to
// other components do not cause parse errors.
func parseFlags(config *Config, argv []string) error {
	args := flagx.FilterArgs(argv, []string{"-D", "-d", "-s", "-m", "-b", "-g", "-e", "-u", "-p", "-t", "-l"})

	fs := flag.NewFlagSet("rackvault", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.DatabaseDriver, "D", config.DatabaseDriver, "database driver")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.InstallSecret, "s", config.InstallSecret, "install secret")
	fs.IntVar(&config.MaxAccounts, "m", config.MaxAccounts, "maximum number of accounts")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.S3AccessKey, "u", config.S3AccessKey, "S3 access key")
	fs.StringVar(&config.S3SecretKey, "p", config.S3SecretKey, "S3 secret key")
	tables := fs.String("t", strings.Join(config.BackupTables, ","), "backup tables")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		return err
	}

	config.BackupTables = splitList(*tables)
	return nil
}

func splitList(s string) []string {
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
