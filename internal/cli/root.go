package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"posbackoffice/backend/internal/cache"
	"posbackoffice/backend/internal/config"
	"posbackoffice/backend/internal/store"
	pgstore "posbackoffice/backend/internal/store/postgres"
)

// Exit codes for posadmin.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the operation was rejected (not found, already voided)
	ExitCommandError = 2 // bad flags or the database is unreachable
)

var ValidFormats = []string{"text", "json"}

// Opener connects to the backing store. The returned close func is always
// non-nil when err is nil.
type Opener func(ctx context.Context, databaseURL string) (store.Repository, func() error, error)

// CacheConnector returns the sale cache the server reads through, so voids
// run here invalidate the same entries.
type CacheConnector func(ctx context.Context) (cache.SaleCache, func() error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Database  string
	Format    string
	Operator  string
	VoidLevel int
	open      Opener
	connect   CacheConnector
}

func NewRootCommand() *cobra.Command {
	cfg := config.Load()
	connect := func(ctx context.Context) (cache.SaleCache, func() error) {
		return cache.ConnectSaleCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	}
	return newRootCommand(cfg, openPostgres, connect)
}

func newRootCommand(cfg config.Config, open Opener, connect CacheConnector) *cobra.Command {
	opts := &RootOptions{open: open, connect: connect}

	cmd := &cobra.Command{
		Use:   "posadmin",
		Short: "Operator tooling for the POS back office",
		Long: `posadmin runs back-office operations directly against the sales database:
schema migration, sale and order voids, and stock and tab inspection.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.VoidLevel < 1 {
				return NewExitError(ExitCommandError, "--void-level must be at least 1")
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", cfg.DatabaseURL, "postgres connection URL (defaults to $DATABASE_URL)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Operator, "operator", "posadmin", "name recorded as the voiding operator")
	cmd.PersistentFlags().IntVar(&opts.VoidLevel, "void-level", cfg.VoidMinLevel, "minimum permission level for voids")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewVoidSaleCommand(opts))
	cmd.AddCommand(NewVoidItemCommand(opts))
	cmd.AddCommand(NewVoidOrderCommand(opts))
	cmd.AddCommand(NewStockCommand(opts))
	cmd.AddCommand(NewTabCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func openPostgres(ctx context.Context, databaseURL string) (store.Repository, func() error, error) {
	if databaseURL == "" {
		return nil, nil, errors.New("no database configured: pass --db or set DATABASE_URL")
	}
	pg, err := pgstore.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}
