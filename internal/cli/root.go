// Package cli implements the arbor command line: nested writes into a SQLite
// database described by a YAML resource schema.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jacentio/arbor/resource"
	"github.com/jacentio/arbor/sqlstore"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Schema  string
	DB      string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the arbor CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "arbor",
		Short: "arbor - nested relationship writes",
		Long:  "Persist a nested resource payload and its relationships in one transaction.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				err := NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
				fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
				return err
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Schema, "schema", "arbor.yaml", "resource schema file")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "arbor.db", "SQLite database path")

	cmd.AddCommand(NewApplyCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// newLogger logs to w, at debug level when verbose.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openStore loads the schema, opens the database and seals the registry
// against it. Missing keys are resolved from the declared foreign keys.
func openStore(ctx context.Context, opts *RootOptions, logger *slog.Logger) (*sqlstore.Store, *resource.Registry, error) {
	schema, err := resource.LoadSchemaFile(opts.Schema)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "load schema", err)
	}
	reg, err := schema.Registry()
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "build registry", err)
	}

	store, err := sqlstore.Open(ctx, opts.DB, reg, sqlstore.Config{Logger: logger})
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "open database", err)
	}
	if err := reg.Seal(ctx, store); err != nil {
		_ = store.Close()
		return nil, nil, WrapExitError(ExitCommandError, "resolve schema", err)
	}
	return store, reg, nil
}
