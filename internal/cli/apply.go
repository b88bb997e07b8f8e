package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cobra"

	"github.com/jacentio/arbor/nested"
	"github.com/jacentio/arbor/payload"
	"github.com/jacentio/arbor/record"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	Type       string
	Path       string
	NoRollback bool
}

// ApplyResult is the outcome of one apply.
type ApplyResult struct {
	Type   string                        `json:"type"`
	ID     string                        `json:"id,omitempty"`
	Valid  bool                          `json:"valid"`
	Errors map[string]record.FieldErrors `json:"errors,omitempty"`
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{}

	cmd := &cobra.Command{
		Use:   "apply <payload.json | ->",
		Short: "Write a nested payload",
		Long: `Write a nested resource payload and all of its relationships.

The payload is a JSON document of the form
  {"id": ..., "attributes": {...}, "relationships": {"tags": [{...}]}}
Use "-" to read it from stdin. Field errors roll the whole write back
unless --no-rollback is set.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd.Context(), rootOpts, opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Type, "type", "t", "", "resource type of the payload root")
	_ = cmd.MarkFlagRequired("type")
	cmd.Flags().StringVar(&opts.Path, "path", "$", "JSONPath selecting the payload root in the document")
	cmd.Flags().BoolVar(&opts.NoRollback, "no-rollback", false, "keep valid branches when the payload has field errors")

	return cmd
}

func runApply(ctx context.Context, rootOpts *RootOptions, opts *ApplyOptions, file string, cmd *cobra.Command) error {
	f := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
	logger := newLogger(rootOpts, cmd.ErrOrStderr())

	root, err := readPayload(cmd.InOrStdin(), file, opts.Path)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "read payload", err))
	}

	store, reg, err := openStore(ctx, rootOpts, logger)
	if err != nil {
		return f.Fail(err)
	}
	defer store.Close()

	w := nested.New(store, reg, nested.Config{
		Logger:            logger,
		RollbackOnInvalid: !opts.NoRollback,
	})
	verdict, err := w.Write(ctx, opts.Type, root)
	if err != nil {
		return f.Fail(WrapExitError(ExitFailure, "write "+opts.Type, err))
	}

	res := ApplyResult{Type: opts.Type, Valid: verdict.Valid, Errors: verdict.Errors}
	if verdict.Object.Persisted() && (verdict.Valid || opts.NoRollback) {
		res.ID = verdict.Object.ID
	}

	status := "ok"
	if !res.Valid {
		status = "invalid"
	}
	err = f.Print(status, res, func(w io.Writer) {
		if res.Valid {
			fmt.Fprintf(w, "✓ %s %s written\n", res.Type, res.ID)
			return
		}
		fmt.Fprintf(w, "✗ %s has field errors\n", res.Type)
		for _, path := range verdict.Paths() {
			label := path
			if label == "" {
				label = "(root)"
			}
			for _, msg := range verdict.At(path).Messages() {
				fmt.Fprintf(w, "  %s: %s\n", label, msg)
			}
		}
	})
	if err != nil {
		return err
	}
	if !res.Valid {
		return NewExitError(ExitFailure, "payload has field errors")
	}
	return nil
}

// readPayload parses the JSON document in file ("-" for r) and decodes the
// value selected by path.
func readPayload(r io.Reader, file, path string) (*payload.Node, error) {
	var data []byte
	var err error
	if file == "-" {
		data, err = io.ReadAll(r)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, err
	}

	doc, err := oj.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}

	if path != "" && path != "$" {
		x, err := jp.ParseString(path)
		if err != nil {
			return nil, fmt.Errorf("invalid path %q: %w", path, err)
		}
		results := x.Get(doc)
		if len(results) != 1 {
			return nil, fmt.Errorf("path %q selects %d values, want 1", path, len(results))
		}
		doc = results[0]
	}
	return payload.Decode(doc)
}
