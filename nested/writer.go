// Package nested runs a complete nested write: the payload is checked,
// persisted inside one adapter transaction and verified into a verdict.
package nested

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jacentio/arbor/payload"
	"github.com/jacentio/arbor/persist"
	"github.com/jacentio/arbor/resource"
	"github.com/jacentio/arbor/verify"
)

// errRollback aborts the transaction of an invalid write. It never leaves Write.
var errRollback = errors.New("arbor: rollback invalid write")

// Config holds configuration for the Writer.
type Config struct {
	// Logger is passed to the orchestrator. Default: slog.Default().
	Logger *slog.Logger

	// RollbackOnInvalid rolls the transaction back when any node reports
	// field errors. Sibling branches are still written first so every error
	// is collected. With adapters that have no transactions the valid
	// branches stay written.
	// Default: true
	RollbackOnInvalid bool
}

// DefaultConfig returns the default Writer configuration.
func DefaultConfig() Config {
	return Config{
		RollbackOnInvalid: true,
	}
}

// Writer performs nested writes against one adapter.
type Writer struct {
	adapter      persist.Adapter
	registry     *resource.Registry
	orchestrator *persist.Orchestrator
	config       Config
	logger       *slog.Logger
}

// New creates a new Writer. The registry should be sealed.
func New(adapter persist.Adapter, registry *resource.Registry, config Config) *Writer {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		adapter:      adapter,
		registry:     registry,
		orchestrator: persist.New(adapter, registry, persist.Config{Logger: logger}),
		config:       config,
		logger:       logger,
	}
}

// Write persists root as a resource of type typ and returns the verdict.
//
// Malformed input (unknown associations, entries without identity, bad
// operations) fails before anything is written. Identity mismatches and
// storage errors abort the transaction and are returned as errors. Field
// errors are not errors: they make the verdict invalid.
func (w *Writer) Write(ctx context.Context, typ string, root *payload.Node) (*verify.Verdict, error) {
	d, err := w.registry.Lookup(typ)
	if err != nil {
		return nil, err
	}
	if err := payload.Check(root, d, w.registry); err != nil {
		return nil, err
	}

	var verdict *verify.Verdict
	err = w.adapter.Transaction(ctx, typ, func(ctx context.Context) error {
		res, err := w.orchestrator.Persist(ctx, root, typ)
		if err != nil {
			return err
		}
		verdict, err = verify.Verify(res.Object, root)
		if err != nil {
			return err
		}
		if !verdict.Valid && w.config.RollbackOnInvalid {
			return errRollback
		}
		return nil
	})

	if errors.Is(err, errRollback) {
		w.logger.Info("rolled back invalid write",
			"resource", typ,
			"invalidPaths", verdict.Paths(),
		)
		return verdict, nil
	}
	if err != nil {
		return nil, err
	}
	return verdict, nil
}
