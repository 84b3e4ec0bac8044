package analyzer

import (
	"context"
	"errors"
)

var (
	// ErrOutOfRange is returned if the current block does not fall within the
	// analyzer's analysis range.
	ErrOutOfRange = errors.New("range not found. no data source available")

	// ErrNoNewBlocks is returned if the archive has nothing past the last
	// processed height yet.
	ErrNoNewBlocks = errors.New("no new blocks")

	// ErrHalt wraps processing errors that must not be retried. The
	// analyzer stops when it sees one.
	ErrHalt = errors.New("processing halted")
)

// Analyzer is a worker that turns a block stream into ledger state.
type Analyzer interface {
	// Start starts the analyzer. It returns once the configured range is
	// exhausted or the context is cancelled.
	Start(ctx context.Context)

	// Name returns the name of the analyzer.
	Name() string
}
