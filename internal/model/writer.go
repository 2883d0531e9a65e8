package model

import coremodel "Go2DNSPrint/internal/core/model"

// Writer defines a generic interface for persisting feature rows to an output artifact.
// Implementations are driven by a single goroutine and need not be safe for concurrent use.
type Writer interface {
	// WriteHeader persists the column names shared by every row of the run.
	// Writers that have no use for a header may ignore it.
	WriteHeader(header []string) error

	// WriteRow appends one feature row.
	WriteRow(row *coremodel.FeatureRow) error

	// Close flushes buffered output and releases the underlying resources.
	Close() error

	// Name identifies the writer in logs.
	Name() string
}
