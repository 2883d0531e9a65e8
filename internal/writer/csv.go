// Package writer holds the feature-row sinks a batch can be sent to.
package writer

import (
	"Go2DNSPrint/internal/config"
	coremodel "Go2DNSPrint/internal/core/model"
	"Go2DNSPrint/internal/engine/vector"
	"Go2DNSPrint/internal/logger"
	"Go2DNSPrint/internal/model"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
)

// CSVWriter appends rows to a shared comma-separated artifact.
type CSVWriter struct {
	path        string
	file        *os.File
	w           *csv.Writer
	writeHeader bool
	rows        int
}

// NewCSVWriter opens cfg.Path for appending, or truncates it when cfg.Truncate is set.
func NewCSVWriter(cfg config.CSVConfig) (model.Writer, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("csv writer requires a path")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if cfg.Truncate {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	file, err := os.OpenFile(cfg.Path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv output: %w", err)
	}
	return &CSVWriter{path: cfg.Path, file: file, w: csv.NewWriter(file), writeHeader: cfg.WriteHeader}, nil
}

// WriteHeader writes the header line when the writer was configured to.
func (c *CSVWriter) WriteHeader(header []string) error {
	if !c.writeHeader {
		return nil
	}
	if err := c.w.Write(header); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

// WriteRow appends one row and flushes it, so a batch interrupted later
// keeps every row written so far.
func (c *CSVWriter) WriteRow(row *coremodel.FeatureRow) error {
	if err := c.w.Write(vector.Strings(row)); err != nil {
		return err
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return err
	}
	c.rows++
	return nil
}

// WriteRecord appends a raw record, for the non-feature modes sharing this sink.
func (c *CSVWriter) WriteRecord(record []string) error {
	if err := c.w.Write(record); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

// Close flushes and closes the file.
func (c *CSVWriter) Close() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		c.file.Close()
		return err
	}
	logger.Infof("Wrote %d rows to %s", c.rows, c.path)
	return c.file.Close()
}

// Name implements model.Writer.
func (c *CSVWriter) Name() string { return "csv" }
