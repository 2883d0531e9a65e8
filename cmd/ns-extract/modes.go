package main

import (
	"Go2DNSPrint/internal/config"
	"Go2DNSPrint/internal/core/model"
	"Go2DNSPrint/internal/engine/distribution"
	"Go2DNSPrint/internal/engine/extractor"
	"Go2DNSPrint/internal/engine/manager"
	"Go2DNSPrint/internal/engine/qnames"
	"Go2DNSPrint/internal/engine/records"
	"Go2DNSPrint/internal/logger"
	"Go2DNSPrint/internal/writer"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const defaultDistributionPath = "data/distributions.json"

// runRecords writes one row per DNS message of every clear-text capture.
func runRecords(ctx context.Context, cfg *config.Config, ex *extractor.Extractor, opts options, captures []model.Capture) error {
	out, err := csvOutput(cfg, opts, !opts.appendRows)
	if err != nil {
		return err
	}
	mgr, err := manager.NewManager(cfg, ex, nil)
	if err != nil {
		return err
	}

	exporter := records.NewExporter(ex.Extraction())
	perCapture := make([][]records.Record, len(captures))
	dropped := mgr.ForEach(ctx, manager.Jobs(captures), func(job manager.Job) {
		recs, err := exporter.Extract(job.Capture.ClearPath, job.Capture.Label)
		if err != nil {
			logger.Warnf("No record for %s: %v", job.Capture.ClearPath, err)
			return
		}
		perCapture[job.Index] = recs
	})

	w, err := writer.NewCSVWriter(out)
	if err != nil {
		return err
	}
	csvw := w.(*writer.CSVWriter)
	header := out.WriteHeader && !opts.appendRows
	rows := records.Rows(perCapture, header)
	for _, row := range rows {
		if err := csvw.WriteRecord(row); err != nil {
			w.Close()
			return err
		}
	}
	n := len(rows)
	if header {
		n--
	}
	logger.Infof("Wrote %d DNS records of %d captures to %s (%d dropped).", n, len(captures), out.Path, dropped)
	return w.Close()
}

// runDistribution counts feature values at the largest window over the batch.
func runDistribution(ctx context.Context, cfg *config.Config, ex *extractor.Extractor, opts options, captures []model.Capture) error {
	mgr, err := manager.NewManager(cfg, ex, nil)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	dist := distribution.New(ex.Extraction())
	mgr.ForEach(ctx, manager.Jobs(captures), func(job manager.Job) {
		acc, err := ex.AccumulateAll(job.Capture)
		switch {
		case err == nil:
			dist.Add(acc)
		case extractor.IsFatalRun(err):
			cancel(fmt.Errorf("capture %s: %w", job.Capture.EncPath, err))
		default:
			logger.Warnf("Capture %s left out of the distribution: %v", job.Capture.EncPath, err)
		}
	})
	if err := context.Cause(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	path := opts.output
	if path == "" {
		path = defaultDistributionPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create distribution output: %w", err)
	}
	if err := dist.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	logger.Infof("Wrote distributions of %d captures to %s.", len(captures), path)
	return f.Close()
}

// runQNames writes the one-hot query-name table of the clear-text captures.
func runQNames(ctx context.Context, cfg *config.Config, ex *extractor.Extractor, opts options, captures []model.Capture) error {
	qx, err := qnames.New(cfg.QNames, ex.Extraction().MaxQueries)
	if err != nil {
		return err
	}
	mgr, err := manager.NewManager(cfg, ex, nil)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	table := qnames.NewTable(qx.Forms())
	var once sync.Once
	mgr.ForEach(ctx, manager.Jobs(captures), func(job manager.Job) {
		device, names, err := qx.Names(job.Capture.ClearPath)
		if errors.Is(err, qnames.ErrUnknownDevice) {
			once.Do(func() { cancel(err) })
			return
		}
		if err != nil {
			logger.Warnf("No query name for %s: %v", job.Capture.ClearPath, err)
			return
		}
		table.Add(job.Index, device, names)
	})
	if err := context.Cause(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	for _, f := range qx.Forms() {
		logger.Infof("Number of unique DNS qnames (%s): %d", f.Name, len(table.Vocabulary(f.Name)))
	}

	out, err := csvOutput(cfg, opts, true)
	if err != nil {
		return err
	}
	w, err := writer.NewCSVWriter(out)
	if err != nil {
		return err
	}
	csvw := w.(*writer.CSVWriter)
	rows := append([][]string{table.Header()}, table.Rows()...)
	for _, row := range rows {
		if err := csvw.WriteRecord(row); err != nil {
			w.Close()
			return err
		}
	}
	logger.Infof("Wrote %d query-name rows to %s.", len(rows)-1, out.Path)
	return w.Close()
}
