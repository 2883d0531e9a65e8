package main

import (
	"Go2DNSPrint/internal/config"
	"Go2DNSPrint/internal/core/model"
	"Go2DNSPrint/internal/engine/extractor"
	"Go2DNSPrint/internal/engine/manager"
	"Go2DNSPrint/internal/factory"
	"Go2DNSPrint/internal/logger"
	"Go2DNSPrint/internal/metrics"
	"Go2DNSPrint/internal/writer"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Extraction modes.
const (
	modeFeatures     = "features"
	modeHeader       = "header"
	modeRecords      = "records"
	modeDistribution = "distribution"
	modeQNames       = "qnames"
)

type options struct {
	configPath string
	mode       string
	clearGlob  string
	encGlob    string
	label      string
	output     string
	appendRows bool
	noHeader   bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "configs/config.yaml", "path of the configuration file")
	flag.StringVar(&opts.mode, "mode", modeFeatures, "features|header|records|distribution|qnames")
	flag.StringVar(&opts.clearGlob, "clear", "", "glob of the clear-text captures")
	flag.StringVar(&opts.encGlob, "enc", "", "glob of the encrypted captures, paired with -clear by sorted position")
	flag.StringVar(&opts.label, "label", "", "label of every row (default: the capture's directory)")
	flag.StringVar(&opts.output, "o", "", "output file, replacing the configured csv writer")
	flag.BoolVar(&opts.appendRows, "append", false, "append rows to an existing output without a header")
	flag.BoolVar(&opts.noHeader, "noheader", false, "omit the header line of -o (features and records modes)")
	flag.Parse()

	if err := run(opts); err != nil {
		logger.Errorf("ns-extract failed: %v", err)
		logger.GetLogger().Close()
		os.Exit(1)
	}
	logger.GetLogger().Close()
}

func run(opts options) error {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	logCfg, err := cfg.Logging.Logger()
	if err != nil {
		return err
	}
	if err := logger.Initialize(logCfg); err != nil {
		return err
	}
	logger.Infof("Configuration loaded from %s.", opts.configPath)

	ext, err := cfg.Build()
	if err != nil {
		return err
	}

	m, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	if cfg.Metrics.Enabled {
		srv := m.Serve(cfg.Metrics.ListenAddr)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
	}
	ex := extractor.New(ext, extractor.WithObserver(m))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch opts.mode {
	case modeHeader:
		return writeHeader(cfg, ex, opts)
	case modeFeatures:
		captures, err := pairCaptures(opts)
		if err != nil {
			return err
		}
		return runFeatures(ctx, cfg, ex, m, opts, captures)
	case modeRecords:
		captures, err := pairCaptures(opts)
		if err != nil {
			return err
		}
		return runRecords(ctx, cfg, ex, opts, captures)
	case modeDistribution:
		captures, err := pairCaptures(opts)
		if err != nil {
			return err
		}
		return runDistribution(ctx, cfg, ex, opts, captures)
	case modeQNames:
		captures, err := pairCaptures(opts)
		if err != nil {
			return err
		}
		return runQNames(ctx, cfg, ex, opts, captures)
	default:
		return fmt.Errorf("unknown mode '%s'", opts.mode)
	}
}

// pairCaptures expands the globs and pairs clear-text and encrypted
// captures by their sorted position.
func pairCaptures(opts options) ([]model.Capture, error) {
	clearPaths, err := expand(opts.clearGlob)
	if err != nil {
		return nil, err
	}
	encPaths, err := expand(opts.encGlob)
	if err != nil {
		return nil, err
	}
	if len(clearPaths) > 0 && len(encPaths) > 0 && len(clearPaths) != len(encPaths) {
		return nil, fmt.Errorf("%d clear-text captures cannot be paired with %d encrypted captures", len(clearPaths), len(encPaths))
	}

	n := max(len(clearPaths), len(encPaths))
	if n == 0 {
		return nil, fmt.Errorf("no capture matches -clear '%s' or -enc '%s'", opts.clearGlob, opts.encGlob)
	}
	captures := make([]model.Capture, n)
	for i := range captures {
		c := model.Capture{Label: opts.label}
		if len(clearPaths) > 0 {
			c.ClearPath = clearPaths[i]
		}
		if len(encPaths) > 0 {
			c.EncPath = encPaths[i]
		}
		captures[i] = extractor.Normalize(c)
	}
	logger.Infof("Found %d captures.", n)
	return captures, nil
}

func expand(pattern string) ([]string, error) {
	if pattern == "" {
		return nil, nil
	}
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid glob '%s': %w", pattern, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// csvOutput returns the csv settings of the non-feature modes: -o when set,
// else the first enabled csv writer.
func csvOutput(cfg *config.Config, opts options, truncate bool) (config.CSVConfig, error) {
	if opts.output != "" {
		return config.CSVConfig{Path: opts.output, Truncate: truncate, WriteHeader: !opts.noHeader}, nil
	}
	for _, def := range cfg.Writers {
		if def.Enabled && def.Type == "csv" {
			out := def.CSV
			out.Truncate = out.Truncate || truncate
			return out, nil
		}
	}
	return config.CSVConfig{}, fmt.Errorf("no output: pass -o or enable a csv writer")
}

func writeHeader(cfg *config.Config, ex *extractor.Extractor, opts options) error {
	out, err := csvOutput(cfg, opts, true)
	if err != nil {
		return err
	}
	out.WriteHeader = true
	w, err := writer.NewCSVWriter(out)
	if err != nil {
		return err
	}
	if err := w.WriteHeader(ex.Header()); err != nil {
		w.Close()
		return err
	}
	logger.Infof("Wrote header of %d columns to %s.", len(ex.Header()), out.Path)
	return w.Close()
}

func runFeatures(ctx context.Context, cfg *config.Config, ex *extractor.Extractor, m *metrics.Metrics, opts options, captures []model.Capture) error {
	defs := cfg.Writers
	if opts.output != "" {
		var kept []config.WriterDef
		for _, def := range defs {
			if def.Type != "csv" {
				kept = append(kept, def)
			}
		}
		defs = append(kept, config.WriterDef{
			Type:    "csv",
			Enabled: true,
			CSV:     config.CSVConfig{Path: opts.output, Truncate: !opts.appendRows, WriteHeader: !opts.noHeader},
		})
	}
	writers, err := factory.Create(defs)
	if err != nil {
		return err
	}

	managerOpts := []manager.Option{manager.WithRowObserver(m)}
	if opts.appendRows {
		managerOpts = append(managerOpts, manager.WithoutHeader())
	}
	mgr, err := manager.NewManager(cfg, ex, writers, managerOpts...)
	if err != nil {
		for _, w := range writers {
			w.Close()
		}
		return err
	}

	summary, runErr := mgr.Run(ctx, captures)
	closeErr := mgr.Close()
	if runErr != nil {
		return runErr
	}
	if closeErr != nil {
		return closeErr
	}
	logger.Infof("Extracted %d rows from %d captures (%d failed, %d dropped).",
		summary.Rows, summary.Captures, summary.Failed, summary.Dropped)
	return nil
}
