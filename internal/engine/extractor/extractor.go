// Package extractor turns one capture pair into one feature row.
package extractor

import (
	"Go2DNSPrint/internal/config"
	"Go2DNSPrint/internal/core/model"
	"Go2DNSPrint/internal/engine/portclass"
	"Go2DNSPrint/internal/engine/protocol"
	"Go2DNSPrint/internal/engine/sessionaggregator"
	"Go2DNSPrint/internal/engine/vector"
	"Go2DNSPrint/internal/engine/windowaggregator"
	"Go2DNSPrint/internal/logger"
	"Go2DNSPrint/internal/metrics"
	"Go2DNSPrint/pkg/pcap"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/gopacket/layers"
)

// ErrNoFeatures is returned for a capture whose encrypted pass produced no
// session. No row is emitted for it.
var ErrNoFeatures = vector.ErrNoFeatures

// IsFatalRun reports whether err invalidates the whole run rather than the
// current capture: both cases point at the configuration, not the data.
func IsFatalRun(err error) bool {
	return errors.Is(err, portclass.ErrPortOutOfRange) ||
		errors.Is(err, sessionaggregator.ErrUnconfiguredResolver)
}

// Observer receives extraction counters. *metrics.Metrics implements it.
type Observer interface {
	FramesRead(n int)
	FrameSkipped(reason string)
	Retransmissions(n int)
	Sessions(n int)
	DegradedPairs(n int)
	TruncatedLists(n int)
	CaptureDone(outcome string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) FramesRead(int)                    {}
func (nopObserver) FrameSkipped(string)               {}
func (nopObserver) Retransmissions(int)               {}
func (nopObserver) Sessions(int)                      {}
func (nopObserver) DegradedPairs(int)                 {}
func (nopObserver) TruncatedLists(int)                {}
func (nopObserver) CaptureDone(string, time.Duration) {}

// Extractor is safe for concurrent use: every call builds its own
// per-capture state and only reads the shared configuration.
type Extractor struct {
	ext        *config.Extraction
	classifier *portclass.Classifier
	renderer   *vector.Renderer
	dissector  *protocol.Dissector
	// queries filters the clear-text pass on the device MAC when one is set.
	queries  *protocol.Dissector
	observer Observer
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithObserver sends counters to o.
func WithObserver(o Observer) Option {
	return func(e *Extractor) {
		if o != nil {
			e.observer = o
		}
	}
}

// New creates an extractor for ext.
func New(ext *config.Extraction, opts ...Option) *Extractor {
	e := &Extractor{
		ext:        ext,
		classifier: portclass.New(ext),
		renderer:   vector.NewRenderer(ext),
		dissector:  protocol.NewDissector(protocol.Options{}),
		queries:    protocol.NewDissector(protocol.Options{SrcMAC: ext.DeviceMAC}),
		observer:   nopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extraction returns the configuration handle the extractor was built with.
func (e *Extractor) Extraction() *config.Extraction {
	return e.ext
}

// Header returns the header matching every row of this configuration.
func (e *Extractor) Header() []string {
	return e.renderer.Header()
}

// LabelFor derives a label from a capture path: its parent directory name.
func LabelFor(path string) string {
	return filepath.Base(filepath.Dir(path))
}

// Normalize fills the missing parts of a capture: a single path serves both
// passes and the label defaults to the encrypted capture's directory.
func Normalize(c model.Capture) model.Capture {
	if c.ClearPath == "" {
		c.ClearPath = c.EncPath
	}
	if c.EncPath == "" {
		c.EncPath = c.ClearPath
	}
	if c.Label == "" {
		c.Label = LabelFor(c.EncPath)
	}
	return c
}

// Extract computes the feature row of a capture.
func (e *Extractor) Extract(c model.Capture) (row *model.FeatureRow, err error) {
	start := time.Now()
	defer func() {
		outcome := metrics.OutcomeOK
		switch {
		case IsFatalRun(err):
			outcome = metrics.OutcomeAborted
		case err != nil:
			outcome = metrics.OutcomeFailed
		}
		e.observer.CaptureDone(outcome, time.Since(start))
	}()

	c = Normalize(c)
	acc, err := e.Accumulate(c)
	if err != nil {
		return nil, err
	}
	row, report, err := e.renderer.Row(c.Label, c.EncPath, acc)
	if err != nil {
		return nil, err
	}
	e.observer.TruncatedLists(report.TruncatedLists)
	return row, nil
}

// Accumulate runs both passes of a capture and returns the filled accumulator.
// The passes share nothing but the accumulator's disjoint halves.
func (e *Extractor) Accumulate(c model.Capture) (*windowaggregator.Accumulator, error) {
	return e.accumulate(c)
}

// AccumulateAll is Accumulate without list capacities.
func (e *Extractor) AccumulateAll(c model.Capture) (*windowaggregator.Accumulator, error) {
	return e.accumulate(c, windowaggregator.Uncapped())
}

func (e *Extractor) accumulate(c model.Capture, opts ...windowaggregator.Option) (*windowaggregator.Accumulator, error) {
	c = Normalize(c)
	acc := windowaggregator.New(e.ext, opts...)
	if err := e.clearPass(c.ClearPath, acc); err != nil {
		return nil, err
	}
	if err := e.encryptedPass(c.EncPath, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// clearPass collects the arrival times of the DNS queries sent to port 53,
// only from the device MAC when extraction.device_mac is set.
func (e *Extractor) clearPass(path string, acc *windowaggregator.Accumulator) error {
	reader := pcap.Open(path)
	defer reader.Close()

	for reader.Next() {
		d, ok := e.dissect(e.queries, path, reader.Frame())
		if !ok {
			continue
		}
		if d.Kind == protocol.KindDNSQuery && d.FiveTuple.DstPort == protocol.DNSPort && d.DNS.Questions > 0 {
			acc.AddQuery(d.Timestamp)
		}
	}
	e.observer.FramesRead(reader.Count())
	if err := reader.Err(); errors.Is(err, pcap.ErrTruncatedCapture) {
		return fmt.Errorf("clear-text pass: %w", err)
	}
	logger.Debugf("Clear-text pass of %s: %d frames, %d queries", path, reader.Count(), acc.Queries())
	return nil
}

// encryptedPass groups the resolver sessions of the capture and adds their
// canonical pairs to the windows. Windows are measured from the first IPv4
// TCP frame of the capture, whichever its ports.
func (e *Extractor) encryptedPass(path string, acc *windowaggregator.Accumulator) error {
	reader := pcap.Open(path)
	defer reader.Close()

	sessions := sessionaggregator.NewKeyedAggregator(e.ext, e.classifier, path)
	for reader.Next() {
		d, ok := e.dissect(e.dissector, path, reader.Frame())
		if !ok {
			continue
		}
		if d.FiveTuple.Protocol == uint8(layers.IPProtocolTCP) && d.FiveTuple.SrcIP.To4() != nil {
			acc.SetReference(d.Timestamp)
		}
		if d.Kind == protocol.KindSegment {
			sessions.ProcessSegment(d)
		}
	}
	e.observer.FramesRead(reader.Count())
	if err := reader.Err(); errors.Is(err, pcap.ErrTruncatedCapture) {
		return fmt.Errorf("encrypted pass: %w", err)
	}

	features, err := sessions.Features()
	if err != nil {
		return err
	}
	for _, f := range features {
		if acc.AddSession(f) == 0 {
			logger.Debugf("Session %s of %s starts after the largest window", f.Key, path)
		}
	}

	stats := sessions.Stats()
	e.observer.Retransmissions(stats.Retransmissions)
	e.observer.Sessions(stats.Sessions)
	e.observer.DegradedPairs(stats.Degraded)
	logger.Debugf("Encrypted pass of %s: %d frames, %d sessions, %d retransmissions, %d degraded",
		path, reader.Count(), stats.Sessions, stats.Retransmissions, stats.Degraded)
	return nil
}

func (e *Extractor) dissect(dissector *protocol.Dissector, path string, frame model.Frame) (*protocol.Dissection, bool) {
	d, err := dissector.Dissect(frame)
	if err != nil {
		e.observer.FrameSkipped("malformed")
		logger.Debugf("Skipping frame at %s in %s: %v", frame.Timestamp.Format(time.RFC3339Nano), path, err)
		return nil, false
	}
	switch d.Kind {
	case protocol.KindNotIP:
		e.observer.FrameSkipped("not_ip")
		return nil, false
	case protocol.KindIrrelevant:
		e.observer.FrameSkipped("irrelevant")
	}
	return d, true
}
