// Package pcap reads capture files as a lazy, non-restartable sequence of frames.
package pcap

import (
	"Go2DNSPrint/internal/core/model"
	"Go2DNSPrint/internal/logger"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

var (
	// ErrUnreadableCapture is reported when no supported container format matches the file.
	ErrUnreadableCapture = errors.New("capture matches no supported container format")
	// ErrTruncatedCapture is reported when the file ends in the middle of a frame.
	ErrTruncatedCapture = errors.New("capture truncated mid-read")
)

// Format is the container framing of a capture file.
type Format int

const (
	FormatUnknown Format = iota
	FormatPcapNG
	FormatPcap
)

func (f Format) String() string {
	switch f {
	case FormatPcapNG:
		return "pcapng"
	case FormatPcap:
		return "pcap"
	default:
		return "unknown"
	}
}

// detectionOrder is the order formats are attempted in.
var detectionOrder = []Format{FormatPcapNG, FormatPcap}

type packetDataSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

// detection is the tagged result of one successful detect-and-parse attempt.
type detection struct {
	format   Format
	file     *os.File
	source   packetDataSource
	linkType layers.LinkType
}

// Reader reads frames from a pcap or pcapng file.
type Reader struct {
	path     string
	file     *os.File
	source   packetDataSource
	format   Format
	linkType layers.LinkType

	frame  model.Frame
	frames int
	err    error
	done   bool
}

// NewReader opens filePath and detects its container format. It fails when
// the file cannot be opened or matches no supported format.
func NewReader(filePath string) (*Reader, error) {
	d, err := detectAndParse(filePath)
	if err != nil {
		return nil, err
	}
	return &Reader{
		path:     filePath,
		file:     d.file,
		source:   d.source,
		format:   d.format,
		linkType: d.linkType,
	}, nil
}

// Open is the lenient counterpart of NewReader: an unreadable file yields a
// reader with an empty frame sequence whose Err reports the failure.
func Open(filePath string) *Reader {
	r, err := NewReader(filePath)
	if err != nil {
		logger.Warnf("Capture %s is unreadable, yielding no frames: %v", filePath, err)
		return &Reader{path: filePath, err: err, done: true}
	}
	return r
}

// detectAndParse tries every supported format in order. Each attempt opens
// the file afresh so that nothing consumed by a failed attempt leaks into
// the next one.
func detectAndParse(filePath string) (*detection, error) {
	var attempts []error
	for _, format := range detectionOrder {
		d, err := openAs(filePath, format)
		if err == nil {
			return d, nil
		}
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("failed to open capture file: %w", err)
		}
		attempts = append(attempts, fmt.Errorf("%s: %w", format, err))
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableCapture, filePath, errors.Join(attempts...))
}

func openAs(filePath string, format Format) (*detection, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}

	d := &detection{format: format, file: file}
	switch format {
	case FormatPcapNG:
		ngReader, err := pcapgo.NewNgReader(file, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			file.Close()
			return nil, err
		}
		d.source, d.linkType = ngReader, ngReader.LinkType()
	case FormatPcap:
		reader, err := pcapgo.NewReader(file)
		if err != nil {
			file.Close()
			return nil, err
		}
		d.source, d.linkType = reader, reader.LinkType()
	default:
		file.Close()
		return nil, fmt.Errorf("unsupported format %d", format)
	}
	return d, nil
}

// Path returns the capture file path.
func (r *Reader) Path() string { return r.path }

// Format returns the detected container format.
func (r *Reader) Format() Format { return r.format }

// LinkType returns the link type of the capture's frames.
func (r *Reader) LinkType() layers.LinkType { return r.linkType }

// Count returns the number of frames yielded so far.
func (r *Reader) Count() int { return r.frames }

// Next advances to the next frame. It returns false once the sequence is
// exhausted; Err then tells a clean end from a failure. The underlying file
// is closed as soon as the sequence ends.
func (r *Reader) Next() bool {
	if r.done {
		return false
	}
	data, ci, err := r.source.ReadPacketData()
	if err != nil {
		r.finish(err)
		return false
	}
	r.frames++
	r.frame = model.Frame{Timestamp: ci.Timestamp, Data: data, LinkType: r.linkType}
	return true
}

// Frame returns the frame Next advanced to.
func (r *Reader) Frame() model.Frame { return r.frame }

// Err returns the error that ended the sequence, nil on a clean end of file.
func (r *Reader) Err() error { return r.err }

// ReadFrames sends every remaining frame to out and closes it when done.
func (r *Reader) ReadFrames(out chan<- model.Frame) {
	defer close(out)
	for r.Next() {
		out <- r.Frame()
	}
}

// Close releases the file handle. It is safe to call more than once.
func (r *Reader) Close() error {
	r.done = true
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func (r *Reader) finish(err error) {
	r.done = true
	switch {
	case errors.Is(err, io.EOF):
	case errors.Is(err, io.ErrUnexpectedEOF):
		r.err = fmt.Errorf("%w: %s after %d frames", ErrTruncatedCapture, r.path, r.frames)
		logger.Warnf("Capture %s is truncated after %d frames", r.path, r.frames)
	default:
		r.err = fmt.Errorf("%w: %s after %d frames: %v", ErrTruncatedCapture, r.path, r.frames, err)
		logger.Warnf("Capture %s stopped after %d frames: %v", r.path, r.frames, err)
	}
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
}
