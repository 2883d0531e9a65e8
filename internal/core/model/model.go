package model

import (
	"net"
	"time"

	"github.com/google/gopacket/layers"
)

// FiveTuple represents the 5-tuple of a network packet.
type FiveTuple struct {
	SrcIP    net.IP
	DstIP    net.IP
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8 // e.g., TCP, UDP
}

// HasPort reports whether either side of the tuple uses port.
func (t FiveTuple) HasPort(port uint16) bool {
	return t.SrcPort == port || t.DstPort == port
}

// Frame is one captured frame as read from a capture file. It is never
// modified after the reader produced it.
type Frame struct {
	Timestamp time.Time
	Data      []byte
	LinkType  layers.LinkType
}

// Capture describes one unit of extraction: a clear-text capture holding the
// device's plain DNS traffic and the encrypted (replayed) capture of the same
// queries. Either path may be reused for both passes.
type Capture struct {
	Label     string
	ClearPath string
	EncPath   string
}

// FeatureRow is the fixed-order numeric row emitted for one capture.
type FeatureRow struct {
	Label  string
	Source string // path of the encrypted capture the row was computed from
	Values []float64
}

// Width returns the number of columns of the row, label included.
func (r *FeatureRow) Width() int {
	return len(r.Values) + 1
}
