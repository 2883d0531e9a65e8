package protocol

import (
	"Go2DNSPrint/internal/core/model"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ErrMalformedFrame is returned when a sub-layer of a frame cannot be decoded.
// Only the offending frame is affected.
var ErrMalformedFrame = errors.New("malformed frame")

// DNSPort is the port plain-text DNS runs on.
const DNSPort = 53

// DefaultSessionPorts are the server ports whose TCP payload is read as TLS.
var DefaultSessionPorts = []uint16{443, 853}

// Kind discriminates the result of a dissection.
type Kind int

const (
	KindNotIP Kind = iota
	KindIrrelevant
	KindDNSQuery
	KindDNSResponse
	KindSegment
)

func (k Kind) String() string {
	switch k {
	case KindNotIP:
		return "not_ip"
	case KindIrrelevant:
		return "irrelevant"
	case KindDNSQuery:
		return "dns_query"
	case KindDNSResponse:
		return "dns_response"
	case KindSegment:
		return "segment"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// DNSInfo holds the DNS fields of a port 53 frame.
type DNSInfo struct {
	ID          uint16
	QueryName   string // first question, empty when there is none
	QueryType   layers.DNSType
	Opcode      layers.DNSOpCode
	Questions   int
	AnswerCount int
	Length      int // DNS message length in bytes
}

// SegmentInfo holds the TCP and TLS view of a segment on a session port.
type SegmentInfo struct {
	Seq uint32
	// HasTLS is set when at least one TLS record header was recognised.
	HasTLS bool
	// AppDataLengths are the length fields of the application data records, in
	// order. A record whose body continues in a later segment still counts.
	AppDataLengths []int
}

// Dissection is the typed view of one frame.
type Dissection struct {
	Kind      Kind
	Timestamp time.Time
	SrcMAC    net.HardwareAddr
	DstMAC    net.HardwareAddr
	FiveTuple model.FiveTuple
	DNS       *DNSInfo
	Segment   *SegmentInfo
}

// Options tune a Dissector.
type Options struct {
	// SrcMAC, when set, makes frames from any other source irrelevant.
	SrcMAC net.HardwareAddr
	// SessionPorts override DefaultSessionPorts.
	SessionPorts []uint16
}

// Dissector extracts typed views from raw frames. It holds no per-frame state.
type Dissector struct {
	srcMAC       net.HardwareAddr
	sessionPorts map[uint16]struct{}
}

// NewDissector creates a dissector.
func NewDissector(opts Options) *Dissector {
	ports := opts.SessionPorts
	if len(ports) == 0 {
		ports = DefaultSessionPorts
	}
	d := &Dissector{srcMAC: opts.SrcMAC, sessionPorts: make(map[uint16]struct{}, len(ports))}
	for _, p := range ports {
		d.sessionPorts[p] = struct{}{}
	}
	return d
}

// Dissect decodes frame. A non-nil error always wraps ErrMalformedFrame.
func (d *Dissector) Dissect(frame model.Frame) (*Dissection, error) {
	packet := gopacket.NewPacket(frame.Data, frame.LinkType, gopacket.Default)

	out := &Dissection{Kind: KindIrrelevant, Timestamp: frame.Timestamp}

	if l := packet.Layer(layers.LayerTypeEthernet); l != nil {
		eth := l.(*layers.Ethernet)
		out.SrcMAC, out.DstMAC = eth.SrcMAC, eth.DstMAC
	}
	if len(d.srcMAC) > 0 && !bytes.Equal(out.SrcMAC, d.srcMAC) {
		return out, nil
	}

	switch l := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		out.FiveTuple.SrcIP, out.FiveTuple.DstIP = l.SrcIP, l.DstIP
		out.FiveTuple.Protocol = uint8(l.Protocol)
	case *layers.IPv6:
		out.FiveTuple.SrcIP, out.FiveTuple.DstIP = l.SrcIP, l.DstIP
		out.FiveTuple.Protocol = uint8(l.NextHeader)
	default:
		if errLayer := packet.ErrorLayer(); errLayer != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, errLayer.Error())
		}
		out.Kind = KindNotIP
		return out, nil
	}

	if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udp := l.(*layers.UDP)
		out.FiveTuple.SrcPort, out.FiveTuple.DstPort = uint16(udp.SrcPort), uint16(udp.DstPort)
		if !out.FiveTuple.HasPort(DNSPort) {
			return out, nil
		}
		dnsLayer := packet.Layer(layers.LayerTypeDNS)
		if dnsLayer == nil {
			return nil, malformed(packet, "no DNS layer on port 53")
		}
		setDNS(out, dnsLayer.(*layers.DNS), len(udp.Payload))
		return out, nil
	}

	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		out.FiveTuple.SrcPort, out.FiveTuple.DstPort = uint16(tcp.SrcPort), uint16(tcp.DstPort)
		if out.FiveTuple.HasPort(DNSPort) {
			return d.dnsOverTCP(out, tcp)
		}
		if !d.isSessionPort(out.FiveTuple) {
			return out, nil
		}
		lengths, hasTLS := tlsRecords(tcp.Payload)
		out.Kind = KindSegment
		out.Segment = &SegmentInfo{Seq: tcp.Seq, HasTLS: hasTLS, AppDataLengths: lengths}
		return out, nil
	}

	if errLayer := packet.ErrorLayer(); errLayer != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, errLayer.Error())
	}
	return out, nil
}

func (d *Dissector) isSessionPort(ft model.FiveTuple) bool {
	_, src := d.sessionPorts[ft.SrcPort]
	_, dst := d.sessionPorts[ft.DstPort]
	return src || dst
}

// dnsOverTCP decodes the first length-prefixed DNS message of a segment.
// Segments without payload (handshake, ACKs) are irrelevant.
func (d *Dissector) dnsOverTCP(out *Dissection, tcp *layers.TCP) (*Dissection, error) {
	payload := tcp.Payload
	if len(payload) == 0 {
		return out, nil
	}
	if len(payload) < 2 {
		return nil, fmt.Errorf("%w: short DNS over TCP length prefix", ErrMalformedFrame)
	}
	size := int(binary.BigEndian.Uint16(payload[:2]))
	if len(payload) < 2+size {
		return nil, fmt.Errorf("%w: DNS over TCP message of %d bytes spans segments", ErrMalformedFrame, size)
	}
	var dns layers.DNS
	if err := dns.DecodeFromBytes(payload[2:2+size], gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	setDNS(out, &dns, size)
	return out, nil
}

func setDNS(out *Dissection, dns *layers.DNS, length int) {
	info := &DNSInfo{
		ID:          dns.ID,
		Opcode:      dns.OpCode,
		Questions:   len(dns.Questions),
		AnswerCount: int(dns.ANCount),
		Length:      length,
	}
	if len(dns.Questions) > 0 {
		info.QueryName = string(dns.Questions[0].Name)
		info.QueryType = dns.Questions[0].Type
	}
	out.DNS = info
	out.Kind = KindDNSQuery
	if dns.QR {
		out.Kind = KindDNSResponse
	}
}

func malformed(packet gopacket.Packet, reason string) error {
	if errLayer := packet.ErrorLayer(); errLayer != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedFrame, reason, errLayer.Error())
	}
	return fmt.Errorf("%w: %s", ErrMalformedFrame, reason)
}

// tlsRecords walks the TLS records of a TCP payload. gopacket stops at the
// first record whose body is incomplete; that record's header is still read
// here so a message split across segments keeps its length.
func tlsRecords(payload []byte) ([]int, bool) {
	var tls layers.TLS
	err := tls.DecodeFromBytes(payload, gopacket.NilDecodeFeedback)

	var lengths []int
	consumed := 0
	for _, r := range tls.ChangeCipherSpec {
		consumed += 5 + int(r.Length)
	}
	for _, r := range tls.Handshake {
		consumed += 5 + int(r.Length)
	}
	for _, r := range tls.Alert {
		consumed += 5 + int(r.Length)
	}
	for _, r := range tls.AppData {
		consumed += 5 + int(r.Length)
		lengths = append(lengths, int(r.Length))
	}
	hasTLS := consumed > 0
	if err == nil || consumed >= len(payload) {
		return lengths, hasTLS
	}

	rest := payload[consumed:]
	if !looksLikeRecord(rest) {
		return lengths, hasTLS
	}
	if layers.TLSType(rest[0]) == layers.TLSApplicationData {
		lengths = append(lengths, int(binary.BigEndian.Uint16(rest[3:5])))
	}
	return lengths, true
}

func looksLikeRecord(b []byte) bool {
	if len(b) < 5 {
		return false
	}
	switch layers.TLSType(b[0]) {
	case layers.TLSChangeCipherSpec, layers.TLSAlert, layers.TLSHandshake, layers.TLSApplicationData:
	default:
		return false
	}
	// SSL 3.0 through TLS 1.3 all carry major version 3 on the record layer.
	return b[1] == 3 && b[2] <= 4
}
