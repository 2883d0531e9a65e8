// Package pcaptest builds synthetic captures for tests and demo tooling.
package pcaptest

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Endpoint is one side of a synthetic conversation.
type Endpoint struct {
	MAC  net.HardwareAddr
	IP   net.IP
	Port uint16
}

// Record describes one TLS record carried by a TCP segment. A Partial record
// has its header but only part of its body, as when a record spans segments.
type Record struct {
	Type    layers.TLSType
	Length  int
	Partial bool
}

// AppData returns an application data record of the given length.
func AppData(length int) Record {
	return Record{Type: layers.TLSApplicationData, Length: length}
}

// Handshake returns a handshake record of the given length.
func Handshake(length int) Record {
	return Record{Type: layers.TLSHandshake, Length: length}
}

type frame struct {
	ts   time.Time
	data []byte
}

// Builder accumulates serialized Ethernet frames.
type Builder struct {
	frames []frame
	err    error
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

var (
	defaultClientMAC   = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	defaultResolverMAC = net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xaa}
)

// Len returns the number of frames built so far.
func (b *Builder) Len() int { return len(b.frames) }

// Err returns the first serialization error, if any.
func (b *Builder) Err() error { return b.err }

// DNSQuery appends a UDP DNS query for name.
func (b *Builder) DNSQuery(ts time.Time, src, dst Endpoint, id uint16, name string, qtype layers.DNSType) *Builder {
	dns := &layers.DNS{
		ID:      id,
		OpCode:  layers.DNSOpCodeQuery,
		RD:      true,
		QDCount: 1,
		Questions: []layers.DNSQuestion{{
			Name:  []byte(name),
			Type:  qtype,
			Class: layers.DNSClassIN,
		}},
	}
	return b.udp(ts, src, dst, dns)
}

// DNSResponse appends a UDP DNS response answering name with one A record per address.
func (b *Builder) DNSResponse(ts time.Time, src, dst Endpoint, id uint16, name string, answers ...net.IP) *Builder {
	dns := &layers.DNS{
		ID:     id,
		QR:     true,
		OpCode: layers.DNSOpCodeQuery,
		RD:     true,
		RA:     true,
		Questions: []layers.DNSQuestion{{
			Name:  []byte(name),
			Type:  layers.DNSTypeA,
			Class: layers.DNSClassIN,
		}},
	}
	for _, ip := range answers {
		dns.Answers = append(dns.Answers, layers.DNSResourceRecord{
			Name:  []byte(name),
			Type:  layers.DNSTypeA,
			Class: layers.DNSClassIN,
			TTL:   300,
			IP:    ip.To4(),
		})
	}
	return b.udp(ts, src, dst, dns)
}

// TLSSegment appends a TCP segment whose payload is the given TLS records.
func (b *Builder) TLSSegment(ts time.Time, src, dst Endpoint, seq uint32, records ...Record) *Builder {
	return b.TCPSegment(ts, src, dst, seq, TLSPayload(records...))
}

// TCPSegment appends a TCP segment carrying payload.
func (b *Builder) TCPSegment(ts time.Time, src, dst Endpoint, seq uint32, payload []byte) *Builder {
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(src.Port),
		DstPort: layers.TCPPort(dst.Port),
		Seq:     seq,
		ACK:     true,
		PSH:     len(payload) > 0,
		Window:  14600,
	}
	return b.append(ts, src, dst, layers.IPProtocolTCP, tcp, gopacket.Payload(payload))
}

// Raw appends data verbatim as one frame.
func (b *Builder) Raw(ts time.Time, data []byte) *Builder {
	b.frames = append(b.frames, frame{ts: ts, data: data})
	return b
}

func (b *Builder) udp(ts time.Time, src, dst Endpoint, dns *layers.DNS) *Builder {
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(src.Port),
		DstPort: layers.UDPPort(dst.Port),
	}
	return b.append(ts, src, dst, layers.IPProtocolUDP, udp, dns)
}

func (b *Builder) append(ts time.Time, src, dst Endpoint, proto layers.IPProtocol, transport gopacket.SerializableLayer, payload gopacket.SerializableLayer) *Builder {
	if b.err != nil {
		return b
	}

	eth := &layers.Ethernet{
		SrcMAC: orDefault(src.MAC, defaultClientMAC),
		DstMAC: orDefault(dst.MAC, defaultResolverMAC),
	}
	var network gopacket.SerializableLayer
	var checksumLayer gopacket.NetworkLayer
	if src.IP.To4() != nil {
		eth.EthernetType = layers.EthernetTypeIPv4
		ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: proto, SrcIP: src.IP.To4(), DstIP: dst.IP.To4()}
		network, checksumLayer = ip, ip
	} else {
		eth.EthernetType = layers.EthernetTypeIPv6
		ip := &layers.IPv6{Version: 6, HopLimit: 64, NextHeader: proto, SrcIP: src.IP, DstIP: dst.IP}
		network, checksumLayer = ip, ip
	}
	switch t := transport.(type) {
	case *layers.TCP:
		t.SetNetworkLayerForChecksum(checksumLayer)
	case *layers.UDP:
		t.SetNetworkLayerForChecksum(checksumLayer)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, network, transport, payload); err != nil {
		b.err = fmt.Errorf("failed to serialize frame %d: %w", len(b.frames), err)
		return b
	}
	data := make([]byte, len(buf.Bytes()))
	copy(data, buf.Bytes())
	b.frames = append(b.frames, frame{ts: ts, data: data})
	return b
}

func orDefault(mac, def net.HardwareAddr) net.HardwareAddr {
	if len(mac) == 0 {
		return def
	}
	return mac
}

// TLSPayload encodes records back to back. Bodies are zero bytes.
func TLSPayload(records ...Record) []byte {
	var out []byte
	for _, r := range records {
		hdr := make([]byte, 5)
		hdr[0] = byte(r.Type)
		binary.BigEndian.PutUint16(hdr[1:3], 0x0303)
		binary.BigEndian.PutUint16(hdr[3:5], uint16(r.Length))
		out = append(out, hdr...)
		body := r.Length
		if r.Partial {
			body = r.Length / 2
		}
		out = append(out, make([]byte, body)...)
	}
	return out
}

// WritePcap writes the frames as a classic pcap stream.
func (b *Builder) WritePcap(w io.Writer) error {
	if b.err != nil {
		return b.err
	}
	writer := pcapgo.NewWriter(w)
	if err := writer.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return fmt.Errorf("failed to write pcap header: %w", err)
	}
	for _, f := range b.frames {
		if err := writer.WritePacket(captureInfo(f), f.data); err != nil {
			return fmt.Errorf("failed to write packet: %w", err)
		}
	}
	return nil
}

// WritePcapNG writes the frames as a pcapng stream.
func (b *Builder) WritePcapNG(w io.Writer) error {
	if b.err != nil {
		return b.err
	}
	writer, err := pcapgo.NewNgWriter(w, layers.LinkTypeEthernet)
	if err != nil {
		return fmt.Errorf("failed to write pcapng header: %w", err)
	}
	for _, f := range b.frames {
		if err := writer.WritePacket(captureInfo(f), f.data); err != nil {
			return fmt.Errorf("failed to write packet: %w", err)
		}
	}
	return writer.Flush()
}

// WriteFile writes the frames to path, as pcapng when ng is set.
func (b *Builder) WriteFile(path string, ng bool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create capture file: %w", err)
	}
	if ng {
		err = b.WritePcapNG(f)
	} else {
		err = b.WritePcap(f)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func captureInfo(f frame) gopacket.CaptureInfo {
	return gopacket.CaptureInfo{
		Timestamp:     f.ts,
		CaptureLength: len(f.data),
		Length:        len(f.data),
	}
}
