package sessionaggregator

import (
	"Go2DNSPrint/internal/config"
	"Go2DNSPrint/internal/core/model"
	"fmt"
	"net"
	"time"
)

// Key identifies a TCP session independently of frame direction: the client
// address, the resolver address and the port the client chose.
type Key struct {
	Client   string
	Resolver string
	Port     uint16
}

func (k Key) String() string {
	return fmt.Sprintf("%s-%s:%d", k.Client, k.Resolver, k.Port)
}

// Session is the append-only frame history of one key during one capture.
type Session struct {
	Key       Key
	First     model.FiveTuple // tuple of the first frame, used to resolve the resolver
	FirstTime time.Time
	LastTime  time.Time
	Frames    int
	// Lengths are the signed TLS application data lengths in frame order:
	// positive when the client sent the record, negative when the resolver did.
	Lengths         []int
	Retransmissions int

	lastSeq uint32
	seenTLS bool
}

// RawSessionFeature is the derived view of a finished session.
type RawSessionFeature struct {
	Lengths   []int
	FirstTime time.Time
	LastTime  time.Time
}

// Raw returns the session's derived feature.
func (s *Session) Raw() RawSessionFeature {
	return RawSessionFeature{Lengths: s.Lengths, FirstTime: s.FirstTime, LastTime: s.LastTime}
}

// SessionFeature is a resolved session ready for windowed accumulation.
type SessionFeature struct {
	Key      Key
	Resolver *config.Resolver
	Strategy *config.PaddingStrategy
	Raw      RawSessionFeature
	// Pair is the canonical (request, response) pair. When Degraded is set the
	// pair was taken from the transport's positional default and may hold
	// fewer than two values.
	Pair     []int
	Degraded bool
}

// sessionKey orients a frame: uplink frames key on (src, dst, sport),
// downlink frames on (dst, src, dport).
func sessionKey(ft model.FiveTuple, isResolver func(net.IP) bool) (Key, bool) {
	if !isResolver(ft.SrcIP) {
		return Key{Client: ft.SrcIP.String(), Resolver: ft.DstIP.String(), Port: ft.SrcPort}, true
	}
	return Key{Client: ft.DstIP.String(), Resolver: ft.SrcIP.String(), Port: ft.DstPort}, false
}

// canonicalPair selects the lengths at the resolver's up and down indexes. A
// session too short for them falls back to messages 2 and 3 for DoH and 1 and
// 2 for DoT, which is what a single query looks like on each transport.
func canonicalPair(r *config.Resolver, lengths []int) ([]int, bool) {
	if len(lengths) > r.DownIndex {
		return []int{lengths[r.UpIndex], lengths[r.DownIndex]}, false
	}
	lo, hi := 0, 2
	if r.Type == config.TypeDoH {
		lo, hi = 1, 3
	}
	if hi > len(lengths) {
		hi = len(lengths)
	}
	if lo > hi {
		lo = hi
	}
	pair := make([]int, hi-lo)
	copy(pair, lengths[lo:hi])
	return pair, true
}
