package sessionaggregator

import (
	"Go2DNSPrint/internal/config"
	"Go2DNSPrint/internal/core/model"
	"Go2DNSPrint/internal/engine/portclass"
	"Go2DNSPrint/internal/engine/protocol"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
resolvers:
  doh:
    - name: Cloudflare
      ips: ["1.1.1.1"]
      up_index: 1
      down_index: 2
  dot:
    - name: Quad9
      ips: ["9.9.9.9"]
      up_index: 0
      down_index: 1
padding_strategies:
  no_padding: 0
  block_468: 468
`

var (
	clientIP   = net.ParseIP("10.0.0.2")
	cloudflare = net.ParseIP("1.1.1.1")
	quad9      = net.ParseIP("9.9.9.9")
	t0         = time.Unix(1700000000, 0)
)

func newAggregator(t *testing.T) (*KeyedAggregator, *config.Extraction) {
	t.Helper()
	cfg, err := config.ParseConfig([]byte(testConfig))
	require.NoError(t, err)
	ext, err := cfg.Build()
	require.NoError(t, err)
	return NewKeyedAggregator(ext, portclass.New(ext), "test.pcap"), ext
}

func segment(at time.Duration, src, dst net.IP, sport, dport uint16, seq uint32, lengths ...int) *protocol.Dissection {
	return &protocol.Dissection{
		Kind:      protocol.KindSegment,
		Timestamp: t0.Add(at),
		FiveTuple: model.FiveTuple{SrcIP: src, DstIP: dst, SrcPort: sport, DstPort: dport, Protocol: 6},
		Segment:   &protocol.SegmentInfo{Seq: seq, HasTLS: len(lengths) > 0, AppDataLengths: lengths},
	}
}

// exchange feeds a client/resolver exchange where each value is one record,
// positive values sent by the client.
func exchange(ka *KeyedAggregator, resolver net.IP, port, serverPort uint16, at time.Duration, values ...int) {
	var up, down uint32 = 1000, 5000
	for i, v := range values {
		ts := at + time.Duration(i)*time.Millisecond
		if v > 0 {
			ka.ProcessSegment(segment(ts, clientIP, resolver, port, serverPort, up, v))
			up += uint32(v)
		} else {
			ka.ProcessSegment(segment(ts, resolver, clientIP, serverPort, port, down, -v))
			down += uint32(-v)
		}
	}
}

func TestSessionOrientation(t *testing.T) {
	ka, _ := newAggregator(t)
	port := uint16(config.DefaultPortStart + 10)
	exchange(ka, cloudflare, port, PortDoH, 0, 120, -300, 45, -60)

	sessions := ka.Sessions()
	require.Len(t, sessions, 1)
	s := sessions[0]
	assert.Equal(t, Key{Client: "10.0.0.2", Resolver: "1.1.1.1", Port: port}, s.Key)
	assert.Equal(t, []int{120, -300, 45, -60}, s.Lengths)
	assert.Equal(t, 4, s.Frames)
	assert.True(t, s.FirstTime.Equal(t0))
	assert.True(t, s.LastTime.Equal(t0.Add(3*time.Millisecond)))

	got, ok := ka.GetSession(s.Key)
	require.True(t, ok)
	assert.Same(t, s, got)
}

func TestRetransmissionsAreDeduplicated(t *testing.T) {
	ka, _ := newAggregator(t)
	port := uint16(config.DefaultPortStart + 1)

	ka.ProcessSegment(segment(0, clientIP, cloudflare, port, PortDoH, 10, 100))
	ka.ProcessSegment(segment(time.Millisecond, clientIP, cloudflare, port, PortDoH, 10, 100))
	// A pure ACK in between carries no TLS and does not reset the comparison.
	ka.ProcessSegment(segment(2*time.Millisecond, clientIP, cloudflare, port, PortDoH, 10))
	ka.ProcessSegment(segment(3*time.Millisecond, clientIP, cloudflare, port, PortDoH, 10, 100))
	ka.ProcessSegment(segment(4*time.Millisecond, cloudflare, clientIP, PortDoH, port, 77, 200, 30))

	s := ka.Sessions()[0]
	assert.Equal(t, []int{100, -200, -30}, s.Lengths)
	assert.Equal(t, 2, s.Retransmissions)
	assert.Equal(t, 2, ka.Stats().Retransmissions)
	assert.Equal(t, 5, s.Frames)
}

func TestIgnoresFramesWithoutResolver(t *testing.T) {
	ka, _ := newAggregator(t)
	kept := ka.ProcessSegment(segment(0, clientIP, net.ParseIP("93.184.216.34"), 40000, PortDoH, 1, 50))
	assert.False(t, kept)
	assert.False(t, ka.ProcessSegment(&protocol.Dissection{Kind: protocol.KindDNSQuery}))
	assert.Empty(t, ka.Sessions())
}

func TestFeaturesCanonicalPair(t *testing.T) {
	ka, ext := newAggregator(t)
	noPadding := uint16(ext.Strategies[0].PortLo + 5)
	block := uint16(ext.Strategies[1].PortLo + 5)

	exchange(ka, cloudflare, noPadding, PortDoH, 0, 120, -300, 45, -60)
	exchange(ka, quad9, block, PortDoT, time.Second, 80, -400)

	features, err := ka.Features()
	require.NoError(t, err)
	require.Len(t, features, 2)

	assert.Equal(t, "doh_Cloudflare", features[0].Resolver.Key)
	assert.Equal(t, "no_padding", features[0].Strategy.Name)
	assert.Equal(t, []int{-300, 45}, features[0].Pair)
	assert.False(t, features[0].Degraded)

	assert.Equal(t, "dot_Quad9", features[1].Resolver.Key)
	assert.Equal(t, "block_468", features[1].Strategy.Name)
	assert.Equal(t, []int{80, -400}, features[1].Pair)
	assert.True(t, features[1].Raw.FirstTime.Equal(t0.Add(time.Second)))
	assert.Equal(t, 2, ka.Stats().Sessions)
}

func TestFeaturesPositionalDefault(t *testing.T) {
	tests := []struct {
		name     string
		resolver net.IP
		server   uint16
		values   []int
		want     []int
	}{
		{"doh short", cloudflare, PortDoH, []int{120, -300}, []int{-300}},
		{"doh single", cloudflare, PortDoH, []int{120}, []int{}},
		{"dot single", quad9, PortDoT, []int{90}, []int{90}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ka, ext := newAggregator(t)
			exchange(ka, tt.resolver, uint16(ext.PortStart), tt.server, 0, tt.values...)

			features, err := ka.Features()
			require.NoError(t, err)
			require.Len(t, features, 1)
			assert.True(t, features[0].Degraded)
			assert.Equal(t, tt.want, features[0].Pair)
			assert.Equal(t, 1, ka.Stats().Degraded)
		})
	}
}

func TestFeaturesSkipEmptySessions(t *testing.T) {
	ka, ext := newAggregator(t)
	port := uint16(ext.PortStart)
	ka.ProcessSegment(segment(0, clientIP, cloudflare, port, PortDoH, 1))
	ka.ProcessSegment(segment(time.Millisecond, cloudflare, clientIP, PortDoH, port, 1))

	features, err := ka.Features()
	require.NoError(t, err)
	assert.Empty(t, features)
	assert.Equal(t, 1, ka.Stats().Empty)
}

func TestFeaturesErrors(t *testing.T) {
	t.Run("unknown transport", func(t *testing.T) {
		ka, ext := newAggregator(t)
		ka.ProcessSegment(segment(0, clientIP, cloudflare, uint16(ext.PortStart), 8443, 1, 10))
		_, err := ka.Features()
		assert.ErrorIs(t, err, ErrUnresolvedSession)
	})

	t.Run("contradictory ports", func(t *testing.T) {
		ka, _ := newAggregator(t)
		ka.ProcessSegment(segment(0, clientIP, cloudflare, PortDoT, PortDoH, 1, 10))
		_, err := ka.Features()
		assert.ErrorIs(t, err, ErrUnresolvedSession)
	})

	t.Run("unconfigured resolver", func(t *testing.T) {
		ka, ext := newAggregator(t)
		// Quad9 is only configured for DoT.
		ka.ProcessSegment(segment(0, clientIP, quad9, uint16(ext.PortStart), PortDoH, 1, 10))
		_, err := ka.Features()
		assert.ErrorIs(t, err, ErrUnconfiguredResolver)
	})

	t.Run("port outside ranges", func(t *testing.T) {
		ka, _ := newAggregator(t)
		ka.ProcessSegment(segment(0, clientIP, cloudflare, 1024, PortDoH, 1, 10))
		_, err := ka.Features()
		assert.ErrorIs(t, err, portclass.ErrPortOutOfRange)
	})
}

func TestCanonicalPairDirect(t *testing.T) {
	r := &config.Resolver{Type: config.TypeDoT, UpIndex: 2, DownIndex: 5}
	pair, degraded := canonicalPair(r, []int{1, -2, 3, -4, 5, -6})
	assert.False(t, degraded)
	assert.Equal(t, []int{3, -6}, pair)

	pair, degraded = canonicalPair(r, []int{1, -2, 3})
	assert.True(t, degraded)
	assert.Equal(t, []int{1, -2}, pair)
}
