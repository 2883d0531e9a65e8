package pcap

import (
	"Go2DNSPrint/internal/core/model"
	"Go2DNSPrint/pkg/pcap/pcaptest"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	client   = pcaptest.Endpoint{IP: net.ParseIP("10.0.0.2"), Port: 40000}
	resolver = pcaptest.Endpoint{IP: net.ParseIP("10.0.0.1"), Port: 53}
	base     = time.Unix(1700000000, 0)
)

func sampleBuilder() *pcaptest.Builder {
	return pcaptest.NewBuilder().
		DNSQuery(base, client, resolver, 1, "example.com", layers.DNSTypeA).
		DNSResponse(base.Add(20*time.Millisecond), resolver, client, 1, "example.com", net.ParseIP("93.184.216.34")).
		DNSQuery(base.Add(300*time.Millisecond), client, resolver, 2, "example.org", layers.DNSTypeAAAA)
}

func writeSample(t *testing.T, ng bool) string {
	t.Helper()
	name := "sample.pcap"
	if ng {
		name = "sample.pcapng"
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, sampleBuilder().WriteFile(path, ng))
	return path
}

func readAll(t *testing.T, r *Reader) []model.Frame {
	t.Helper()
	var frames []model.Frame
	for r.Next() {
		frames = append(frames, r.Frame())
	}
	return frames
}

func TestReaderPcap(t *testing.T) {
	reader, err := NewReader(writeSample(t, false))
	require.NoError(t, err)
	defer reader.Close()

	assert.Equal(t, FormatPcap, reader.Format())
	assert.Equal(t, layers.LinkTypeEthernet, reader.LinkType())

	frames := readAll(t, reader)
	require.NoError(t, reader.Err())
	require.Len(t, frames, 3)
	assert.True(t, frames[2].Timestamp.Equal(base.Add(300*time.Millisecond)))
	assert.Equal(t, 3, reader.Count())
	assert.False(t, reader.Next(), "sequence must not restart")
}

func TestReaderPcapNGMatchesPcap(t *testing.T) {
	ng, err := NewReader(writeSample(t, true))
	require.NoError(t, err)
	defer ng.Close()
	classic, err := NewReader(writeSample(t, false))
	require.NoError(t, err)
	defer classic.Close()

	assert.Equal(t, FormatPcapNG, ng.Format())

	ngFrames := readAll(t, ng)
	classicFrames := readAll(t, classic)
	require.Len(t, ngFrames, len(classicFrames))
	for i := range ngFrames {
		assert.Equal(t, classicFrames[i].Data, ngFrames[i].Data, "frame %d", i)
		assert.True(t, classicFrames[i].Timestamp.Equal(ngFrames[i].Timestamp), "frame %d", i)
	}
}

func TestOpenCorruptFileYieldsNoFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.pcap")
	require.NoError(t, os.WriteFile(path, []byte("this is not a capture file at all"), 0644))

	_, err := NewReader(path)
	require.ErrorIs(t, err, ErrUnreadableCapture)

	reader := Open(path)
	defer reader.Close()
	assert.Empty(t, readAll(t, reader))
	assert.ErrorIs(t, reader.Err(), ErrUnreadableCapture)
	assert.Equal(t, FormatUnknown, reader.Format())
}

func TestOpenEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.pcap")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	reader := Open(path)
	assert.Empty(t, readAll(t, reader))
	assert.ErrorIs(t, reader.Err(), ErrUnreadableCapture)
}

func TestReaderMissingFile(t *testing.T) {
	_, err := NewReader(filepath.Join(t.TempDir(), "missing.pcap"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnreadableCapture)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReaderTruncatedCapture(t *testing.T) {
	path := writeSample(t, false)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-10], 0644))

	reader, err := NewReader(path)
	require.NoError(t, err)
	defer reader.Close()

	frames := readAll(t, reader)
	assert.Len(t, frames, 2)
	assert.ErrorIs(t, reader.Err(), ErrTruncatedCapture)
}

func TestReaderReadFrames(t *testing.T) {
	reader, err := NewReader(writeSample(t, true))
	require.NoError(t, err)
	defer reader.Close()

	out := make(chan model.Frame)
	go reader.ReadFrames(out)

	count := 0
	for range out {
		count++
	}
	assert.Equal(t, 3, count)
}

func TestFormatString(t *testing.T) {
	assert.Equal(t, "pcapng", FormatPcapNG.String())
	assert.Equal(t, "pcap", FormatPcap.String())
	assert.Equal(t, "unknown", Format(42).String())
}
