package records

import (
	"Go2DNSPrint/internal/config"
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

const testConfig = `
resolvers:
  doh:
    - {name: Cloudflare, ips: ["1.1.1.1"], up_index: 1, down_index: 2}
padding_strategies: {no_padding: 0}
extraction:
  device_classes: {echodot4: Speaker}
`

var (
	t0        = time.Unix(1700000000, 0)
	device    = pcaptest.Endpoint{IP: net.ParseIP("10.0.0.2"), Port: 40000}
	dnsServer = pcaptest.Endpoint{IP: net.ParseIP("10.0.0.1"), Port: 53}
)

func newExporter(t *testing.T) *Exporter {
	t.Helper()
	cfg, err := config.ParseConfig([]byte(testConfig))
	require.NoError(t, err)
	ext, err := cfg.Build()
	require.NoError(t, err)
	return NewExporter(ext)
}

func TestExtract(t *testing.T) {
	b := pcaptest.NewBuilder().
		DNSQuery(t0, device, dnsServer, 1, "www.example.com", layers.DNSTypeA).
		DNSResponse(t0.Add(20*time.Millisecond), dnsServer, device, 1, "www.example.com", net.ParseIP("93.184.216.34")).
		DNSQuery(t0.Add(1260*time.Millisecond), device, dnsServer, 2, "www.example.com", layers.DNSTypeAAAA).
		TLSSegment(t0.Add(2*time.Second), device, pcaptest.Endpoint{IP: net.ParseIP("1.1.1.1"), Port: 443}, 1, pcaptest.AppData(50))
	path := filepath.Join(t.TempDir(), "clear.pcap")
	require.NoError(t, b.WriteFile(path, false))

	got, err := newExporter(t).Extract(path, "echodot4")
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, Record{Label: "echodot4", Class: "Speaker", Length: 33, IAT: 0, Queries: 2, QueryType: 1, Direction: DirectionQuery}, got[0])
	assert.Equal(t, Record{Label: "echodot4", Class: "Speaker", Length: 64, IAT: 0, Queries: 2, QueryType: 1, Answers: 1, Direction: DirectionAnswer}, got[1])
	assert.Equal(t, 1.3, got[2].IAT)
	assert.Equal(t, uint16(28), got[2].QueryType)

	assert.Equal(t, []string{"echodot4", "Speaker", "33", "0", "2", "1", "0", "query"}, got[0].Strings())
	assert.Len(t, got[0].Strings(), len(Header))
}

func TestExtractDefaultClassAndErrors(t *testing.T) {
	e := newExporter(t)
	dir := t.TempDir()

	path := filepath.Join(dir, "one.pcap")
	require.NoError(t, pcaptest.NewBuilder().
		DNSQuery(t0, device, dnsServer, 1, "a.example", layers.DNSTypeA).
		WriteFile(path, true))
	got, err := e.Extract(path, "kettle")
	require.NoError(t, err)
	assert.Equal(t, "Appliance", got[0].Class)

	empty := filepath.Join(dir, "empty.pcap")
	require.NoError(t, pcaptest.NewBuilder().WriteFile(empty, false))
	_, err = e.Extract(empty, "kettle")
	assert.Error(t, err)

	corrupt := filepath.Join(dir, "corrupt.pcap")
	require.NoError(t, os.WriteFile(corrupt, []byte("junk"), 0644))
	_, err = e.Extract(corrupt, "kettle")
	assert.Error(t, err)
}

func TestRows(t *testing.T) {
	q := Record{Label: "a", Class: "Speaker", Length: 33, Queries: 1, QueryType: 1, Direction: DirectionQuery}
	a := Record{Label: "b", Class: "Camera", Length: 64, Queries: 1, QueryType: 1, Answers: 1, Direction: DirectionAnswer}
	perCapture := [][]Record{{q}, nil, {a}}

	rows := Rows(perCapture, true)
	require.Len(t, rows, 3)
	assert.Equal(t, Header, rows[0])
	assert.Equal(t, q.Strings(), rows[1])
	assert.Equal(t, a.Strings(), rows[2])

	rows = Rows(perCapture, false)
	require.Len(t, rows, 2)
	assert.Equal(t, q.Strings(), rows[0])
	assert.Empty(t, Rows(nil, false))
}
