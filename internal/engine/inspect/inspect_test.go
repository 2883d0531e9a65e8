package inspect

import (
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
	t0     = time.Unix(1700000000, 0)
	device = pcaptest.Endpoint{IP: net.ParseIP("10.0.0.2"), Port: 40000}
	local  = pcaptest.Endpoint{IP: net.ParseIP("10.0.0.1"), Port: 53}
	google = pcaptest.Endpoint{IP: net.ParseIP("8.8.8.8"), Port: 53}
	quad9  = pcaptest.Endpoint{IP: net.ParseIP("9.9.9.9"), Port: 53}
)

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, b *pcaptest.Builder) string {
		path := filepath.Join(dir, name)
		require.NoError(t, b.WriteFile(path, false))
		return path
	}

	a := write("a.pcap", pcaptest.NewBuilder().
		DNSQuery(t0, device, local, 1, "a.example", layers.DNSTypeA).
		DNSResponse(t0.Add(time.Millisecond), local, device, 1, "a.example").
		DNSQuery(t0.Add(time.Second), device, google, 2, "b.example", layers.DNSTypeA).
		DNSQuery(t0.Add(2*time.Second), device, google, 3, "c.example", layers.DNSTypeA))
	b := write("b.pcap", pcaptest.NewBuilder().
		DNSQuery(t0, device, quad9, 1, "a.example", layers.DNSTypeA))
	empty := write("empty.pcap", pcaptest.NewBuilder())
	junk := filepath.Join(dir, "junk.pcap")
	require.NoError(t, os.WriteFile(junk, []byte("junk"), 0644))

	report := Inspect([]string{a, b, empty, junk})
	assert.Equal(t, []FileCount{{a, 3}, {b, 1}, {empty, 0}, {junk, 0}}, report.Files)
	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 0.5, report.Median)
	assert.Equal(t, 2.0, report.MedianNonZero)
	assert.Equal(t, []Destination{{"9.9.9.9", 1}, {"8.8.8.8", 2}}, report.Destinations)
	assert.Equal(t, 1, report.UnreadableFiles)
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 0.0, Median(nil))
	assert.Equal(t, 3.0, Median([]float64{5, 1, 3}))
	assert.Equal(t, 2.5, Median([]float64{4, 1, 3, 2}))
}
