// Package inspect summarises the plain DNS queries of a set of captures.
package inspect

import (
	"Go2DNSPrint/internal/engine/protocol"
	"Go2DNSPrint/internal/logger"
	"Go2DNSPrint/pkg/pcap"
	"net"
	"sort"

	"github.com/google/gopacket/layers"
)

// localNet is excluded from the destination histogram.
var localNet = &net.IPNet{IP: net.IPv4(10, 0, 0, 0), Mask: net.CIDRMask(8, 32)}

// Destination is one entry of the resolver histogram.
type Destination struct {
	IP      string
	Queries int
}

// FileCount is the number of queries of one capture.
type FileCount struct {
	Path    string
	Queries int
}

// Report is the summary of a set of captures.
type Report struct {
	Files           []FileCount
	Total           int
	Median          float64
	MedianNonZero   float64
	Destinations    []Destination // ascending by count
	UnreadableFiles int
}

// Inspect counts the UDP queries to port 53 with opcode QUERY of every path.
func Inspect(paths []string) *Report {
	dissector := protocol.NewDissector(protocol.Options{})
	report := &Report{}
	histogram := make(map[string]int)

	for _, path := range paths {
		reader := pcap.Open(path)
		n := 0
		for reader.Next() {
			d, err := dissector.Dissect(reader.Frame())
			if err != nil || d.DNS == nil {
				continue
			}
			ft := d.FiveTuple
			if ft.Protocol != uint8(layers.IPProtocolUDP) || ft.DstPort != protocol.DNSPort || d.DNS.Opcode != layers.DNSOpCodeQuery {
				continue
			}
			n++
			if !localNet.Contains(ft.DstIP) {
				histogram[ft.DstIP.String()]++
			}
		}
		if reader.Err() != nil && reader.Count() == 0 {
			report.UnreadableFiles++
		}
		reader.Close()
		logger.Debugf("%s: %d queries", path, n)
		report.Files = append(report.Files, FileCount{Path: path, Queries: n})
		report.Total += n
	}

	var all, nonZero []float64
	for _, f := range report.Files {
		all = append(all, float64(f.Queries))
		if f.Queries > 0 {
			nonZero = append(nonZero, float64(f.Queries))
		}
	}
	report.Median = Median(all)
	report.MedianNonZero = Median(nonZero)

	for ip, n := range histogram {
		report.Destinations = append(report.Destinations, Destination{IP: ip, Queries: n})
	}
	sort.Slice(report.Destinations, func(i, j int) bool {
		a, b := report.Destinations[i], report.Destinations[j]
		if a.Queries != b.Queries {
			return a.Queries < b.Queries
		}
		return a.IP < b.IP
	})
	return report
}

// Median returns the middle value of xs, averaging the two middle values
// of an even-sized set. It is 0 for an empty set.
func Median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
