// Package records exports one row per plain-text DNS message of a capture.
package records

import (
	"Go2DNSPrint/internal/config"
	"Go2DNSPrint/internal/engine/protocol"
	"Go2DNSPrint/internal/engine/windowaggregator"
	"Go2DNSPrint/internal/logger"
	"Go2DNSPrint/pkg/pcap"
	"fmt"
	"strconv"
	"time"
)

// Directions of a record.
const (
	DirectionQuery  = "query"
	DirectionAnswer = "answer"
)

// Header names the columns of Record.Strings.
var Header = []string{"device_name", "device_class", "length", "iat", "nb_queries", "type", "ancount", "direction"}

// Record describes one DNS message.
type Record struct {
	Label     string
	Class     string
	Length    int
	IAT       float64 // answers repeat the IAT of the last query
	Queries   int     // queries of the whole capture
	QueryType uint16
	Answers   int
	Direction string
}

// Strings renders the record in Header order.
func (r Record) Strings() []string {
	return []string{
		r.Label,
		r.Class,
		strconv.Itoa(r.Length),
		strconv.FormatFloat(r.IAT, 'f', -1, 64),
		strconv.Itoa(r.Queries),
		strconv.Itoa(int(r.QueryType)),
		strconv.Itoa(r.Answers),
		r.Direction,
	}
}

// Rows flattens the records of several captures, in order, into CSV rows.
// header leads them with Header.
func Rows(perCapture [][]Record, header bool) [][]string {
	var rows [][]string
	if header {
		rows = append(rows, Header)
	}
	for _, recs := range perCapture {
		for _, r := range recs {
			rows = append(rows, r.Strings())
		}
	}
	return rows
}

// Exporter extracts records from plain-text captures.
type Exporter struct {
	ext       *config.Extraction
	dissector *protocol.Dissector
}

// NewExporter creates an exporter for ext.
func NewExporter(ext *config.Extraction) *Exporter {
	return &Exporter{ext: ext, dissector: protocol.NewDissector(protocol.Options{})}
}

// Extract returns the records of every port 53 DNS message in path, in
// capture order. A capture cut mid-frame keeps the records read so far.
func (e *Exporter) Extract(path, label string) ([]Record, error) {
	reader, err := pcap.NewReader(path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	class := e.ext.DeviceClass(label)
	var (
		out      []Record
		previous time.Time
		iat      float64
		queries  int
	)
	for reader.Next() {
		d, err := e.dissector.Dissect(reader.Frame())
		if err != nil {
			logger.Debugf("Skipping frame in %s: %v", path, err)
			continue
		}
		if d.DNS == nil {
			continue
		}
		r := Record{
			Label:     label,
			Class:     class,
			Length:    d.DNS.Length,
			QueryType: uint16(d.DNS.QueryType),
		}
		if d.Kind == protocol.KindDNSQuery {
			queries++
			iat = 0
			if !previous.IsZero() {
				iat = windowaggregator.RoundIAT(d.Timestamp.Sub(previous))
			}
			previous = d.Timestamp
			r.Direction = DirectionQuery
		} else {
			r.Direction = DirectionAnswer
			r.Answers = d.DNS.AnswerCount
		}
		r.IAT = iat
		out = append(out, r)
	}
	if err := reader.Err(); err != nil {
		logger.Warnf("Records of %s stop at frame %d: %v", path, reader.Count(), err)
	}

	for i := range out {
		out[i].Queries = queries
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no DNS message in %s", path)
	}
	return out, nil
}
