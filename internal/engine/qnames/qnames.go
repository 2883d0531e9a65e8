// Package qnames builds one-hot rows of the DNS names a device queries.
package qnames

import (
	"Go2DNSPrint/internal/config"
	"Go2DNSPrint/internal/engine/protocol"
	"Go2DNSPrint/internal/engine/vector"
	"Go2DNSPrint/internal/logger"
	"Go2DNSPrint/pkg/pcap"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/gopacket/layers"
	"github.com/miekg/dns"
)

// ErrUnknownDevice is returned for a capture whose device has no configured
// MAC address. It invalidates the whole run.
var ErrUnknownDevice = errors.New("device has no configured mac address")

// DeviceDir is the directory whose child names the device of a capture.
const DeviceDir = "dns_only"

// Complete is the form keeping the whole name.
const Complete = "complete"

// Form reduces a query name to one of its configured shapes.
type Form struct {
	Name   string
	labels int // 0 keeps every label
}

// ParseForm accepts Complete or a positive number of trailing labels.
func ParseForm(s string) (Form, error) {
	if s == Complete {
		return Form{Name: s}, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return Form{}, fmt.Errorf("invalid qname type '%s'", s)
	}
	return Form{Name: s, labels: n}, nil
}

// Apply lower-cases name and keeps its trailing labels.
func (f Form) Apply(name string) string {
	canonical := strings.TrimSuffix(dns.CanonicalName(name), ".")
	if f.labels == 0 {
		return canonical
	}
	labels := dns.SplitDomainName(canonical)
	if len(labels) > f.labels {
		labels = labels[len(labels)-f.labels:]
	}
	return strings.Join(labels, ".")
}

// DeviceOf returns the path component following DeviceDir.
func DeviceOf(path string) (string, bool) {
	parts := strings.Split(filepath.ToSlash(path), "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == DeviceDir {
			return parts[i+1], true
		}
	}
	return "", false
}

// Extractor collects the query names of plain-text captures.
type Extractor struct {
	forms      []Form
	macs       map[string][]byte
	maxQueries int
}

// New creates an extractor keeping at most maxQueries names per capture.
func New(cfg config.QNamesConfig, maxQueries int) (*Extractor, error) {
	e := &Extractor{macs: make(map[string][]byte, len(cfg.MACAddresses)), maxQueries: maxQueries}
	for _, s := range cfg.QNameTypes {
		f, err := ParseForm(s)
		if err != nil {
			return nil, err
		}
		e.forms = append(e.forms, f)
	}
	if len(e.forms) == 0 {
		return nil, fmt.Errorf("no qname type configured")
	}
	for device, s := range cfg.MACAddresses {
		mac, err := config.ParseMAC(s)
		if err != nil {
			return nil, fmt.Errorf("invalid mac address for device %s: %w", device, err)
		}
		e.macs[device] = mac
	}
	return e, nil
}

// Forms returns the configured forms in order.
func (e *Extractor) Forms() []Form { return e.forms }

// Names returns the device of path and, per form, the names of the queries
// the device sent. A capture without queries yields no names.
func (e *Extractor) Names(path string) (string, map[string][]string, error) {
	device, ok := DeviceOf(path)
	if !ok {
		return "", nil, fmt.Errorf("%w: no %s directory in %s", ErrUnknownDevice, DeviceDir, path)
	}
	mac, ok := e.macs[device]
	if !ok {
		return device, nil, fmt.Errorf("%w: %s", ErrUnknownDevice, device)
	}

	dissector := protocol.NewDissector(protocol.Options{SrcMAC: mac})
	reader := pcap.Open(path)
	defer reader.Close()

	var queried []string
	for reader.Next() && len(queried) < e.maxQueries {
		d, err := dissector.Dissect(reader.Frame())
		if err != nil || d.DNS == nil || d.FiveTuple.Protocol != uint8(layers.IPProtocolUDP) {
			continue
		}
		if d.DNS.Opcode != layers.DNSOpCodeQuery || d.DNS.Questions == 0 {
			continue
		}
		queried = append(queried, d.DNS.QueryName)
	}
	if err := reader.Err(); err != nil {
		logger.Warnf("Query names of %s stop at frame %d: %v", path, reader.Count(), err)
	}
	if len(queried) == 0 {
		return device, nil, nil
	}

	names := make(map[string][]string, len(e.forms))
	for _, f := range e.forms {
		for _, q := range queried {
			names[f.Name] = append(names[f.Name], f.Apply(q))
		}
	}
	return device, names, nil
}

type entry struct {
	index int
	label string
	names map[string][]string
}

// Table gathers per-capture names and the vocabulary of each form. Add may
// be called concurrently; rows come out in index order.
type Table struct {
	mu      sync.Mutex
	forms   []Form
	vocab   map[string]map[string]struct{}
	entries []entry
}

// NewTable creates an empty table for forms.
func NewTable(forms []Form) *Table {
	t := &Table{forms: forms, vocab: make(map[string]map[string]struct{}, len(forms))}
	for _, f := range forms {
		t.vocab[f.Name] = make(map[string]struct{})
	}
	return t
}

// Add records the names of the index-th capture.
func (t *Table) Add(index int, label string, names map[string][]string) {
	if len(names) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for form, list := range names {
		for _, n := range list {
			t.vocab[form][n] = struct{}{}
		}
	}
	t.entries = append(t.entries, entry{index: index, label: label, names: names})
}

// Vocabulary returns the sorted names seen for form.
func (t *Table) Vocabulary(form string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.vocabulary(form)
}

func (t *Table) vocabulary(form string) []string {
	words := make([]string, 0, len(t.vocab[form]))
	for w := range t.vocab[form] {
		words = append(words, w)
	}
	sort.Strings(words)
	return words
}

// Header returns the label column followed by every form's vocabulary.
func (t *Table) Header() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	header := []string{vector.LabelColumn}
	for _, f := range t.forms {
		header = append(header, t.vocabulary(f.Name)...)
	}
	return header
}

// Rows returns one 0/1 row per capture that queried at least one name.
func (t *Table) Rows() [][]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := append([]entry(nil), t.entries...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].index < entries[j].index })

	vocabs := make([][]string, len(t.forms))
	for i, f := range t.forms {
		vocabs[i] = t.vocabulary(f.Name)
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		row := []string{e.label}
		for i, f := range t.forms {
			present := make(map[string]bool, len(e.names[f.Name]))
			for _, n := range e.names[f.Name] {
				present[n] = true
			}
			for _, w := range vocabs[i] {
				if present[w] {
					row = append(row, "1")
				} else {
					row = append(row, "0")
				}
			}
		}
		rows = append(rows, row)
	}
	return rows
}
