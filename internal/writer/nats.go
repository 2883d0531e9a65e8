package writer

import (
	"Go2DNSPrint/internal/config"
	coremodel "Go2DNSPrint/internal/core/model"
	"Go2DNSPrint/internal/logger"
	"Go2DNSPrint/internal/model"
	"fmt"

	"github.com/nats-io/nats.go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// DefaultSubject is used when the configuration names no subject.
const DefaultSubject = "dnsprint.features"

// publisher is the part of *nats.Conn the writer uses.
type publisher interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSWriter publishes every feature row as a protobuf-encoded
// structpb.Struct. The header goes once to "<subject>.header".
type NATSWriter struct {
	nc      publisher
	subject string
	rows    int
}

// NewNATSWriter connects to the NATS server at cfg.URL.
func NewNATSWriter(cfg config.NATSConfig) (model.Writer, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	logger.Infof("Connected to NATS server at %s", url)
	return newNATSWriter(nc, cfg.Subject), nil
}

func newNATSWriter(nc publisher, subject string) *NATSWriter {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSWriter{nc: nc, subject: subject}
}

// HeaderMessage encodes a header as a struct with a "columns" list.
func HeaderMessage(header []string) (*structpb.Struct, error) {
	columns := make([]interface{}, len(header))
	for i, h := range header {
		columns[i] = h
	}
	return structpb.NewStruct(map[string]interface{}{"columns": columns})
}

// RowMessage encodes a feature row as a struct with label, source and values fields.
func RowMessage(row *coremodel.FeatureRow) (*structpb.Struct, error) {
	values := make([]interface{}, len(row.Values))
	for i, v := range row.Values {
		values[i] = v
	}
	return structpb.NewStruct(map[string]interface{}{
		"label":  row.Label,
		"source": row.Source,
		"values": values,
	})
}

// WriteHeader publishes the header.
func (w *NATSWriter) WriteHeader(header []string) error {
	msg, err := HeaderMessage(header)
	if err != nil {
		return err
	}
	return w.publish(w.subject+".header", msg)
}

// WriteRow publishes one row.
func (w *NATSWriter) WriteRow(row *coremodel.FeatureRow) error {
	msg, err := RowMessage(row)
	if err != nil {
		return fmt.Errorf("failed to encode row for %s: %w", row.Source, err)
	}
	if err := w.publish(w.subject, msg); err != nil {
		return err
	}
	w.rows++
	return nil
}

func (w *NATSWriter) publish(subject string, msg proto.Message) error {
	data, err := proto.Marshal(msg)
	if err != nil {
		return err
	}
	return w.nc.Publish(subject, data)
}

// Close drains and closes the NATS connection.
func (w *NATSWriter) Close() error {
	if err := w.nc.Drain(); err != nil {
		return err
	}
	logger.Infof("Published %d feature rows on %s, NATS connection drained.", w.rows, w.subject)
	return nil
}

// Name implements model.Writer.
func (w *NATSWriter) Name() string { return "nats" }
