package writer

import (
	"Go2DNSPrint/internal/config"
	coremodel "Go2DNSPrint/internal/core/model"
	"Go2DNSPrint/internal/logger"
	"Go2DNSPrint/internal/model"
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// DefaultClickHouseTable is used when the configuration names no table.
const DefaultClickHouseTable = "dns_feature_rows"

const createTableStatement = `
CREATE TABLE IF NOT EXISTS %s (
    Timestamp   DateTime,
    Label       String,
    Source      String,
    Features    Array(Float64)
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Label, Timestamp);
`

// batchSize is the number of rows buffered before a batch is sent.
const batchSize = 256

// ClickHouseWriter inserts feature rows into a ClickHouse table. Rows are
// buffered and sent in batches; Close sends the remainder.
type ClickHouseWriter struct {
	conn    driver.Conn
	table   string
	started time.Time
	buffer  []*coremodel.FeatureRow
	rows    int
}

// NewClickHouseWriter connects to ClickHouse and ensures the table exists.
func NewClickHouseWriter(cfg config.ClickHouseConfig) (model.Writer, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	table := cfg.Table
	if table == "" {
		table = DefaultClickHouseTable
	}
	if err := conn.Exec(context.Background(), fmt.Sprintf(createTableStatement, table)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	logger.Infof("Successfully connected to ClickHouse and ensured table %s exists.", table)

	return newClickHouseWriter(conn, table), nil
}

func newClickHouseWriter(conn driver.Conn, table string) *ClickHouseWriter {
	return &ClickHouseWriter{conn: conn, table: table, started: time.Now()}
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// WriteHeader is a no-op: the column layout lives in the Features array order.
func (w *ClickHouseWriter) WriteHeader([]string) error { return nil }

// WriteRow buffers row and sends the buffer once it is full.
func (w *ClickHouseWriter) WriteRow(row *coremodel.FeatureRow) error {
	w.buffer = append(w.buffer, row)
	if len(w.buffer) < batchSize {
		return nil
	}
	return w.flush()
}

func (w *ClickHouseWriter) flush() error {
	if len(w.buffer) == 0 {
		return nil
	}
	batch, err := w.conn.PrepareBatch(context.Background(), "INSERT INTO "+w.table)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, row := range w.buffer {
		if err := batch.Append(w.started, row.Label, row.Source, row.Values); err != nil {
			return fmt.Errorf("failed to append row for %s to batch: %w", row.Source, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	w.rows += len(w.buffer)
	logger.Debugf("Wrote %d feature rows to ClickHouse table %s", len(w.buffer), w.table)
	w.buffer = w.buffer[:0]
	return nil
}

// Close sends the buffered rows and closes the connection.
func (w *ClickHouseWriter) Close() error {
	err := w.flush()
	logger.Infof("Wrote %d feature rows to ClickHouse table %s", w.rows, w.table)
	if cerr := w.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// Name implements model.Writer.
func (w *ClickHouseWriter) Name() string { return "clickhouse" }
