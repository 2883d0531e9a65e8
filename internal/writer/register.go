package writer

import (
	"Go2DNSPrint/internal/config"
	"Go2DNSPrint/internal/factory"
	"Go2DNSPrint/internal/model"
)

func init() {
	factory.RegisterWriter("csv", func(def config.WriterDef) (model.Writer, error) {
		return NewCSVWriter(def.CSV)
	})
	factory.RegisterWriter("clickhouse", func(def config.WriterDef) (model.Writer, error) {
		return NewClickHouseWriter(def.ClickHouse)
	})
	factory.RegisterWriter("nats", func(def config.WriterDef) (model.Writer, error) {
		return NewNATSWriter(def.NATS)
	})
}
