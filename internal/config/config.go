package config

import (
	"Go2DNSPrint/internal/logger"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied by LoadConfig when a field is left empty.
const (
	DefaultPortStart        = 32768
	DefaultPortEnd          = 60999
	DefaultMaxNbQuery       = 20
	DefaultLengthMultiplier = 2
)

// DefaultTimeWindows are the cumulative windows, in seconds, features are computed over.
var DefaultTimeWindows = []int{1, 2, 5, 10, 20, 30, 60, 2 * 60, 3 * 60, 5 * 60}

// LoggingConfig holds the logger settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Logger converts the section into the logger's configuration.
func (l LoggingConfig) Logger() (logger.Config, error) {
	level, err := logger.ParseLogLevel(l.Level)
	if err != nil {
		return logger.Config{}, err
	}
	return logger.Config{
		LogLevel:   level,
		LogFile:    l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
	}, nil
}

// ResolverDef is one encrypted DNS resolver as written in the config file.
type ResolverDef struct {
	Name      string   `yaml:"name"`
	IPs       []string `yaml:"ips"`
	UpIndex   int      `yaml:"up_index"`
	DownIndex int      `yaml:"down_index"`
}

// ResolverGroup lists the resolvers of one transport type (doh or dot).
type ResolverGroup struct {
	Type      string
	Resolvers []ResolverDef
}

// ResolverSet keeps resolver groups in the order they appear in the file.
type ResolverSet []ResolverGroup

// UnmarshalYAML decodes a `type: [resolvers...]` mapping without losing key order.
func (s *ResolverSet) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: resolvers must be a mapping of type to resolver list", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		var group ResolverGroup
		group.Type = node.Content[i].Value
		if err := node.Content[i+1].Decode(&group.Resolvers); err != nil {
			return fmt.Errorf("resolvers of type '%s': %w", group.Type, err)
		}
		*s = append(*s, group)
	}
	return nil
}

// PaddingStrategyDef is one padding strategy and its padding value(s).
type PaddingStrategyDef struct {
	Name    string
	Padding []int
}

// PaddingStrategySet keeps strategies in configured order; the order decides
// which port range each strategy receives.
type PaddingStrategySet []PaddingStrategyDef

// UnmarshalYAML accepts `name: value`, `name: [values]` or `name: null` entries.
func (s *PaddingStrategySet) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: padding_strategies must be a mapping of name to padding", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		def := PaddingStrategyDef{Name: node.Content[i].Value}
		value := node.Content[i+1]
		switch value.Kind {
		case yaml.SequenceNode:
			if err := value.Decode(&def.Padding); err != nil {
				return fmt.Errorf("padding strategy '%s': %w", def.Name, err)
			}
		case yaml.ScalarNode:
			if value.Tag != "!!null" {
				var v int
				if err := value.Decode(&v); err != nil {
					return fmt.Errorf("padding strategy '%s': %w", def.Name, err)
				}
				def.Padding = []int{v}
			}
		default:
			return fmt.Errorf("line %d: padding strategy '%s' has an unsupported value", value.Line, def.Name)
		}
		*s = append(*s, def)
	}
	return nil
}

// PortRangeConfig is the ephemeral port interval [start, end) split between strategies.
type PortRangeConfig struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// Window is a time window read either as a number of seconds or as a Go duration string.
type Window time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (w *Window) UnmarshalYAML(node *yaml.Node) error {
	if secs, err := strconv.ParseFloat(node.Value, 64); err == nil {
		*w = Window(time.Duration(secs * float64(time.Second)))
		return nil
	}
	d, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid time window '%s': %w", node.Line, node.Value, err)
	}
	*w = Window(d)
	return nil
}

// ExtractionConfig holds the static extraction parameters.
type ExtractionConfig struct {
	MaxNbQuery       int               `yaml:"max_nb_query"`
	LengthMultiplier int               `yaml:"length_multiplier"`
	TimeWindows      []Window          `yaml:"time_windows"`
	DeviceMAC        string            `yaml:"device_mac"`
	DeviceClasses    map[string]string `yaml:"device_classes"`
}

// BatchConfig controls the per-file worker pool.
type BatchConfig struct {
	NumWorkers int    `yaml:"num_workers"`
	Timeout    string `yaml:"timeout"`
}

// CSVConfig holds the settings of the delimited output artifact.
type CSVConfig struct {
	Path        string `yaml:"path"`
	Truncate    bool   `yaml:"truncate"`
	WriteHeader bool   `yaml:"write_header"`
}

// ClickHouseConfig holds the connection settings of the ClickHouse writer.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Table    string `yaml:"table"`
}

// NATSConfig holds the settings of the NATS writer.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// WriterDef defines one output writer.
type WriterDef struct {
	Type       string           `yaml:"type"`
	Enabled    bool             `yaml:"enabled"`
	CSV        CSVConfig        `yaml:"csv"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	NATS       NATSConfig       `yaml:"nats"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// APIConfig holds the HTTP API settings.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	// CaptureRoot confines the capture paths the API accepts. Relative
	// request paths are resolved against it.
	CaptureRoot string `yaml:"capture_root"`
}

// QNamesConfig holds the settings of the query-name one-hot extraction.
type QNamesConfig struct {
	QNameTypes   []string          `yaml:"qname_types"`
	MACAddresses map[string]string `yaml:"mac_addresses"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Logging           LoggingConfig      `yaml:"logging"`
	Resolvers         ResolverSet        `yaml:"resolvers"`
	PaddingStrategies PaddingStrategySet `yaml:"padding_strategies"`
	Ports             PortRangeConfig    `yaml:"ports"`
	Extraction        ExtractionConfig   `yaml:"extraction"`
	Batch             BatchConfig        `yaml:"batch"`
	Writers           []WriterDef        `yaml:"writers"`
	Metrics           MetricsConfig      `yaml:"metrics"`
	API               APIConfig          `yaml:"api"`
	QNames            QNamesConfig       `yaml:"qnames"`
}

// LoadConfig reads the configuration from a YAML (or JSON) file and returns a Config struct.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a configuration document and applies defaults.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Ports.Start == 0 && c.Ports.End == 0 {
		c.Ports.Start = DefaultPortStart
		c.Ports.End = DefaultPortEnd
	}
	if c.Extraction.MaxNbQuery == 0 {
		c.Extraction.MaxNbQuery = DefaultMaxNbQuery
	}
	if c.Extraction.LengthMultiplier == 0 {
		c.Extraction.LengthMultiplier = DefaultLengthMultiplier
	}
	if len(c.Extraction.TimeWindows) == 0 {
		for _, secs := range DefaultTimeWindows {
			c.Extraction.TimeWindows = append(c.Extraction.TimeWindows, Window(time.Duration(secs)*time.Second))
		}
	}
	if c.Batch.NumWorkers <= 0 {
		c.Batch.NumWorkers = 1
	}
	if len(c.QNames.QNameTypes) == 0 {
		c.QNames.QNameTypes = []string{"complete", "4", "3"}
	}
}

// BatchTimeout returns the configured wall-time bound of a batch, zero meaning unbounded.
func (c *Config) BatchTimeout() (time.Duration, error) {
	if c.Batch.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Batch.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid batch timeout: %w", err)
	}
	return d, nil
}
