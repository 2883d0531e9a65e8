package config

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
resolvers:
  doh:
    - name: Cloudflare
      ips: ["1.1.1.1"]
      up_index: 1
      down_index: 2
  dot:
    - name: Cloudflare
      ips: ["1.1.1.1"]
      up_index: 0
      down_index: 1
    - name: Quad9
      ips: ["9.9.9.9", "149.112.112.112"]
      up_index: 0
      down_index: 1
padding_strategies:
  no_padding: 0
  block_128: 128
  random: [128, 256]
extraction:
  max_nb_query: 5
  length_multiplier: 2
  time_windows: [1, "2s", 1m]
`

func TestLoadSampleConfig(t *testing.T) {
	cfg, err := LoadConfig("../../configs/config.yaml")
	require.NoError(t, err)

	ext, err := cfg.Build()
	require.NoError(t, err)
	assert.Len(t, ext.Windows, 10)
	assert.Equal(t, 300*time.Second, ext.Windows[len(ext.Windows)-1])
	assert.Equal(t, "doh_Cloudflare", ext.Resolvers[0].Key)
	assert.Equal(t, "no_padding", ext.Strategies[0].Name)
}

func TestParseConfigPreservesOrder(t *testing.T) {
	cfg, err := ParseConfig([]byte(testConfig))
	require.NoError(t, err)

	require.Len(t, cfg.Resolvers, 2)
	assert.Equal(t, "doh", cfg.Resolvers[0].Type)
	assert.Equal(t, "dot", cfg.Resolvers[1].Type)

	require.Len(t, cfg.PaddingStrategies, 3)
	assert.Equal(t, "no_padding", cfg.PaddingStrategies[0].Name)
	assert.Equal(t, []int{0}, cfg.PaddingStrategies[0].Padding)
	assert.Equal(t, "random", cfg.PaddingStrategies[2].Name)
	assert.Equal(t, []int{128, 256}, cfg.PaddingStrategies[2].Padding)

	assert.Equal(t, DefaultPortStart, cfg.Ports.Start)
	assert.Equal(t, DefaultPortEnd, cfg.Ports.End)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestParseConfigAcceptsJSON(t *testing.T) {
	doc := `{
  "resolvers": {"doh": [{"name": "Google", "ips": ["8.8.8.8"], "up_index": 1, "down_index": 2}]},
  "padding_strategies": {"no_padding": 0, "block_468": 468},
  "extraction": {"max_nb_query": 10, "length_multiplier": 2}
}`
	cfg, err := ParseConfig([]byte(doc))
	require.NoError(t, err)

	ext, err := cfg.Build()
	require.NoError(t, err)
	assert.Equal(t, 10, ext.MaxIAT)
	assert.Equal(t, 20, ext.MaxLengths)
	assert.Equal(t, "block_468", ext.Strategies[1].Name)
	assert.Len(t, ext.Windows, len(DefaultTimeWindows))
}

func TestBuildPartitionsPortSpace(t *testing.T) {
	cfg, err := ParseConfig([]byte(testConfig))
	require.NoError(t, err)
	ext, err := cfg.Build()
	require.NoError(t, err)

	require.Len(t, ext.Strategies, 3)
	per := (DefaultPortEnd - DefaultPortStart) / 3
	assert.Equal(t, DefaultPortStart, ext.Strategies[0].PortLo)
	assert.Equal(t, DefaultPortStart+per, ext.Strategies[0].PortHi)
	for i := 1; i < len(ext.Strategies); i++ {
		assert.Equal(t, ext.Strategies[i-1].PortHi, ext.Strategies[i].PortLo, "gap or overlap before strategy %d", i)
	}
	assert.Equal(t, DefaultPortEnd, ext.Strategies[2].PortHi)
}

func TestBuildResolverIndex(t *testing.T) {
	cfg, err := ParseConfig([]byte(testConfig))
	require.NoError(t, err)
	ext, err := cfg.Build()
	require.NoError(t, err)

	assert.Equal(t, []string{"doh_Cloudflare", "dot_Cloudflare", "dot_Quad9"},
		[]string{ext.Resolvers[0].Key, ext.Resolvers[1].Key, ext.Resolvers[2].Key})

	name, ok := ext.ResolverNameByIP(net.ParseIP("149.112.112.112"))
	require.True(t, ok)
	assert.Equal(t, "Quad9", name)
	assert.False(t, ext.IsResolverIP(net.ParseIP("10.0.0.2")))

	r, ok := ext.ResolverByKey("dot_Quad9")
	require.True(t, ok)
	assert.Equal(t, 2, r.Index)
	_, ok = ext.ResolverByKey("doh_Quad9")
	assert.False(t, ok)

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, time.Minute}, ext.Windows)
	assert.Equal(t, "60", WindowLabel(time.Minute))
	assert.Equal(t, "1.5s", WindowLabel(1500*time.Millisecond))
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"down not after up", `
resolvers: {doh: [{name: A, ips: [1.1.1.1], up_index: 2, down_index: 2}]}
padding_strategies: {p: 0}`},
		{"unknown type", `
resolvers: {doq: [{name: A, ips: [1.1.1.1], up_index: 0, down_index: 1}]}
padding_strategies: {p: 0}`},
		{"no strategy", `
resolvers: {doh: [{name: A, ips: [1.1.1.1], up_index: 0, down_index: 1}]}`},
		{"shared ip", `
resolvers: {doh: [{name: A, ips: [1.1.1.1], up_index: 0, down_index: 1}, {name: B, ips: [1.1.1.1], up_index: 0, down_index: 1}]}
padding_strategies: {p: 0}`},
		{"descending windows", `
resolvers: {doh: [{name: A, ips: [1.1.1.1], up_index: 0, down_index: 1}]}
padding_strategies: {p: 0}
extraction: {time_windows: [5, 2]}`},
		{"bad ip", `
resolvers: {doh: [{name: A, ips: [not-an-ip], up_index: 0, down_index: 1}]}
padding_strategies: {p: 0}`},
		{"too many strategies", `
resolvers: {doh: [{name: A, ips: [1.1.1.1], up_index: 0, down_index: 1}]}
padding_strategies: {a: 0, b: 1, c: 2}
ports: {start: 100, end: 102}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseConfig([]byte(tt.doc))
			require.NoError(t, err)
			_, err = cfg.Build()
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestBatchTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batch: {timeout: 90s}\n"), 0644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	d, err := cfg.BatchTimeout()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)
	assert.Equal(t, 1, cfg.Batch.NumWorkers)
}

func TestParseMAC(t *testing.T) {
	mac, err := ParseMAC("0:2d:b3:2:e:70")
	require.NoError(t, err)
	assert.Equal(t, "00:2d:b3:02:0e:70", mac.String())

	_, err = ParseMAC("not-a-mac")
	assert.Error(t, err)
}

func TestLoggingConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte("logging: {level: debug, file: x.log, max_backups: 2}"))
	require.NoError(t, err)
	lc, err := cfg.Logging.Logger()
	require.NoError(t, err)
	assert.Equal(t, "x.log", lc.LogFile)
	assert.Equal(t, 100, lc.MaxSizeMB)
	assert.Equal(t, 2, lc.MaxBackups)
	assert.Equal(t, "DEBUG", lc.LogLevel.String())

	cfg.Logging.Level = "loud"
	_, err = cfg.Logging.Logger()
	assert.Error(t, err)
}
