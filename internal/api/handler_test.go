package api

import (
	"Go2DNSPrint/internal/config"
	"Go2DNSPrint/internal/engine/extractor"
	"Go2DNSPrint/internal/metrics"
	"Go2DNSPrint/pkg/pcap/pcaptest"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const testConfig = `
resolvers:
  doh:
    - {name: Cloudflare, ips: ["1.1.1.1"], up_index: 1, down_index: 2}
padding_strategies: {no_padding: 0}
extraction:
  max_nb_query: 2
  time_windows: [1]
`

func newServer(t *testing.T, root string) (*httptest.Server, *extractor.Extractor, *metrics.Metrics) {
	t.Helper()
	cfg, err := config.ParseConfig([]byte(testConfig))
	require.NoError(t, err)
	ext, err := cfg.Build()
	require.NoError(t, err)
	m, err := metrics.New(nil)
	require.NoError(t, err)
	ex := extractor.New(ext, extractor.WithObserver(m))
	srv := httptest.NewServer(NewRouter(ex, m.Handler(), root))
	t.Cleanup(srv.Close)
	return srv, ex, m
}

func writeCapture(t *testing.T, root string) {
	t.Helper()
	t0 := time.Unix(1700000000, 0)
	client := pcaptest.Endpoint{IP: net.ParseIP("10.0.0.2"), Port: config.DefaultPortStart}
	doh := pcaptest.Endpoint{IP: net.ParseIP("1.1.1.1"), Port: 443}
	path := filepath.Join(root, "plug", "enc.pcap")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, pcaptest.NewBuilder().
		TLSSegment(t0, client, doh, 1, pcaptest.AppData(100)).
		TLSSegment(t0.Add(time.Millisecond), doh, client, 9, pcaptest.AppData(200)).
		TLSSegment(t0.Add(2*time.Millisecond), client, doh, 101, pcaptest.AppData(40)).
		WriteFile(path, false))
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var body structpb.Struct
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, protojson.Unmarshal(data, &body))
	return body.AsMap()
}

func TestHeader(t *testing.T) {
	srv, ex, _ := newServer(t, "")
	resp, err := http.Get(srv.URL + "/api/v1/header")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	columns := decode(t, resp)["columns"].([]interface{})
	assert.Len(t, columns, len(ex.Header()))
	assert.Equal(t, "y", columns[0])
}

func TestExtract(t *testing.T) {
	root := t.TempDir()
	writeCapture(t, root)
	srv, ex, _ := newServer(t, root)

	resp, err := http.Post(srv.URL+"/api/v1/extract", "application/json", strings.NewReader(`{"enc_path": "plug/enc.pcap"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	row := decode(t, resp)
	assert.Equal(t, "plug", row["label"])
	assert.Equal(t, filepath.Join(root, "plug", "enc.pcap"), row["source"])
	assert.Len(t, row["values"], len(ex.Header())-1)
}

func TestExtractErrors(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "junk.pcap"), []byte("junk"), 0644))
	srv, _, _ := newServer(t, root)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"not json", `{`, http.StatusBadRequest},
		{"no path", `{"label": "x"}`, http.StatusBadRequest},
		{"escapes root", `{"enc_path": "../../etc/passwd"}`, http.StatusForbidden},
		{"absolute outside root", `{"enc_path": "/etc/passwd"}`, http.StatusForbidden},
		{"no features", `{"enc_path": "junk.pcap"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/api/v1/extract", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.code, resp.StatusCode)
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	root := t.TempDir()
	writeCapture(t, root)
	srv, _, _ := newServer(t, root)

	resp, err := http.Post(srv.URL+"/api/v1/extract", "application/json", strings.NewReader(`{"enc_path": "plug/enc.pcap"}`))
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `dnsprint_captures_total{outcome="ok"} 1`)
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _, _ := newServer(t, "")
	resp, err := http.Get(srv.URL + "/api/v1/extract")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
