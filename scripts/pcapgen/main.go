package main

import (
	"Go2DNSPrint/internal/config"
	"Go2DNSPrint/pkg/pcap/pcaptest"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/gopacket/layers"
)

var names = []string{
	"time.example.com", "api.example.com", "cdn.example.net",
	"telemetry.example.org", "update.example.com", "mqtt.example.io",
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path of the configuration file")
	resolverKey := flag.String("resolver", "doh_Cloudflare", "resolver key, as {type}_{name}")
	strategyName := flag.String("strategy", "", "padding strategy (default: the first one)")
	queryCount := flag.Int("c", 20, "Number of DNS queries to generate")
	outputDir := flag.String("o", "data/synthetic", "Output directory of clear.pcap and enc.pcap")
	ng := flag.Bool("ng", false, "Write pcapng instead of pcap")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	ext, err := cfg.Build()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	resolver, ok := ext.ResolverByKey(*resolverKey)
	if !ok {
		log.Fatalf("Unknown resolver '%s'", *resolverKey)
	}
	strategy := ext.Strategies[0]
	for _, s := range ext.Strategies {
		if s.Name == *strategyName {
			strategy = s
		}
	}

	rng := rand.New(rand.NewSource(*seed))
	clearCap, encCap := generate(rng, ext, resolver, strategy, *queryCount)

	suffix := ".pcap"
	if *ng {
		suffix = ".pcapng"
	}
	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("Failed to create %s: %v", *outputDir, err)
	}
	for name, b := range map[string]*pcaptest.Builder{"clear": clearCap, "enc": encCap} {
		path := filepath.Join(*outputDir, name+suffix)
		if err := b.WriteFile(path, *ng); err != nil {
			log.Fatalf("Failed to write %s: %v", path, err)
		}
		log.Printf("Wrote %d frames into %s", b.Len(), path)
	}
}

// generate builds the clear-text queries of a device and the encrypted
// exchange the same lookups produce through the resolver.
func generate(rng *rand.Rand, ext *config.Extraction, resolver *config.Resolver, strategy config.PaddingStrategy, n int) (*pcaptest.Builder, *pcaptest.Builder) {
	device := pcaptest.Endpoint{MAC: ext.DeviceMAC, IP: net.ParseIP("10.0.0.2"), Port: 40000}
	local := pcaptest.Endpoint{IP: net.ParseIP("10.0.0.1"), Port: 53}
	client := pcaptest.Endpoint{MAC: ext.DeviceMAC, IP: net.ParseIP("10.0.0.2"), Port: uint16(strategy.PortLo)}
	server := pcaptest.Endpoint{IP: resolver.IPs[0], Port: 443}
	if resolver.Type == "dot" {
		server.Port = 853
	}

	clearCap, encCap := pcaptest.NewBuilder(), pcaptest.NewBuilder()
	ts := time.Unix(1700000000, 0)
	clientSeq, serverSeq := uint32(1), uint32(1)
	encCap.TLSSegment(ts, client, server, clientSeq, pcaptest.Handshake(517))
	clientSeq += 522
	encCap.TLSSegment(ts.Add(20*time.Millisecond), server, client, serverSeq, pcaptest.Handshake(2800))
	serverSeq += 2805

	for i := 0; i < n; i++ {
		ts = ts.Add(time.Duration(rng.Intn(3000)+50) * time.Millisecond)
		name := names[rng.Intn(len(names))]
		qtype := layers.DNSTypeA
		if rng.Intn(4) == 0 {
			qtype = layers.DNSTypeAAAA
		}
		id := uint16(rng.Intn(1 << 16))
		clearCap.DNSQuery(ts, device, local, id, name, qtype).
			DNSResponse(ts.Add(15*time.Millisecond), local, device, id, name, net.IPv4(93, 184, 216, byte(rng.Intn(256))))

		up := 40 + len(name) + rng.Intn(16)
		down := up + 16*(rng.Intn(4)+1)
		encCap.TLSSegment(ts, client, server, clientSeq, pcaptest.AppData(up))
		clientSeq += uint32(up + 5)
		encCap.TLSSegment(ts.Add(15*time.Millisecond), server, client, serverSeq, pcaptest.AppData(down))
		serverSeq += uint32(down + 5)
	}
	if err := clearCap.Err(); err != nil {
		log.Fatalf("Failed to build clear-text capture: %v", err)
	}
	if err := encCap.Err(); err != nil {
		log.Fatalf("Failed to build encrypted capture: %v", fmt.Errorf("%s: %w", resolver.Key, err))
	}
	return clearCap, encCap
}
