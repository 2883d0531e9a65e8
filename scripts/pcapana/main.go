package main

import (
	"Go2DNSPrint/internal/engine/inspect"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./scripts/pcapana/main.go <glob_of_pcap_files>...")
		os.Exit(1)
	}
	var paths []string
	for _, pattern := range os.Args[1:] {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			log.Fatalf("Invalid glob '%s': %v", pattern, err)
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		log.Fatalf("No capture matches %v", os.Args[1:])
	}

	report := inspect.Inspect(paths)
	for _, f := range report.Files {
		fmt.Printf("%s: %d queries\n", f.Path, f.Queries)
	}
	fmt.Println()
	fmt.Printf("Total number of queries: %d\n", report.Total)
	fmt.Printf("Median number of queries: %.1f\n", report.Median)
	fmt.Printf("Median number of queries (non-zero): %.1f\n", report.MedianNonZero)
	if report.UnreadableFiles > 0 {
		fmt.Printf("Unreadable files: %d\n", report.UnreadableFiles)
	}
	fmt.Println()
	fmt.Println("Queries per destination:")
	for _, d := range report.Destinations {
		fmt.Printf("%-40s %d\n", d.IP, d.Queries)
	}
}
