// Package distribution counts feature values across a batch of captures.
package distribution

import (
	"Go2DNSPrint/internal/config"
	"Go2DNSPrint/internal/engine/vector"
	"Go2DNSPrint/internal/engine/windowaggregator"
	"encoding/json"
	"io"
	"sync"
)

// IATKey is the family holding inter-arrival values under vector.AllResolvers.
const IATKey = "iat"

// Counts maps a rendered value to its number of occurrences.
type Counts map[string]int

// Distribution holds value counts per resolver key and family, measured at
// the largest configured window. Add may be called concurrently.
type Distribution struct {
	mu     sync.Mutex
	ext    *config.Extraction
	window int
	counts map[string]map[string]Counts
}

// New creates an empty distribution with one family per resolver and strategy.
func New(ext *config.Extraction) *Distribution {
	d := &Distribution{
		ext:    ext,
		window: len(ext.Windows) - 1,
		counts: map[string]map[string]Counts{
			vector.AllResolvers: {IATKey: Counts{}},
		},
	}
	for _, r := range ext.Resolvers {
		families := make(map[string]Counts, len(ext.Strategies))
		for _, s := range ext.Strategies {
			families[s.Name] = Counts{}
		}
		d.counts[r.Key] = families
	}
	return d
}

// Add counts the values of one capture's accumulator.
func (d *Distribution) Add(acc *windowaggregator.Accumulator) {
	d.mu.Lock()
	defer d.mu.Unlock()

	iat := d.counts[vector.AllResolvers][IATKey]
	for _, v := range acc.IAT(d.window) {
		iat[vector.FormatValue(v)]++
	}
	for _, k := range acc.Keys() {
		if k.Window != d.window || k.Direction != windowaggregator.Both {
			continue
		}
		counts := d.counts[d.ext.Resolvers[k.Resolver].Key][d.ext.Strategies[k.Strategy].Name]
		for _, v := range acc.Lengths(k) {
			counts[vector.FormatValue(v)]++
		}
	}
}

// Counts returns the counts of a resolver key and family.
func (d *Distribution) Counts(key, family string) Counts {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts[key][family]
}

// WriteJSON writes the counts as indented JSON.
func (d *Distribution) WriteJSON(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d.counts)
}
