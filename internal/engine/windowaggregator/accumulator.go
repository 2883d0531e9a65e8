// Package windowaggregator accumulates per-capture feature lists over a fixed
// set of cumulative time windows.
package windowaggregator

import (
	"Go2DNSPrint/internal/config"
	"Go2DNSPrint/internal/engine/sessionaggregator"
	"fmt"
	"math"
	"time"
)

// Direction selects which lengths of a pair a list holds.
type Direction int

const (
	Both Direction = iota
	Up
	Down
)

// Directions lists every direction in column order.
var Directions = []Direction{Both, Up, Down}

func (d Direction) String() string {
	switch d {
	case Both:
		return "both"
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// ListKey addresses one length list by configuration indexes.
type ListKey struct {
	Resolver  int
	Window    int
	Strategy  int
	Direction Direction
}

type lengthList struct {
	values  []float64
	dropped int
}

// Accumulator holds the inter-arrival and length lists of one capture. Every
// configured (resolver, window, strategy, direction) list exists from
// construction on. Lists stop growing at their capacity and count what they
// drop; a length is dropped from all directions at once, so Up and Down are
// always the split of the retained Both list.
type Accumulator struct {
	ext     *config.Extraction
	lengths map[ListKey]*lengthList
	keys    []ListKey

	iat        [][]float64
	iatDropped []int
	firstQuery time.Time
	lastQuery  time.Time
	queries    int

	reference    time.Time
	hasReference bool
	seen         []bool
	sessions     int

	uncapped bool
}

// Option configures an Accumulator.
type Option func(*Accumulator)

// Uncapped lets every list grow past its capacity. Distributions count every
// value of a capture, not only those a row has room for.
func Uncapped() Option {
	return func(a *Accumulator) { a.uncapped = true }
}

// New creates an accumulator with every list of ext present and empty.
func New(ext *config.Extraction, opts ...Option) *Accumulator {
	a := &Accumulator{
		ext:        ext,
		lengths:    make(map[ListKey]*lengthList),
		iat:        make([][]float64, len(ext.Windows)),
		iatDropped: make([]int, len(ext.Windows)),
		seen:       make([]bool, len(ext.Resolvers)),
	}
	for r := range ext.Resolvers {
		for w := range ext.Windows {
			for s := range ext.Strategies {
				for _, d := range Directions {
					k := ListKey{Resolver: r, Window: w, Strategy: s, Direction: d}
					a.lengths[k] = &lengthList{values: []float64{}}
					a.keys = append(a.keys, k)
				}
			}
		}
	}
	for w := range a.iat {
		a.iat[w] = []float64{}
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RoundIAT rounds an inter-arrival time to 100ms, in seconds. Halves go to
// the even tenth.
func RoundIAT(d time.Duration) float64 {
	return math.RoundToEven(d.Seconds()*10) / 10
}

// AddQuery records a clear-text DNS query. From the second query on, the
// rounded delta to the previous query joins every window the query falls in,
// measured from the first query.
func (a *Accumulator) AddQuery(ts time.Time) {
	a.queries++
	if a.queries == 1 {
		a.firstQuery, a.lastQuery = ts, ts
		return
	}
	iat := RoundIAT(ts.Sub(a.lastQuery))
	rel := ts.Sub(a.firstQuery)
	for w, window := range a.ext.Windows {
		if rel >= window {
			continue
		}
		if !a.uncapped && len(a.iat[w]) >= a.ext.MaxIAT {
			a.iatDropped[w]++
			continue
		}
		a.iat[w] = append(a.iat[w], iat)
	}
	a.lastQuery = ts
}

// SetReference fixes the origin of the encrypted pass to ts truncated to the
// whole second. Only the first call has an effect.
func (a *Accumulator) SetReference(ts time.Time) {
	if a.hasReference {
		return
	}
	a.reference = time.Unix(ts.Unix(), 0).In(ts.Location())
	a.hasReference = true
}

// Reference returns the origin of the encrypted pass.
func (a *Accumulator) Reference() (time.Time, bool) {
	return a.reference, a.hasReference
}

// AddSession adds the canonical pair of a session to every window its first
// frame falls in. It reports the number of windows that received the pair.
func (a *Accumulator) AddSession(f sessionaggregator.SessionFeature) int {
	a.SetReference(f.Raw.FirstTime)
	r, s := f.Resolver.Index, f.Strategy.Index
	a.seen[r] = true
	a.sessions++

	rel := f.Raw.FirstTime.Sub(a.reference)
	windows := 0
	for w, window := range a.ext.Windows {
		if rel >= window {
			continue
		}
		windows++
		both := a.lengths[ListKey{r, w, s, Both}]
		for _, v := range f.Pair {
			if !a.uncapped && len(both.values) >= a.ext.MaxLengths {
				both.dropped++
				continue
			}
			both.values = append(both.values, float64(v))
			dir := Down
			if v > 0 {
				dir = Up
			}
			l := a.lengths[ListKey{r, w, s, dir}]
			l.values = append(l.values, float64(v))
		}
	}
	return windows
}

// Keys returns every list key in column order: resolver, window, strategy,
// direction.
func (a *Accumulator) Keys() []ListKey {
	return a.keys
}

// Lengths returns the retained values of a list.
func (a *Accumulator) Lengths(k ListKey) []float64 {
	if l, ok := a.lengths[k]; ok {
		return l.values
	}
	return nil
}

// Dropped returns how many lengths did not fit the list's capacity. It is
// tracked on the Both list only.
func (a *Accumulator) Dropped(k ListKey) int {
	if l, ok := a.lengths[ListKey{k.Resolver, k.Window, k.Strategy, Both}]; ok {
		return l.dropped
	}
	return 0
}

// IAT returns the retained inter-arrival times of window w.
func (a *Accumulator) IAT(w int) []float64 {
	return a.iat[w]
}

// IATDropped returns how many inter-arrival times did not fit window w.
func (a *Accumulator) IATDropped(w int) int {
	return a.iatDropped[w]
}

// ResolverSeen reports whether any session of resolver r carried lengths.
func (a *Accumulator) ResolverSeen(r int) bool {
	return a.seen[r]
}

// HasEncrypted reports whether the encrypted pass produced any session.
func (a *Accumulator) HasEncrypted() bool {
	return a.sessions > 0
}

// Queries returns the number of clear-text queries seen.
func (a *Accumulator) Queries() int {
	return a.queries
}

// Sessions returns the number of sessions added.
func (a *Accumulator) Sessions() int {
	return a.sessions
}
