// Package vector flattens accumulated features into the fixed-order feature
// row of a capture and the matching header.
package vector

import (
	"Go2DNSPrint/internal/config"
	"Go2DNSPrint/internal/core/model"
	"Go2DNSPrint/internal/engine/statistic"
	"Go2DNSPrint/internal/engine/windowaggregator"
	"Go2DNSPrint/internal/logger"
	"errors"
	"fmt"
	"strconv"
)

// ErrNoFeatures means the encrypted pass of a capture produced no session, so
// no row can be emitted for it.
var ErrNoFeatures = errors.New("no encrypted feature extracted")

const (
	// LabelColumn is the name of the first header column.
	LabelColumn = "y"
	// AllResolvers is the resolver part of the inter-arrival column names.
	AllResolvers = "ALL_RESOLVERS"

	iatPad    = -1.0
	lengthPad = 0.0
)

// Report lists the non-fatal problems met while rendering a row.
type Report struct {
	TruncatedLists   int
	MissingResolvers []string
}

// Renderer produces headers and rows for one configuration.
type Renderer struct {
	ext   *config.Extraction
	width int
}

// NewRenderer creates a renderer for ext.
func NewRenderer(ext *config.Extraction) *Renderer {
	r := &Renderer{ext: ext}
	r.width = len(r.Header())
	return r
}

// Width returns the number of columns of the header and of every row,
// label included.
func (r *Renderer) Width() int {
	return r.width
}

// Header returns the column names, label column first.
func (r *Renderer) Header() []string {
	b := &builder{names: []string{LabelColumn}}
	r.render(b, nil, "")
	return b.names
}

// Row renders the feature row of a capture. It fails with ErrNoFeatures when
// the capture produced no encrypted session.
func (r *Renderer) Row(label, source string, acc *windowaggregator.Accumulator) (*model.FeatureRow, Report, error) {
	if !acc.HasEncrypted() {
		return nil, Report{}, fmt.Errorf("%w: %s", ErrNoFeatures, source)
	}
	b := &builder{values: make([]float64, 0, r.width-1)}
	report := r.render(b, acc, source)
	return &model.FeatureRow{Label: label, Source: source, Values: b.values}, report, nil
}

// render walks the layout once; header and rows share it so they cannot
// disagree on column order or count.
func (r *Renderer) render(b *builder, acc *windowaggregator.Accumulator, source string) Report {
	var report Report
	ext := r.ext

	for w, window := range ext.Windows {
		prefix := fmt.Sprintf("%s-%s-", AllResolvers, config.WindowLabel(window))
		var iat []float64
		if acc != nil {
			iat = acc.IAT(w)
			if dropped := acc.IATDropped(w); dropped > 0 {
				report.TruncatedLists++
				logger.Warnf("More inter-arrival times than available space in %s: %d dropped in window %s",
					source, dropped, config.WindowLabel(window))
			}
		}
		b.columns(prefix+"columns_iat", iat, ext.MaxIAT, iatPad)

		prefixes := make([][]float64, ext.MaxIAT)
		for i := range prefixes {
			prefixes[i] = head(iat, i+1)
		}
		b.stats(prefix+"stats_iat", prefixes)
	}

	for ri, resolver := range ext.Resolvers {
		missing := acc != nil && !acc.ResolverSeen(ri)
		if missing {
			report.MissingResolvers = append(report.MissingResolvers, resolver.Key)
			logger.Warnf("Resolver %s is missing from %s, continuing with empty values", resolver.Key, source)
		}
		for w, window := range ext.Windows {
			prefix := fmt.Sprintf("%s-%s-", resolver.Key, config.WindowLabel(window))
			for _, strategy := range ext.Strategies {
				lists := make(map[windowaggregator.Direction][]float64, len(windowaggregator.Directions))
				if acc != nil {
					for _, d := range windowaggregator.Directions {
						lists[d] = acc.Lengths(windowaggregator.ListKey{Resolver: ri, Window: w, Strategy: strategy.Index, Direction: d})
					}
					if dropped := acc.Dropped(windowaggregator.ListKey{Resolver: ri, Window: w, Strategy: strategy.Index}); dropped > 0 {
						report.TruncatedLists++
						logger.Warnf("More lengths than available space in %s: %d dropped for %s/%s in window %s",
							source, dropped, resolver.Key, strategy.Name, config.WindowLabel(window))
					}
				}

				for _, d := range windowaggregator.Directions {
					b.columns(fmt.Sprintf("%scolumns_%s_%s", prefix, strategy.Name, d), lists[d], ext.MaxLengths, lengthPad)
				}
				for _, d := range windowaggregator.Directions {
					var prefixes [][]float64
					for i := ext.LengthMultiplier; i <= ext.MaxLengths; i += ext.LengthMultiplier {
						n := i
						if d != windowaggregator.Both {
							n = i / ext.LengthMultiplier
						}
						prefixes = append(prefixes, head(lists[d], n))
					}
					b.stats(fmt.Sprintf("%sstats_%s_%s", prefix, strategy.Name, d), prefixes)
				}
			}
		}
	}
	return report
}

func head(values []float64, n int) []float64 {
	if n > len(values) {
		n = len(values)
	}
	return values[:n]
}

// builder collects either column names or values. A nil values slice marks
// header mode.
type builder struct {
	names  []string
	values []float64
}

func (b *builder) header() bool {
	return b.values == nil
}

func (b *builder) columns(prefix string, values []float64, capacity int, pad float64) {
	for i := 0; i < capacity; i++ {
		if b.header() {
			b.names = append(b.names, prefix+"-"+strconv.Itoa(i))
			continue
		}
		v := pad
		if i < len(values) {
			v = values[i]
		}
		b.values = append(b.values, v)
	}
}

func (b *builder) stats(prefix string, prefixes [][]float64) {
	for i, list := range prefixes {
		if b.header() {
			for _, key := range statistic.Keys {
				b.names = append(b.names, fmt.Sprintf("%s-%s-%d", prefix, key, i))
			}
			continue
		}
		b.values = append(b.values, statistic.Compute(list).Values()...)
	}
}

// FormatValue renders a feature value the way every text output writes it.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Strings renders a row as text fields, label first.
func Strings(row *model.FeatureRow) []string {
	out := make([]string, 0, row.Width())
	out = append(out, row.Label)
	for _, v := range row.Values {
		out = append(out, FormatValue(v))
	}
	return out
}
