// Package statistic computes the descriptive aggregates attached to every
// feature list.
package statistic

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Keys name the aggregates in column order.
var Keys = []string{"mean", "variance", "std", "skewness", "kurtosis"}

// zeroVarianceResolution is the relative precision under which the second
// central moment is treated as zero.
const zeroVarianceResolution = 1e-15

// Aggregates are population statistics of one list. Skewness is the biased
// Fisher-Pearson coefficient and Kurtosis the biased excess kurtosis.
type Aggregates struct {
	Mean     float64
	Variance float64
	Std      float64
	Skewness float64
	Kurtosis float64
}

// Values returns the aggregates in Keys order.
func (a Aggregates) Values() []float64 {
	return []float64{a.Mean, a.Variance, a.Std, a.Skewness, a.Kurtosis}
}

// Compute returns the aggregates of values. An empty list yields all zeros,
// and so do the shape statistics of a list without variance.
func Compute(values []float64) Aggregates {
	if len(values) == 0 {
		return Aggregates{}
	}
	mean := stat.Mean(values, nil)
	m2 := stat.Moment(2, values, nil)
	a := Aggregates{Mean: mean, Variance: m2, Std: math.Sqrt(m2)}

	if m2 <= math.Pow(zeroVarianceResolution*mean, 2) {
		return a
	}
	m3 := stat.Moment(3, values, nil)
	m4 := stat.Moment(4, values, nil)
	a.Skewness = m3 / math.Pow(m2, 1.5)
	a.Kurtosis = m4/(m2*m2) - 3
	return a
}

// FromInts converts integer samples for Compute.
func FromInts(values []int) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}
