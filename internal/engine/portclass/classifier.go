// Package portclass maps ephemeral client ports to padding strategies.
package portclass

import (
	"Go2DNSPrint/internal/config"
	"errors"
	"fmt"
	"sort"
)

// ErrPortOutOfRange means a session used a port no strategy reserves. Session
// ports are only drawn from the reserved ranges, so this is a setup error.
var ErrPortOutOfRange = errors.New("port outside every padding strategy range")

// Classifier resolves a port to its padding strategy in O(log n).
type Classifier struct {
	strategies []config.PaddingStrategy
}

// New builds a classifier over the strategies of an extraction handle.
func New(ext *config.Extraction) *Classifier {
	strategies := make([]config.PaddingStrategy, len(ext.Strategies))
	copy(strategies, ext.Strategies)
	sort.Slice(strategies, func(i, j int) bool { return strategies[i].PortLo < strategies[j].PortLo })
	return &Classifier{strategies: strategies}
}

// Classify returns the strategy whose range [PortLo, PortHi) contains port.
func (c *Classifier) Classify(port uint16) (*config.PaddingStrategy, error) {
	p := int(port)
	i := sort.Search(len(c.strategies), func(i int) bool { return c.strategies[i].PortHi > p })
	if i < len(c.strategies) && c.strategies[i].PortLo <= p {
		return &c.strategies[i], nil
	}
	return nil, fmt.Errorf("%w: %d", ErrPortOutOfRange, port)
}
