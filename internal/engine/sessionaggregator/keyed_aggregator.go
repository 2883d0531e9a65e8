// Package sessionaggregator groups TLS-bearing TCP frames into bidirectional
// sessions and reduces each session to its canonical length pair.
package sessionaggregator

import (
	"Go2DNSPrint/internal/config"
	"Go2DNSPrint/internal/core/model"
	"Go2DNSPrint/internal/engine/portclass"
	"Go2DNSPrint/internal/engine/protocol"
	"Go2DNSPrint/internal/logger"
	"errors"
	"fmt"
)

var (
	// ErrUnresolvedSession means a session's resolver or transport could not be
	// determined. It aborts the current capture only.
	ErrUnresolvedSession = errors.New("session resolver or transport unresolved")
	// ErrUnconfiguredResolver means a session resolved to a type and name pair
	// absent from the configuration. It aborts the run.
	ErrUnconfiguredResolver = errors.New("session references an unconfigured resolver")
)

// Ports that identify the transport of a session.
const (
	PortDoH = 443
	PortDoT = 853
)

// Stats counts what happened while aggregating one capture.
type Stats struct {
	Frames          int
	Sessions        int
	Retransmissions int
	Degraded        int
	Empty           int
}

// KeyedAggregator holds the sessions of one capture keyed by their oriented
// key. It is not safe for concurrent use; one capture is one goroutine.
type KeyedAggregator struct {
	ext        *config.Extraction
	classifier *portclass.Classifier
	sessions   map[Key]*Session
	order      []Key
	stats      Stats
	source     string
}

// NewKeyedAggregator creates an aggregator for the capture at source; source
// only appears in log lines.
func NewKeyedAggregator(ext *config.Extraction, classifier *portclass.Classifier, source string) *KeyedAggregator {
	return &KeyedAggregator{
		ext:        ext,
		classifier: classifier,
		sessions:   make(map[Key]*Session),
		source:     source,
	}
}

// ProcessSegment appends a dissected TCP segment to its session. Segments that
// touch no configured resolver address are ignored. It reports whether the
// segment was kept.
func (ka *KeyedAggregator) ProcessSegment(d *protocol.Dissection) bool {
	if d.Kind != protocol.KindSegment || d.Segment == nil {
		return false
	}
	ft := d.FiveTuple
	if !ka.ext.IsResolverIP(ft.SrcIP) && !ka.ext.IsResolverIP(ft.DstIP) {
		return false
	}

	key, uplink := sessionKey(ft, ka.ext.IsResolverIP)
	s, ok := ka.sessions[key]
	if !ok {
		s = &Session{Key: key, First: ft, FirstTime: d.Timestamp}
		ka.sessions[key] = s
		ka.order = append(ka.order, key)
	}
	s.Frames++
	s.LastTime = d.Timestamp
	ka.stats.Frames++

	seg := d.Segment
	if !seg.HasTLS {
		return true
	}
	if s.seenTLS && s.lastSeq == seg.Seq {
		s.Retransmissions++
		ka.stats.Retransmissions++
		logger.Debugf("Skipping retransmission seq=%d in session %s of %s", seg.Seq, key, ka.source)
		return true
	}
	s.seenTLS, s.lastSeq = true, seg.Seq
	for _, l := range seg.AppDataLengths {
		if uplink {
			s.Lengths = append(s.Lengths, l)
		} else {
			s.Lengths = append(s.Lengths, -l)
		}
	}
	return true
}

// Sessions returns the sessions in order of first appearance.
func (ka *KeyedAggregator) Sessions() []*Session {
	out := make([]*Session, 0, len(ka.order))
	for _, k := range ka.order {
		out = append(out, ka.sessions[k])
	}
	return out
}

// GetSession returns the session stored under key.
func (ka *KeyedAggregator) GetSession(key Key) (*Session, bool) {
	s, ok := ka.sessions[key]
	return s, ok
}

// Stats returns the counters gathered so far.
func (ka *KeyedAggregator) Stats() Stats {
	return ka.stats
}

// Features resolves every session and reduces the ones carrying application
// data to their canonical pair, in order of first appearance.
func (ka *KeyedAggregator) Features() ([]SessionFeature, error) {
	var features []SessionFeature
	for _, key := range ka.order {
		s := ka.sessions[key]
		resolver, err := ka.resolve(s)
		if err != nil {
			return nil, err
		}
		if len(s.Lengths) == 0 {
			ka.stats.Empty++
			continue
		}

		strategy, err := ka.classifier.Classify(key.Port)
		if err != nil {
			return nil, fmt.Errorf("session %s (%s) of %s: %w", key, resolver.Key, ka.source, err)
		}

		pair, degraded := canonicalPair(resolver, s.Lengths)
		if degraded {
			ka.stats.Degraded++
			logger.Warnf("Session %s of %s has %d lengths, not enough for down_index %d of %s (port %d); using positional default %v",
				key, ka.source, len(s.Lengths), resolver.DownIndex, resolver.Key, key.Port, pair)
		}
		features = append(features, SessionFeature{
			Key:      key,
			Resolver: resolver,
			Strategy: strategy,
			Raw:      s.Raw(),
			Pair:     pair,
			Degraded: degraded,
		})
	}
	ka.stats.Sessions = len(features)
	return features, nil
}

// resolve finds the configured resolver of a session from its first frame:
// the transport from the well-known port, the name from whichever address is
// a resolver's.
func (ka *KeyedAggregator) resolve(s *Session) (*config.Resolver, error) {
	ft := s.First
	transport := transportOf(ft)
	name, ok := ka.ext.ResolverNameByIP(ft.SrcIP)
	if !ok {
		name, ok = ka.ext.ResolverNameByIP(ft.DstIP)
	}
	if transport == "" || !ok {
		return nil, fmt.Errorf("%w: session %s of %s (ports %d/%d)", ErrUnresolvedSession, s.Key, ka.source, ft.SrcPort, ft.DstPort)
	}

	key := transport + "_" + name
	r, ok := ka.ext.ResolverByKey(key)
	if !ok {
		return nil, fmt.Errorf("%w: '%s' seen in session %s of %s", ErrUnconfiguredResolver, key, s.Key, ka.source)
	}
	return r, nil
}

func transportOf(ft model.FiveTuple) string {
	doh := ft.HasPort(PortDoH)
	dot := ft.HasPort(PortDoT)
	switch {
	case doh && dot:
		return ""
	case doh:
		return config.TypeDoH
	case dot:
		return config.TypeDoT
	default:
		return ""
	}
}
