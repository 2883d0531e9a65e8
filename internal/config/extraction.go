package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Transport types a resolver can be configured under.
const (
	TypeDoH = "doh"
	TypeDoT = "dot"
)

// Resolver is a configured resolver with its position in the output layout.
type Resolver struct {
	Index     int
	Type      string
	Name      string
	Key       string // "{type}_{name}", used in column names
	IPs       []net.IP
	UpIndex   int
	DownIndex int
}

// PaddingStrategy is a configured strategy and the ports [PortLo, PortHi) reserved for it.
type PaddingStrategy struct {
	Index   int
	Name    string
	Padding []int
	PortLo  int
	PortHi  int
}

// Extraction is the immutable handle every extraction component receives.
// It is computed once by Config.Build and never modified afterwards.
type Extraction struct {
	Resolvers        []Resolver
	Strategies       []PaddingStrategy
	Windows          []time.Duration
	PortStart        int
	PortEnd          int
	MaxQueries       int
	LengthMultiplier int
	MaxIAT           int
	MaxLengths       int
	DeviceMAC        net.HardwareAddr
	DeviceClasses    map[string]string

	ipToName map[string]string
	byKey    map[string]int
}

// Build validates the configuration and derives the extraction handle.
func (c *Config) Build() (*Extraction, error) {
	e := &Extraction{
		PortStart:        c.Ports.Start,
		PortEnd:          c.Ports.End,
		MaxQueries:       c.Extraction.MaxNbQuery,
		LengthMultiplier: c.Extraction.LengthMultiplier,
		MaxIAT:           c.Extraction.MaxNbQuery,
		MaxLengths:       c.Extraction.MaxNbQuery * c.Extraction.LengthMultiplier,
		DeviceClasses:    c.Extraction.DeviceClasses,
		ipToName:         make(map[string]string),
		byKey:            make(map[string]int),
	}
	if e.MaxQueries <= 0 {
		return nil, fmt.Errorf("max_nb_query must be positive, got %d", e.MaxQueries)
	}
	if e.LengthMultiplier <= 0 {
		return nil, fmt.Errorf("length_multiplier must be positive, got %d", e.LengthMultiplier)
	}

	if c.Extraction.DeviceMAC != "" {
		mac, err := ParseMAC(c.Extraction.DeviceMAC)
		if err != nil {
			return nil, fmt.Errorf("invalid device_mac: %w", err)
		}
		e.DeviceMAC = mac
	}

	if err := e.buildResolvers(c.Resolvers); err != nil {
		return nil, err
	}
	if err := e.buildStrategies(c.PaddingStrategies); err != nil {
		return nil, err
	}
	if err := e.buildWindows(c.Extraction.TimeWindows); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Extraction) buildResolvers(set ResolverSet) error {
	for _, group := range set {
		if group.Type != TypeDoH && group.Type != TypeDoT {
			return fmt.Errorf("unknown resolver type '%s' (expected %s or %s)", group.Type, TypeDoH, TypeDoT)
		}
		for _, def := range group.Resolvers {
			if def.Name == "" {
				return fmt.Errorf("resolver of type '%s' without a name", group.Type)
			}
			if def.UpIndex < 0 || def.DownIndex <= def.UpIndex {
				return fmt.Errorf("resolver '%s_%s': down_index (%d) must be greater than up_index (%d) >= 0",
					group.Type, def.Name, def.DownIndex, def.UpIndex)
			}
			if len(def.IPs) == 0 {
				return fmt.Errorf("resolver '%s_%s' has no IP address", group.Type, def.Name)
			}

			r := Resolver{
				Index:     len(e.Resolvers),
				Type:      group.Type,
				Name:      def.Name,
				Key:       group.Type + "_" + def.Name,
				UpIndex:   def.UpIndex,
				DownIndex: def.DownIndex,
			}
			if _, dup := e.byKey[r.Key]; dup {
				return fmt.Errorf("resolver '%s' configured twice", r.Key)
			}
			for _, raw := range def.IPs {
				ip := net.ParseIP(raw)
				if ip == nil {
					return fmt.Errorf("resolver '%s': invalid IP address '%s'", r.Key, raw)
				}
				// One address may serve both transports of a resolver, never two resolvers.
				if owner, ok := e.ipToName[ip.String()]; ok && owner != def.Name {
					return fmt.Errorf("IP %s is claimed by resolvers '%s' and '%s'", ip, owner, def.Name)
				}
				e.ipToName[ip.String()] = def.Name
				r.IPs = append(r.IPs, ip)
			}
			e.byKey[r.Key] = r.Index
			e.Resolvers = append(e.Resolvers, r)
		}
	}
	if len(e.Resolvers) == 0 {
		return fmt.Errorf("no resolver configured")
	}
	return nil
}

func (e *Extraction) buildStrategies(set PaddingStrategySet) error {
	if len(set) == 0 {
		return fmt.Errorf("no padding strategy configured")
	}
	if e.PortStart <= 0 || e.PortEnd > 65536 || e.PortStart >= e.PortEnd {
		return fmt.Errorf("invalid ephemeral port range [%d, %d)", e.PortStart, e.PortEnd)
	}
	perStrategy := (e.PortEnd - e.PortStart) / len(set)
	if perStrategy == 0 {
		return fmt.Errorf("port range [%d, %d) is too small for %d padding strategies", e.PortStart, e.PortEnd, len(set))
	}

	seen := make(map[string]bool, len(set))
	for i, def := range set {
		if seen[def.Name] {
			return fmt.Errorf("padding strategy '%s' configured twice", def.Name)
		}
		seen[def.Name] = true

		s := PaddingStrategy{
			Index:   i,
			Name:    def.Name,
			Padding: def.Padding,
			PortLo:  e.PortStart + i*perStrategy,
			PortHi:  e.PortStart + (i+1)*perStrategy,
		}
		if i == len(set)-1 {
			s.PortHi = e.PortEnd
		}
		e.Strategies = append(e.Strategies, s)
	}
	return nil
}

func (e *Extraction) buildWindows(windows []Window) error {
	for i, w := range windows {
		d := time.Duration(w)
		if d <= 0 {
			return fmt.Errorf("time window %d must be positive, got %s", i, d)
		}
		if i > 0 && d <= e.Windows[i-1] {
			return fmt.Errorf("time windows must be strictly ascending (%s after %s)", d, e.Windows[i-1])
		}
		e.Windows = append(e.Windows, d)
	}
	if len(e.Windows) == 0 {
		return fmt.Errorf("no time window configured")
	}
	return nil
}

// ResolverNameByIP returns the name of the resolver owning ip.
func (e *Extraction) ResolverNameByIP(ip net.IP) (string, bool) {
	name, ok := e.ipToName[ip.String()]
	return name, ok
}

// IsResolverIP reports whether ip belongs to any configured resolver.
func (e *Extraction) IsResolverIP(ip net.IP) bool {
	_, ok := e.ipToName[ip.String()]
	return ok
}

// ResolverByKey looks up a resolver by its "{type}_{name}" key.
func (e *Extraction) ResolverByKey(key string) (*Resolver, bool) {
	i, ok := e.byKey[key]
	if !ok {
		return nil, false
	}
	return &e.Resolvers[i], true
}

// DeviceClass returns the configured class of a device label.
func (e *Extraction) DeviceClass(label string) string {
	if cls, ok := e.DeviceClasses[label]; ok {
		return cls
	}
	return "Appliance"
}

// WindowLabel renders a window the way it appears in column names.
func WindowLabel(d time.Duration) string {
	if d%time.Second == 0 {
		return strconv.FormatInt(int64(d/time.Second), 10)
	}
	return d.String()
}

// ParseMAC parses a colon-separated hardware address whose groups may omit
// their leading zero, as in "0:2d:b3:2:e:70".
func ParseMAC(s string) (net.HardwareAddr, error) {
	groups := strings.Split(s, ":")
	for i, g := range groups {
		if len(g) == 1 {
			groups[i] = "0" + g
		}
	}
	return net.ParseMAC(strings.Join(groups, ":"))
}
