package zone

import "github.com/miekg/dns"

// Store is a registry of zones keyed by origin, with longest-suffix zone
// selection for a query name. A Store is built once (at startup or on
// reload) and never mutated afterward — callers that need to reload zones
// build a new Store and swap it in atomically (see internal/server), rather
// than mutating one in place.
type Store struct {
	zones map[string]*Zone
}

// NewStore returns an empty zone store.
func NewStore() *Store {
	return &Store{zones: make(map[string]*Zone)}
}

// Add inserts or replaces a zone by its origin.
func (s *Store) Add(z *Zone) {
	s.zones[z.Origin] = z
}

// FindZone returns the zone whose origin is the longest suffix of qname, or
// nil if no served zone covers it. Exact origin match is checked first as a
// fast path; otherwise every zone is scanned and the one with the greatest
// label count among those that are an ancestor-or-equal of qname wins.
func (s *Store) FindZone(qname string) *Zone {
	qname = dns.Fqdn(qname)

	if z, ok := s.zones[qname]; ok {
		return z
	}

	var best *Zone
	bestLabels := -1

	for origin, z := range s.zones {
		if !dns.IsSubDomain(origin, qname) {
			continue
		}
		labels := dns.CountLabel(origin)
		if labels > bestLabels {
			best = z
			bestLabels = labels
		}
	}

	return best
}

// Zones returns every zone in the store, keyed by origin. The caller must
// not mutate the returned map or its values.
func (s *Store) Zones() map[string]*Zone {
	return s.zones
}

// Len returns the number of zones in the store.
func (s *Store) Len() int {
	return len(s.zones)
}
