// Package zone implements the in-memory representation of a DNS zone: its
// record index, wildcard synthesis, and validation rules.
package zone

import (
	"fmt"
	"time"

	"github.com/miekg/dns"
)

// Zone represents a DNS zone with all its records.
type Zone struct {
	Name   string
	Origin string // fully qualified zone name (e.g. "example.com.")
	Class  uint16 // usually dns.ClassINET

	SOA *dns.SOA

	// Records is the double-keyed index: owner name -> record type -> RRset.
	Records map[string]map[uint16][]dns.RR

	// DNSSEC carries signing metadata for zones defined via the declarative
	// YAML format (parser_dnszone.go); the BIND-style parser leaves it nil
	// since DNSSEC records served from a BIND zone file are just records.
	DNSSEC *DNSSECConfig
}

// DNSSECConfig holds DNSSEC signing metadata for a zone, populated only by
// the declarative YAML zone format.
type DNSSECConfig struct {
	Enabled   bool
	Algorithm uint8

	// NSEC3 parameters, set only when the YAML zone format's dnssec.nsec3
	// section enables hashed denial-of-existence instead of plain NSEC.
	NSEC3Enabled    bool
	NSEC3Iterations int
	NSEC3SaltLength int
}

// Config holds zone file parser configuration.
type Config struct {
	// DefaultTTL is used for records that specify no TTL of their own.
	DefaultTTL uint32

	// Strict makes ParseDNSZone run Validate on the parsed zone and fail if it
	// does not pass. ParseBIND does not consult it.
	Strict bool

	// AllowIncludes permits the BIND $INCLUDE directive (not currently honored by
	// the parser; reserved for future extension).
	AllowIncludes bool

	// BaseDir is the base directory used to resolve relative includes.
	BaseDir string
}

// DefaultConfig returns the default zone parser configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:    3600,
		Strict:        true,
		AllowIncludes: false,
		BaseDir:       ".",
	}
}

// New creates a new empty zone at the given origin.
func New(name string) *Zone {
	name = dns.Fqdn(name)

	return &Zone{
		Name:    name,
		Origin:  name,
		Class:   dns.ClassINET,
		Records: make(map[string]map[uint16][]dns.RR),
	}
}

// AddRecord adds a resource record to the zone.
func (z *Zone) AddRecord(rr dns.RR) error {
	if rr == nil {
		return fmt.Errorf("cannot add nil record")
	}

	owner := dns.Fqdn(rr.Header().Name)
	if !dns.IsSubDomain(z.Origin, owner) {
		return fmt.Errorf("record %s not in zone %s", owner, z.Origin)
	}

	rrtype := rr.Header().Rrtype
	if z.Records[owner] == nil {
		z.Records[owner] = make(map[uint16][]dns.RR)
	}
	z.Records[owner][rrtype] = append(z.Records[owner][rrtype], rr)

	if rrtype == dns.TypeSOA {
		z.SOA = rr.(*dns.SOA)
	}

	return nil
}

// ContainsName reports whether any records exist at the given owner name,
// exact match only (no wildcard synthesis).
func (z *Zone) ContainsName(owner string) bool {
	owner = dns.Fqdn(owner)
	typeMap, ok := z.Records[owner]
	return ok && len(typeMap) > 0
}

// LookupExact returns the exact (owner, rrtype) RRset, or nil if absent.
func (z *Zone) LookupExact(owner string, rrtype uint16) []dns.RR {
	owner = dns.Fqdn(owner)
	if typeMap, ok := z.Records[owner]; ok {
		return typeMap[rrtype]
	}
	return nil
}

// nodes returns the set of every name that is a "node" in the zone's implied
// name tree: every explicit owner name, plus every ancestor of every owner
// name up to (and including) the zone origin. An ancestor with no records of
// its own is an "empty non-terminal" per RFC 4592 — it still blocks wildcard
// synthesis for anything below it unless the wildcard lives at that exact
// enclosing name.
func (z *Zone) nodes() map[string]bool {
	nodes := make(map[string]bool)
	nodes[z.Origin] = true

	for owner := range z.Records {
		labels := dns.SplitDomainName(owner)
		for i := 0; i <= len(labels); i++ {
			name := dns.Fqdn(joinLabels(labels[i:]))
			if name != z.Origin && !dns.IsSubDomain(z.Origin, name) {
				continue
			}
			nodes[name] = true
		}
	}

	return nodes
}

// closestEncloser returns the longest existing node name that is a proper
// ancestor of (or equal to) qname.
func (z *Zone) closestEncloser(qname string, nodes map[string]bool) string {
	qname = dns.Fqdn(qname)
	labels := dns.SplitDomainName(qname)

	for i := 0; i <= len(labels); i++ {
		candidate := dns.Fqdn(joinLabels(labels[i:]))
		if nodes[candidate] {
			return candidate
		}
		if candidate == z.Origin {
			break
		}
	}

	return z.Origin
}

// LookupWildcard synthesizes an answer for qname from the wildcard owned by
// qname's closest existing encloser, per RFC 1034/4592. It suppresses
// synthesis when an empty non-terminal sits strictly between the wildcard's
// owner and qname (the "empty non-terminal" problem spec.md §9 calls out).
func (z *Zone) LookupWildcard(qname string, rrtype uint16) []dns.RR {
	qname = dns.Fqdn(qname)
	ce := z.closestEncloser(qname, z.nodes())

	wildcardOwner := "*." + ce
	if ce == z.Origin {
		wildcardOwner = "*." + z.Origin
	}

	typeMap, ok := z.Records[wildcardOwner]
	if !ok {
		return nil
	}
	records, ok := typeMap[rrtype]
	if !ok || len(records) == 0 {
		return nil
	}

	result := make([]dns.RR, len(records))
	for i, rr := range records {
		clone := dns.Copy(rr)
		clone.Header().Name = qname
		result[i] = clone
	}
	return result
}

// GetRecords returns the records for (owner, rrtype), trying an exact match
// first and falling back to wildcard synthesis. This is the convenience
// entry point used by callers that don't need to distinguish the two paths;
// the query processor (internal/query) calls LookupExact/ContainsName/
// LookupWildcard directly since it must distinguish NODATA from NXDOMAIN.
func (z *Zone) GetRecords(owner string, rrtype uint16) []dns.RR {
	if records := z.LookupExact(owner, rrtype); len(records) > 0 {
		return records
	}
	return z.LookupWildcard(owner, rrtype)
}

// GetAllRecords returns every record in the zone in unspecified order,
// SOA included. Kept for compatibility with callers that don't need the
// AXFR SOA-bookended shape; see AXFRRecords for that.
func (z *Zone) GetAllRecords() []dns.RR {
	var result []dns.RR
	for _, typeMap := range z.Records {
		for _, records := range typeMap {
			result = append(result, records...)
		}
	}
	return result
}

// SOARecord synthesizes the SOA record used in negative-response authority
// sections: a copy of the zone's SOA with the header TTL overridden to the
// SOA's own Minttl field, per RFC 1035 §3.3.13/§4.3.2 (the SOA minimum field
// governs negative-caching TTL, which need not match the SOA RR's own TTL).
func (z *Zone) SOARecord() *dns.SOA {
	if z.SOA == nil {
		return nil
	}
	soa := *z.SOA
	soa.Hdr.Ttl = z.SOA.Minttl
	return &soa
}

// AXFRRecords returns the zone's records in AXFR transfer order: the SOA
// first, every other record exactly once, then the SOA again.
func (z *Zone) AXFRRecords() []dns.RR {
	if z.SOA == nil {
		return nil
	}

	result := make([]dns.RR, 0, 2+len(z.Records))
	result = append(result, z.SOA)

	for owner, typeMap := range z.Records {
		for rrtype, records := range typeMap {
			if owner == z.Origin && rrtype == dns.TypeSOA {
				continue
			}
			result = append(result, records...)
		}
	}

	result = append(result, z.SOA)
	return result
}

// GetNameservers returns the NS records at the zone apex.
func (z *Zone) GetNameservers() []*dns.NS {
	records := z.LookupExact(z.Origin, dns.TypeNS)
	ns := make([]*dns.NS, 0, len(records))
	for _, rr := range records {
		if n, ok := rr.(*dns.NS); ok {
			ns = append(ns, n)
		}
	}
	return ns
}

// Validate performs structural validation of the zone.
func (z *Zone) Validate() error {
	if z.SOA == nil {
		return fmt.Errorf("zone %s missing SOA record", z.Origin)
	}
	if dns.Fqdn(z.SOA.Header().Name) != z.Origin {
		return fmt.Errorf("SOA record name %s does not match origin %s", z.SOA.Header().Name, z.Origin)
	}

	ns := z.GetNameservers()
	if len(ns) == 0 {
		return fmt.Errorf("zone %s has no nameservers", z.Origin)
	}

	for _, n := range ns {
		target := n.Ns
		if dns.IsSubDomain(z.Origin, target) {
			hasGlue := len(z.LookupExact(target, dns.TypeA)) > 0 || len(z.LookupExact(target, dns.TypeAAAA)) > 0
			if !hasGlue {
				return fmt.Errorf("nameserver %s in zone but missing glue records", target)
			}
		}
	}

	for owner, typeMap := range z.Records {
		if cnames, hasCNAME := typeMap[dns.TypeCNAME]; hasCNAME {
			if len(typeMap) > 1 {
				return fmt.Errorf("CNAME record at %s coexists with other records", owner)
			}
			if len(cnames) > 1 {
				return fmt.Errorf("multiple CNAME records at %s", owner)
			}
		}
	}

	for owner, typeMap := range z.Records {
		mxRecords, ok := typeMap[dns.TypeMX]
		if !ok {
			continue
		}
		for _, rr := range mxRecords {
			mx := rr.(*dns.MX)
			if mx.Mx == "." {
				continue // null MX, RFC 7505
			}
			if len(z.LookupExact(mx.Mx, dns.TypeCNAME)) > 0 {
				return fmt.Errorf("MX record at %s points to CNAME %s", owner, mx.Mx)
			}
		}
	}

	return nil
}

// IncrementSerial bumps the zone's SOA serial using YYYYMMDDNN convention
// when the current serial is behind today's date, otherwise a plain
// increment.
func (z *Zone) IncrementSerial() error {
	if z.SOA == nil {
		return fmt.Errorf("no SOA record to increment")
	}

	current := z.SOA.Serial
	today := time.Now().Format("20060102")
	var todaySerial uint32
	fmt.Sscanf(today+"00", "%d", &todaySerial)

	switch {
	case current < todaySerial:
		z.SOA.Serial = todaySerial
	case current >= todaySerial && current < todaySerial+99:
		z.SOA.Serial++
	default:
		z.SOA.Serial++
	}

	return nil
}

// Clone returns a deep copy of the zone.
func (z *Zone) Clone() *Zone {
	clone := &Zone{
		Name:    z.Name,
		Origin:  z.Origin,
		Class:   z.Class,
		Records: make(map[string]map[uint16][]dns.RR),
	}

	if z.SOA != nil {
		clone.SOA = dns.Copy(z.SOA).(*dns.SOA)
	}

	for owner, typeMap := range z.Records {
		clone.Records[owner] = make(map[uint16][]dns.RR)
		for rrtype, records := range typeMap {
			clone.Records[owner][rrtype] = make([]dns.RR, len(records))
			for i, rr := range records {
				clone.Records[owner][rrtype][i] = dns.Copy(rr)
			}
		}
	}

	return clone
}

// fullyQualify qualifies name relative to the zone origin, honoring "@" as
// the origin itself.
func (z *Zone) fullyQualify(name string) string {
	if name == "" || name == "@" {
		return z.Origin
	}
	if name[len(name)-1] == '.' {
		return name
	}
	return name + "." + z.Origin
}

func joinLabels(labels []string) string {
	if len(labels) == 0 {
		return "."
	}
	result := ""
	for _, label := range labels {
		result += label + "."
	}
	return result
}

// Stats summarizes a zone's record inventory.
type Stats struct {
	Name       string
	RecordSets int
	Records    int
	Owners     int
}

// GetStats returns zone statistics.
func (z *Zone) GetStats() Stats {
	recordSets := 0
	records := 0

	for _, typeMap := range z.Records {
		for _, rrs := range typeMap {
			recordSets++
			records += len(rrs)
		}
	}

	return Stats{
		Name:       z.Name,
		RecordSets: recordSets,
		Records:    records,
		Owners:     len(z.Records),
	}
}
