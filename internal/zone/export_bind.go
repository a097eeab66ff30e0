package zone

import (
	"fmt"
	"strings"

	"github.com/miekg/dns"
)

// ExportBIND renders the zone back out as RFC 1035 master-file text.
func (z *Zone) ExportBIND() (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "$ORIGIN %s\n", z.Origin)
	ttl := uint32(3600)
	if z.SOA != nil {
		ttl = z.SOA.Minttl
	}
	fmt.Fprintf(&b, "$TTL %d\n\n", ttl)

	if z.SOA != nil {
		b.WriteString(exportLine(z.SOA, z.Origin))
		b.WriteString("\n")
	}

	for _, ns := range z.GetNameservers() {
		b.WriteString(exportLine(ns, z.Origin))
		b.WriteString("\n")
	}

	for owner, typeMap := range z.Records {
		for rrtype, records := range typeMap {
			if rrtype == dns.TypeSOA {
				continue
			}
			if owner == z.Origin && rrtype == dns.TypeNS {
				continue // already emitted above
			}
			for _, rr := range records {
				b.WriteString(exportLine(rr, z.Origin))
				b.WriteString("\n")
			}
		}
	}

	return b.String(), nil
}

// exportLine renders rr's wire text with its owner name relativized against
// origin, matching the style operators expect from a hand-edited zone file.
func exportLine(rr dns.RR, origin string) string {
	full := rr.String()
	owner := dns.Fqdn(rr.Header().Name)
	rel := makeRelative(owner, origin)
	return rel + strings.TrimPrefix(full, owner)
}

// makeRelative expresses name relative to origin: "@" at the origin itself,
// the shortened label sequence for an in-zone name, or the name unchanged
// (minus trailing dot) when it falls outside the zone.
func makeRelative(name, origin string) string {
	name = dns.Fqdn(name)
	origin = dns.Fqdn(origin)

	if name == origin {
		return "@"
	}
	if dns.IsSubDomain(origin, name) {
		return strings.TrimSuffix(strings.TrimSuffix(name, origin), ".")
	}
	return strings.TrimSuffix(name, ".")
}

// quoteIfNeeded wraps s in double quotes when it would otherwise be
// ambiguous in master-file text: the bare wildcard/origin tokens, or any
// token containing a colon.
func quoteIfNeeded(s string) string {
	if s == "@" || s == "*" || strings.ContainsRune(s, ':') {
		return fmt.Sprintf("%q", s)
	}
	return s
}

// ConvertBINDToDNSZone reads a BIND master file and renders it as the
// declarative .dnszone YAML format (parser_dnszone.go), for operators
// migrating from hand-edited zone files to the declarative format.
func ConvertBINDToDNSZone(filename, origin string, cfg Config) (string, error) {
	z, err := ParseBIND(filename, origin, cfg)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "zone:\n  name: %s\n\n", strings.TrimSuffix(z.Origin, "."))

	if z.SOA != nil {
		fmt.Fprintf(&b, "soa:\n")
		fmt.Fprintf(&b, "  primary_ns: %s\n", z.SOA.Ns)
		fmt.Fprintf(&b, "  contact: %s\n", mboxToEmail(z.SOA.Mbox))
		fmt.Fprintf(&b, "  serial: %d\n", z.SOA.Serial)
		fmt.Fprintf(&b, "  refresh: %ds\n", z.SOA.Refresh)
		fmt.Fprintf(&b, "  retry: %ds\n", z.SOA.Retry)
		fmt.Fprintf(&b, "  expire: %ds\n", z.SOA.Expire)
		fmt.Fprintf(&b, "  negative_ttl: %ds\n\n", z.SOA.Minttl)
	}

	b.WriteString("records:\n")
	owners := make(map[string]bool)
	for owner := range z.Records {
		owners[owner] = true
	}
	for owner := range owners {
		rel := quoteIfNeeded(makeRelative(owner, z.Origin))
		fmt.Fprintf(&b, "  %s:\n", rel)
		for rrtype, records := range z.Records[owner] {
			if rrtype == dns.TypeSOA {
				continue
			}
			writeDNSZoneRecordType(&b, rrtype, records)
		}
	}

	return b.String(), nil
}

func mboxToEmail(mbox string) string {
	mbox = strings.TrimSuffix(mbox, ".")
	if i := strings.IndexByte(mbox, '.'); i >= 0 {
		return mbox[:i] + "@" + mbox[i+1:]
	}
	return mbox
}

func writeDNSZoneRecordType(b *strings.Builder, rrtype uint16, records []dns.RR) {
	switch rrtype {
	case dns.TypeA:
		b.WriteString("    A:\n")
		for _, rr := range records {
			fmt.Fprintf(b, "      - %s\n", rr.(*dns.A).A)
		}
	case dns.TypeAAAA:
		b.WriteString("    AAAA:\n")
		for _, rr := range records {
			fmt.Fprintf(b, "      - %s\n", rr.(*dns.AAAA).AAAA)
		}
	case dns.TypeCNAME:
		fmt.Fprintf(b, "    CNAME: %s\n", records[0].(*dns.CNAME).Target)
	case dns.TypeNS:
		b.WriteString("    NS:\n")
		for _, rr := range records {
			fmt.Fprintf(b, "      - %s\n", rr.(*dns.NS).Ns)
		}
	case dns.TypeMX:
		b.WriteString("    MX:\n")
		for _, rr := range records {
			mx := rr.(*dns.MX)
			fmt.Fprintf(b, "      - priority: %d\n        target: %s\n", mx.Preference, mx.Mx)
		}
	case dns.TypeTXT:
		b.WriteString("    TXT:\n")
		for _, rr := range records {
			for _, s := range rr.(*dns.TXT).Txt {
				fmt.Fprintf(b, "      - %q\n", s)
			}
		}
	case dns.TypeSRV:
		b.WriteString("    SRV:\n")
		for _, rr := range records {
			srv := rr.(*dns.SRV)
			fmt.Fprintf(b, "      - priority: %d\n        weight: %d\n        port: %d\n        target: %s\n",
				srv.Priority, srv.Weight, srv.Port, srv.Target)
		}
	}
}
