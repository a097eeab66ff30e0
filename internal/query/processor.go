// Package query implements the authoritative query-resolution algorithm: a
// pure function from an incoming request and a zone store to a response
// message, with no I/O of its own.
package query

import (
	"github.com/miekg/dns"

	"github.com/dnsscience/dnsscienced/internal/zone"
)

// DefaultUDPSize is the payload size assumed for a request that carries no
// EDNS0 OPT record.
const DefaultUDPSize = 512

// AdvertisedUDPSize is the payload size this server advertises in its own
// EDNS0 OPT record on every response.
const AdvertisedUDPSize = 4096

// Process resolves req against store and returns the response message. It
// performs no I/O and touches no shared mutable state beyond reading store;
// callers own transport concerns (truncation, retries, ACLs).
func Process(req *dns.Msg, store *zone.Store) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.RecursionAvailable = false

	if req.Opcode != dns.OpcodeQuery {
		resp.Rcode = dns.RcodeNotImplemented
		return resp
	}

	if len(req.Question) == 0 {
		resp.Rcode = dns.RcodeFormatError
		return resp
	}

	question := req.Question[0]
	resp.Question = []dns.Question{question}

	opt := req.IsEdns0()
	dnssecOK := opt != nil && opt.Do()

	if question.Qtype == dns.TypeAXFR {
		resp.Authoritative = true
		attachEDNS(resp, opt, dnssecOK)
		return resp
	}

	qname := question.Name
	qtype := question.Qtype

	z := store.FindZone(qname)
	if z == nil {
		resp.Rcode = dns.RcodeRefused
		return resp
	}

	resp.Authoritative = true
	resolveInZone(resp, z, qname, qtype)

	if resp.Rcode == dns.RcodeSuccess && len(resp.Answer) > 0 {
		for _, ns := range z.GetNameservers() {
			resp.Ns = append(resp.Ns, ns)
		}
	}

	attachEDNS(resp, opt, dnssecOK)
	return resp
}

// resolveInZone fills in resp.Answer/Ns and resp.Rcode for qname/qtype within
// z, chasing a single CNAME hop and falling back to wildcard synthesis
// exactly as spec'd: exact match wins, then CNAME (exact or wildcard), then
// NODATA (name exists, nothing of this type), then NXDOMAIN.
func resolveInZone(resp *dns.Msg, z *zone.Zone, qname string, qtype uint16) {
	nameExists := z.ContainsName(qname)

	var records []dns.RR
	if nameExists {
		records = z.LookupExact(qname, qtype)
	} else {
		records = z.LookupWildcard(qname, qtype)
	}

	if len(records) > 0 {
		resp.Answer = append(resp.Answer, records...)
		resp.Rcode = dns.RcodeSuccess
		return
	}

	// CNAME at this owner: the requested type isn't a direct answer, but a
	// CNAME always wins over NODATA/NXDOMAIN when present (RFC 1034 §3.6.2).
	var cnames []dns.RR
	if nameExists {
		cnames = z.LookupExact(qname, dns.TypeCNAME)
	} else {
		cnames = z.LookupWildcard(qname, dns.TypeCNAME)
	}

	if len(cnames) > 0 {
		resp.Answer = append(resp.Answer, cnames...)
		resp.Rcode = dns.RcodeSuccess

		// Chase exactly one hop: if the target is in this same zone, append
		// its records of the requested type too. A target outside the zone,
		// or a second CNAME, is left for the resolver/client to follow.
		if qtype != dns.TypeCNAME {
			cname := cnames[0].(*dns.CNAME)
			if target := z.LookupExact(cname.Target, qtype); len(target) > 0 {
				resp.Answer = append(resp.Answer, target...)
			}
		}
		return
	}

	// The authority-section SOA for NODATA/NXDOMAIN carries the SOA's minimum
	// field as its TTL, not the SOA RR's own header TTL (RFC 1035 §4.3.2):
	// it governs how long a resolver negatively caches this answer.
	if soa := z.SOARecord(); soa != nil {
		resp.Ns = append(resp.Ns, soa)
	}

	if nameExists {
		resp.Rcode = dns.RcodeSuccess // NODATA: name exists, no record of this type
	} else {
		resp.Rcode = dns.RcodeNameError // NXDOMAIN
	}
}

// attachEDNS advertises our UDP payload size and echoes the DO bit whenever
// the request carried an OPT record, matching the original opt-in-opt-out
// behavior: a request with no EDNS0 gets a plain response.
func attachEDNS(resp *dns.Msg, reqOpt *dns.OPT, dnssecOK bool) {
	if reqOpt == nil {
		return
	}

	respOpt := new(dns.OPT)
	respOpt.Hdr.Name = "."
	respOpt.Hdr.Rrtype = dns.TypeOPT
	respOpt.SetUDPSize(AdvertisedUDPSize)
	respOpt.SetVersion(0)
	respOpt.SetDo(dnssecOK)

	resp.Extra = append(resp.Extra, respOpt)
}
