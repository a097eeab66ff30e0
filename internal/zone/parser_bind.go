package zone

import (
	"bufio"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/miekg/dns"
)

// ParseBIND parses an RFC 1035 master-file ("BIND-style") zone file from
// disk and returns the resulting Zone.
func ParseBIND(filename, origin string, cfg Config) (*Zone, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read zone file: %w", err)
	}
	defer f.Close()

	return ParseBINDReader(f, origin, cfg)
}

// ParseBINDReader parses RFC 1035 master-file syntax from r.
func ParseBINDReader(r io.Reader, origin string, cfg Config) (*Zone, error) {
	origin = dns.Fqdn(origin)
	currentOrigin := origin
	defaultTTL := cfg.DefaultTTL
	if defaultTTL == 0 {
		defaultTTL = 3600
	}

	lines, err := logicalLines(r)
	if err != nil {
		return nil, err
	}

	var z *Zone
	var lastOwner string

	for _, ll := range lines {
		text := ll.text
		if text == "" {
			continue
		}

		if strings.HasPrefix(text, "$") {
			fields := strings.Fields(text)
			switch strings.ToUpper(fields[0]) {
			case "$ORIGIN":
				if len(fields) >= 2 {
					currentOrigin = qualify(fields[1], currentOrigin)
				}
			case "$TTL":
				if len(fields) >= 2 {
					v, err := strconv.ParseUint(fields[1], 10, 32)
					if err != nil {
						return nil, fmt.Errorf("line %d: invalid $TTL: %w", ll.lineNum, err)
					}
					defaultTTL = uint32(v)
				}
			default:
				// unknown directive: warn and ignore
				fmt.Fprintf(os.Stderr, "zone: line %d: ignoring unsupported directive %s\n", ll.lineNum, fields[0])
			}
			continue
		}

		rr, owner, skip, err := parseRecord(text, currentOrigin, defaultTTL, lastOwner, ll.lineNum, cfg)
		if err != nil {
			return nil, err
		}
		if skip {
			continue
		}
		lastOwner = owner

		if rr.Header().Rrtype == dns.TypeSOA && z == nil {
			z = New(origin)
			z.Origin = origin
		}
		if z != nil {
			if err := z.AddRecord(rr); err != nil {
				return nil, fmt.Errorf("line %d: %w", ll.lineNum, err)
			}
		}
	}

	if z == nil {
		return nil, fmt.Errorf("zone file must contain an SOA record")
	}

	return z, nil
}

type logicalLine struct {
	text    string
	lineNum int
}

// logicalLines performs the lexical preprocessing pass: it strips
// non-quoted ';' comments, joins parenthesized multi-line records into one
// logical line, and drops blank/comment-only lines.
func logicalLines(r io.Reader) ([]logicalLine, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var result []logicalLine
	var acc strings.Builder
	depth := 0
	accStartLine := 0
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		stripped := stripComment(scanner.Text())

		if depth == 0 {
			if strings.TrimSpace(stripped) == "" {
				continue
			}
			accStartLine = lineNum
			acc.Reset()
		}

		for _, c := range stripped {
			switch c {
			case '(':
				depth++
			case ')':
				depth--
			}
		}
		cleaned := strings.NewReplacer("(", " ", ")", " ").Replace(stripped)
		acc.WriteString(" ")
		acc.WriteString(cleaned)

		if depth > 0 {
			continue
		}
		depth = 0

		text := strings.TrimSpace(acc.String())
		if text != "" {
			result = append(result, logicalLine{text: text, lineNum: accStartLine})
		}
		acc.Reset()
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// stripComment removes a ';' comment, but only when the ';' falls outside a
// quoted string on this physical line.
func stripComment(line string) string {
	inQuote := false
	for i, c := range line {
		switch c {
		case '"':
			inQuote = !inQuote
		case ';':
			if !inQuote {
				return line[:i]
			}
		}
	}
	return line
}

func qualify(name, origin string) string {
	if name == "@" {
		return origin
	}
	if strings.HasSuffix(name, ".") {
		return dns.Fqdn(name)
	}
	return dns.Fqdn(name + "." + origin)
}

// parseRecord parses one logical line into an RR. Returns skip=true for
// lines that should be silently dropped (unknown type, decode failure in a
// DNSSEC field) without failing the whole parse.
func parseRecord(text, origin string, defaultTTL uint32, lastOwner string, lineNum int, cfg Config) (dns.RR, string, bool, error) {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return nil, "", true, nil
	}

	idx := 0
	var owner string

	switch {
	case fields[idx] == "@":
		owner = origin
		idx++
	case strings.HasPrefix(fields[idx], "*"):
		owner = qualify(fields[idx], origin)
		idx++
	case isKnownClassOrType(fields[idx]) || isAllDigits(fields[idx]):
		// no owner on this line: reuse the previous one (BIND convention)
		if lastOwner == "" {
			return nil, "", false, fmt.Errorf("line %d: record has no owner name and none precedes it", lineNum)
		}
		owner = lastOwner
	default:
		owner = qualify(fields[idx], origin)
		idx++
	}

	ttl := defaultTTL
	// TTL and class may appear in either order.
	for i := 0; i < 2 && idx < len(fields); i++ {
		if isAllDigits(fields[idx]) {
			v, err := strconv.ParseUint(fields[idx], 10, 32)
			if err != nil {
				return nil, "", false, fmt.Errorf("line %d: invalid TTL: %w", lineNum, err)
			}
			ttl = uint32(v)
			idx++
			continue
		}
		if strings.EqualFold(fields[idx], "IN") {
			idx++
			continue
		}
		break
	}

	if idx >= len(fields) {
		return nil, "", true, nil
	}
	rtype := strings.ToUpper(fields[idx])
	idx++
	rest := fields[idx:]

	hdr := dns.RR_Header{Name: owner, Class: dns.ClassINET, Ttl: ttl}

	rr, ok, err := buildRR(rtype, hdr, rest, origin, lineNum, cfg)
	if err != nil {
		return nil, "", false, err
	}
	if !ok {
		return nil, "", true, nil
	}
	return rr, owner, false, nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func isKnownClassOrType(s string) bool {
	if strings.EqualFold(s, "IN") || strings.EqualFold(s, "CH") || strings.EqualFold(s, "HS") {
		return true
	}
	_, ok := dns.StringToType[strings.ToUpper(s)]
	return ok
}

func buildRR(rtype string, hdr dns.RR_Header, rest []string, origin string, lineNum int, cfg Config) (dns.RR, bool, error) {
	warn := func(format string, args ...interface{}) {
		fmt.Fprintf(os.Stderr, "zone: line %d: "+format+"\n", append([]interface{}{lineNum}, args...)...)
	}

	switch rtype {
	case "A":
		if len(rest) < 1 {
			return nil, false, fmt.Errorf("line %d: A record missing address", lineNum)
		}
		ip := net.ParseIP(rest[0]).To4()
		if ip == nil {
			return nil, false, fmt.Errorf("line %d: invalid A address %q", lineNum, rest[0])
		}
		hdr.Rrtype = dns.TypeA
		return &dns.A{Hdr: hdr, A: ip}, true, nil

	case "AAAA":
		if len(rest) < 1 {
			return nil, false, fmt.Errorf("line %d: AAAA record missing address", lineNum)
		}
		ip := net.ParseIP(rest[0])
		if ip == nil {
			return nil, false, fmt.Errorf("line %d: invalid AAAA address %q", lineNum, rest[0])
		}
		hdr.Rrtype = dns.TypeAAAA
		return &dns.AAAA{Hdr: hdr, AAAA: ip}, true, nil

	case "NS":
		if len(rest) < 1 {
			return nil, false, fmt.Errorf("line %d: NS record missing target", lineNum)
		}
		hdr.Rrtype = dns.TypeNS
		return &dns.NS{Hdr: hdr, Ns: qualify(rest[0], origin)}, true, nil

	case "CNAME":
		if len(rest) < 1 {
			return nil, false, fmt.Errorf("line %d: CNAME record missing target", lineNum)
		}
		hdr.Rrtype = dns.TypeCNAME
		return &dns.CNAME{Hdr: hdr, Target: qualify(rest[0], origin)}, true, nil

	case "PTR":
		if len(rest) < 1 {
			return nil, false, fmt.Errorf("line %d: PTR record missing target", lineNum)
		}
		hdr.Rrtype = dns.TypePTR
		return &dns.PTR{Hdr: hdr, Ptr: qualify(rest[0], origin)}, true, nil

	case "SOA":
		if len(rest) < 7 {
			return nil, false, fmt.Errorf("line %d: SOA record needs 7 fields, got %d", lineNum, len(rest))
		}
		serial, err := parseUint32(rest[2], "SOA serial", lineNum)
		if err != nil {
			return nil, false, err
		}
		refresh, err := parseUint32(rest[3], "SOA refresh", lineNum)
		if err != nil {
			return nil, false, err
		}
		retry, err := parseUint32(rest[4], "SOA retry", lineNum)
		if err != nil {
			return nil, false, err
		}
		expire, err := parseUint32(rest[5], "SOA expire", lineNum)
		if err != nil {
			return nil, false, err
		}
		minimum, err := parseUint32(rest[6], "SOA minimum", lineNum)
		if err != nil {
			return nil, false, err
		}
		hdr.Rrtype = dns.TypeSOA
		return &dns.SOA{
			Hdr:     hdr,
			Ns:      qualify(rest[0], origin),
			Mbox:    qualify(rest[1], origin),
			Serial:  serial,
			Refresh: refresh,
			Retry:   retry,
			Expire:  expire,
			Minttl:  minimum,
		}, true, nil

	case "MX":
		if len(rest) < 2 {
			return nil, false, fmt.Errorf("line %d: MX record needs preference and exchange", lineNum)
		}
		pref, err := strconv.ParseUint(rest[0], 10, 16)
		if err != nil {
			return nil, false, fmt.Errorf("line %d: invalid MX preference: %w", lineNum, err)
		}
		hdr.Rrtype = dns.TypeMX
		return &dns.MX{Hdr: hdr, Preference: uint16(pref), Mx: qualify(rest[1], origin)}, true, nil

	case "TXT":
		if len(rest) < 1 {
			return nil, false, fmt.Errorf("line %d: TXT record missing data", lineNum)
		}
		hdr.Rrtype = dns.TypeTXT
		return &dns.TXT{Hdr: hdr, Txt: parseTXTStrings(rest)}, true, nil

	case "SRV":
		if len(rest) < 4 {
			return nil, false, fmt.Errorf("line %d: SRV record needs 4 fields", lineNum)
		}
		priority, err := strconv.ParseUint(rest[0], 10, 16)
		if err != nil {
			return nil, false, fmt.Errorf("line %d: invalid SRV priority: %w", lineNum, err)
		}
		weight, err := strconv.ParseUint(rest[1], 10, 16)
		if err != nil {
			return nil, false, fmt.Errorf("line %d: invalid SRV weight: %w", lineNum, err)
		}
		port, err := strconv.ParseUint(rest[2], 10, 16)
		if err != nil {
			return nil, false, fmt.Errorf("line %d: invalid SRV port: %w", lineNum, err)
		}
		hdr.Rrtype = dns.TypeSRV
		return &dns.SRV{
			Hdr:      hdr,
			Priority: uint16(priority),
			Weight:   uint16(weight),
			Port:     uint16(port),
			Target:   qualify(rest[3], origin),
		}, true, nil

	case "CAA":
		if len(rest) < 3 {
			return nil, false, fmt.Errorf("line %d: CAA record needs 3 fields", lineNum)
		}
		flag, err := strconv.ParseUint(rest[0], 10, 8)
		if err != nil {
			return nil, false, fmt.Errorf("line %d: invalid CAA flag: %w", lineNum, err)
		}
		hdr.Rrtype = dns.TypeCAA
		return &dns.CAA{
			Hdr:   hdr,
			Flag:  uint8(flag),
			Tag:   strings.Trim(rest[1], `"`),
			Value: strings.Trim(strings.Join(rest[2:], " "), `"`),
		}, true, nil

	case "DNSKEY":
		if len(rest) < 4 {
			return nil, false, fmt.Errorf("line %d: DNSKEY record needs 4 fields", lineNum)
		}
		flags, err := strconv.ParseUint(rest[0], 10, 16)
		if err != nil {
			return nil, false, fmt.Errorf("line %d: invalid DNSKEY flags: %w", lineNum, err)
		}
		proto, err := strconv.ParseUint(rest[1], 10, 8)
		if err != nil {
			return nil, false, fmt.Errorf("line %d: invalid DNSKEY protocol: %w", lineNum, err)
		}
		alg, err := strconv.ParseUint(rest[2], 10, 8)
		if err != nil {
			return nil, false, fmt.Errorf("line %d: invalid DNSKEY algorithm: %w", lineNum, err)
		}
		key := strings.Join(rest[3:], "")
		if _, err := base64.StdEncoding.DecodeString(key); err != nil {
			warn("skipping DNSKEY: invalid base64: %v", err)
			return nil, false, nil
		}
		hdr.Rrtype = dns.TypeDNSKEY
		return &dns.DNSKEY{
			Hdr:       hdr,
			Flags:     uint16(flags),
			Protocol:  uint8(proto),
			Algorithm: uint8(alg),
			PublicKey: key,
		}, true, nil

	case "RRSIG":
		if len(rest) < 9 {
			return nil, false, fmt.Errorf("line %d: RRSIG record needs 9 fields", lineNum)
		}
		typeCovered, ok := dns.StringToType[strings.ToUpper(rest[0])]
		if !ok {
			warn("skipping RRSIG: unknown type-covered %q", rest[0])
			return nil, false, nil
		}
		alg, err := strconv.ParseUint(rest[1], 10, 8)
		if err != nil {
			return nil, false, fmt.Errorf("line %d: invalid RRSIG algorithm: %w", lineNum, err)
		}
		labels, err := strconv.ParseUint(rest[2], 10, 8)
		if err != nil {
			return nil, false, fmt.Errorf("line %d: invalid RRSIG labels: %w", lineNum, err)
		}
		origTTL, err := parseUint32(rest[3], "RRSIG original TTL", lineNum)
		if err != nil {
			return nil, false, err
		}
		expiration, err := parseUint32(rest[4], "RRSIG expiration", lineNum)
		if err != nil {
			return nil, false, err
		}
		inception, err := parseUint32(rest[5], "RRSIG inception", lineNum)
		if err != nil {
			return nil, false, err
		}
		keyTag, err := strconv.ParseUint(rest[6], 10, 16)
		if err != nil {
			return nil, false, fmt.Errorf("line %d: invalid RRSIG key tag: %w", lineNum, err)
		}
		sig := strings.Join(rest[8:], "")
		if _, err := base64.StdEncoding.DecodeString(sig); err != nil {
			warn("skipping RRSIG: invalid base64 signature: %v", err)
			return nil, false, nil
		}
		hdr.Rrtype = dns.TypeRRSIG
		return &dns.RRSIG{
			Hdr:         hdr,
			TypeCovered: typeCovered,
			Algorithm:   uint8(alg),
			Labels:      uint8(labels),
			OrigTtl:     origTTL,
			Expiration:  expiration,
			Inception:   inception,
			KeyTag:      uint16(keyTag),
			SignerName:  qualify(rest[7], origin),
			Signature:   sig,
		}, true, nil

	case "NSEC":
		if len(rest) < 1 {
			return nil, false, fmt.Errorf("line %d: NSEC record missing next name", lineNum)
		}
		var bitmap []uint16
		for _, t := range rest[1:] {
			if tv, ok := dns.StringToType[strings.ToUpper(t)]; ok {
				bitmap = append(bitmap, tv)
			} else {
				warn("ignoring unknown type %q in NSEC bitmap", t)
			}
		}
		hdr.Rrtype = dns.TypeNSEC
		return &dns.NSEC{Hdr: hdr, NextDomain: qualify(rest[0], origin), TypeBitMap: bitmap}, true, nil

	case "DS":
		if len(rest) < 4 {
			return nil, false, fmt.Errorf("line %d: DS record needs 4 fields", lineNum)
		}
		keyTag, err := strconv.ParseUint(rest[0], 10, 16)
		if err != nil {
			return nil, false, fmt.Errorf("line %d: invalid DS key tag: %w", lineNum, err)
		}
		alg, err := strconv.ParseUint(rest[1], 10, 8)
		if err != nil {
			return nil, false, fmt.Errorf("line %d: invalid DS algorithm: %w", lineNum, err)
		}
		digestType, err := strconv.ParseUint(rest[2], 10, 8)
		if err != nil {
			return nil, false, fmt.Errorf("line %d: invalid DS digest type: %w", lineNum, err)
		}
		digest := strings.Join(rest[3:], "")
		if _, err := hex.DecodeString(digest); err != nil {
			warn("skipping DS: invalid hex digest: %v", err)
			return nil, false, nil
		}
		hdr.Rrtype = dns.TypeDS
		return &dns.DS{
			Hdr:        hdr,
			KeyTag:     uint16(keyTag),
			Algorithm:  uint8(alg),
			DigestType: uint8(digestType),
			Digest:     strings.ToUpper(digest),
		}, true, nil

	default:
		warn("skipping unsupported record type %q", rtype)
		return nil, false, nil
	}
}

func parseUint32(s, field string, lineNum int) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("line %d: invalid %s %q: %w", lineNum, field, s, err)
	}
	return uint32(v), nil
}

// parseTXTStrings reassembles one or more quoted TXT character-strings from
// the whitespace-split remainder of a TXT record line.
func parseTXTStrings(rest []string) []string {
	joined := strings.Join(rest, " ")
	var out []string
	var cur strings.Builder
	inQuote := false
	for _, r := range joined {
		switch {
		case r == '"':
			if inQuote {
				out = append(out, cur.String())
				cur.Reset()
			}
			inQuote = !inQuote
		default:
			if inQuote {
				cur.WriteRune(r)
			}
		}
	}
	if len(out) == 0 {
		out = []string{strings.Trim(joined, `"`)}
	}
	return out
}
