package zone

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"gopkg.in/yaml.v3"
)

// DNSZoneFile represents the structure of a .dnszone YAML file
type DNSZoneFile struct {
	Zone      ZoneSection               `yaml:"zone"`
	SOA       SOASection                `yaml:"soa"`
	Records   map[string]RecordSection  `yaml:"records"`
	Templates map[string]TemplateSection `yaml:"templates,omitempty"`
	Apply     []ApplySection            `yaml:"apply,omitempty"`
	DNSSEC    *DNSSECSection            `yaml:"dnssec,omitempty"`
}

// ZoneSection holds zone metadata
type ZoneSection struct {
	Name    string `yaml:"name"`
	TTL     string `yaml:"ttl,omitempty"`
	Class   string `yaml:"class,omitempty"`
	Comment string `yaml:"comment,omitempty"`
}

// SOASection holds SOA record details
type SOASection struct {
	PrimaryNS   string `yaml:"primary_ns"`
	Contact     string `yaml:"contact"`
	Serial      string `yaml:"serial"`      // Can be "auto" or number
	Refresh     string `yaml:"refresh"`
	Retry       string `yaml:"retry"`
	Expire      string `yaml:"expire"`
	NegativeTTL string `yaml:"negative_ttl"`
}

// RecordSection holds records for an owner name
type RecordSection struct {
	A       interface{} `yaml:"A,omitempty"`
	AAAA    interface{} `yaml:"AAAA,omitempty"`
	CNAME   string      `yaml:"CNAME,omitempty"`
	MX      interface{} `yaml:"MX,omitempty"`
	NS      interface{} `yaml:"NS,omitempty"`
	TXT     interface{} `yaml:"TXT,omitempty"`
	SRV     interface{} `yaml:"SRV,omitempty"`
	PTR     string      `yaml:"PTR,omitempty"`
	TLSA    interface{} `yaml:"TLSA,omitempty"`
	HTTPS   interface{} `yaml:"HTTPS,omitempty"`
	SVCB    interface{} `yaml:"SVCB,omitempty"`
	CAA     interface{} `yaml:"CAA,omitempty"`

	TTL     int    `yaml:"ttl,omitempty"`
	Comment string `yaml:"comment,omitempty"`
	Reverse bool   `yaml:"reverse,omitempty"`
}

// MXRecord represents an MX record
type MXRecord struct {
	Priority int    `yaml:"priority"`
	Target   string `yaml:"target"`
}

// SRVRecord represents an SRV record
type SRVRecord struct {
	Priority int    `yaml:"priority"`
	Weight   int    `yaml:"weight"`
	Port     int    `yaml:"port"`
	Target   string `yaml:"target"`
}

// TLSARecord represents a TLSA record
type TLSARecord struct {
	Usage     int    `yaml:"usage"`
	Selector  int    `yaml:"selector"`
	Matching  int    `yaml:"matching"`
	Data      string `yaml:"data"`
}

// HTTPSRecord represents an HTTPS/SVCB record
type HTTPSRecord struct {
	Priority int                    `yaml:"priority"`
	Target   string                 `yaml:"target"`
	Params   map[string]interface{} `yaml:"params,omitempty"`
}

// CAARecord represents a CAA record
type CAARecord struct {
	Flags int    `yaml:"flags"`
	Tag   string `yaml:"tag"`
	Value string `yaml:"value"`
}

// TemplateSection defines a record template
type TemplateSection map[string]interface{}

// ApplySection applies a template to multiple names
type ApplySection struct {
	Template string                   `yaml:"template"`
	To       []map[string]interface{} `yaml:"to"`
}

// DNSSECSection holds DNSSEC configuration
type DNSSECSection struct {
	Enabled      bool          `yaml:"enabled"`
	Algorithm    string        `yaml:"algorithm,omitempty"`
	KSKLifetime  string        `yaml:"ksk-lifetime,omitempty"`
	ZSKLifetime  string        `yaml:"zsk-lifetime,omitempty"`
	NSEC3        *NSEC3Section `yaml:"nsec3,omitempty"`
}

// NSEC3Section holds NSEC3 parameters
type NSEC3Section struct {
	Enabled    bool   `yaml:"enabled"`
	Iterations int    `yaml:"iterations"`
	SaltLength int    `yaml:"salt-length"`
}

// ParseDNSZone parses a .dnszone YAML file
func ParseDNSZone(filename string, cfg Config) (*Zone, error) {
	// Read file
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	// Parse YAML
	var zf DNSZoneFile
	if err := yaml.Unmarshal(data, &zf); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	z := New(zf.Zone.Name)

	// Parse default TTL
	defaultTTL := cfg.DefaultTTL
	if zf.Zone.TTL != "" {
		if ttl, err := parseDuration(zf.Zone.TTL); err == nil {
			defaultTTL = uint32(ttl.Seconds())
		}
	}

	// Parse SOA
	soa, err := parseSOA(&zf, z.Origin, defaultTTL)
	if err != nil {
		return nil, fmt.Errorf("parse SOA: %w", err)
	}
	if err := z.AddRecord(soa); err != nil {
		return nil, fmt.Errorf("add SOA: %w", err)
	}

	// Parse records
	for owner, section := range zf.Records {
		recordTTL := defaultTTL
		if section.TTL > 0 {
			recordTTL = uint32(section.TTL)
		}

		fqdn := z.fullyQualify(owner)

		// Parse each record type
		if err := parseARecords(z, fqdn, section.A, recordTTL); err != nil {
			return nil, fmt.Errorf("parse A records for %s: %w", owner, err)
		}
		if err := parseAAAARecords(z, fqdn, section.AAAA, recordTTL); err != nil {
			return nil, fmt.Errorf("parse AAAA records for %s: %w", owner, err)
		}
		if section.CNAME != "" {
			if err := parseCNAME(z, fqdn, section.CNAME, recordTTL); err != nil {
				return nil, fmt.Errorf("parse CNAME for %s: %w", owner, err)
			}
		}
		if err := parseMXRecords(z, fqdn, section.MX, recordTTL); err != nil {
			return nil, fmt.Errorf("parse MX records for %s: %w", owner, err)
		}
		if err := parseNSRecords(z, fqdn, section.NS, recordTTL); err != nil {
			return nil, fmt.Errorf("parse NS records for %s: %w", owner, err)
		}
		if err := parseTXTRecords(z, fqdn, section.TXT, recordTTL); err != nil {
			return nil, fmt.Errorf("parse TXT records for %s: %w", owner, err)
		}
		if err := parseSRVRecords(z, fqdn, section.SRV, recordTTL); err != nil {
			return nil, fmt.Errorf("parse SRV records for %s: %w", owner, err)
		}
	}

	if err := applyTemplates(z, &zf, defaultTTL); err != nil {
		return nil, fmt.Errorf("apply templates: %w", err)
	}

	// Parse DNSSEC config
	if zf.DNSSEC != nil && zf.DNSSEC.Enabled {
		z.DNSSEC = &DNSSECConfig{
			Enabled: true,
		}
		if zf.DNSSEC.Algorithm != "" {
			z.DNSSEC.Algorithm = dnssecAlgorithm(zf.DNSSEC.Algorithm)
		}
		if zf.DNSSEC.NSEC3 != nil && zf.DNSSEC.NSEC3.Enabled {
			z.DNSSEC.NSEC3Enabled = true
			z.DNSSEC.NSEC3Iterations = zf.DNSSEC.NSEC3.Iterations
			z.DNSSEC.NSEC3SaltLength = zf.DNSSEC.NSEC3.SaltLength
		}
	}

	// A zone with no apex NS records can't be delegated to or transferred
	// sensibly; check this unconditionally rather than deferring it to the
	// opt-in Strict flag the way the rest of Validate() is gated.
	if len(z.GetNameservers()) == 0 {
		return nil, fmt.Errorf("zone %s has no nameservers", z.Origin)
	}

	if cfg.Strict {
		if err := z.Validate(); err != nil {
			return nil, fmt.Errorf("validation failed: %w", err)
		}
	}

	return z, nil
}

// parseSOA creates an SOA record from the YAML structure
func parseSOA(zf *DNSZoneFile, origin string, defaultTTL uint32) (*dns.SOA, error) {
	soa := &dns.SOA{
		Hdr: dns.RR_Header{
			Name:   origin,
			Rrtype: dns.TypeSOA,
			Class:  dns.ClassINET,
			Ttl:    defaultTTL,
		},
		Ns:   dns.Fqdn(zf.SOA.PrimaryNS),
		Mbox: formatEmailAddress(zf.SOA.Contact),
	}

	// Parse serial
	if zf.SOA.Serial == "auto" {
		// Generate serial: YYYYMMDD00
		today := time.Now().Format("20060102")
		fmt.Sscanf(today+"00", "%d", &soa.Serial)
	} else {
		var serial uint64
		fmt.Sscanf(zf.SOA.Serial, "%d", &serial)
		soa.Serial = uint32(serial)
	}

	// Parse timing values
	var err error
	if soa.Refresh, err = parseTime(zf.SOA.Refresh); err != nil {
		return nil, fmt.Errorf("invalid refresh: %w", err)
	}
	if soa.Retry, err = parseTime(zf.SOA.Retry); err != nil {
		return nil, fmt.Errorf("invalid retry: %w", err)
	}
	if soa.Expire, err = parseTime(zf.SOA.Expire); err != nil {
		return nil, fmt.Errorf("invalid expire: %w", err)
	}
	if soa.Minttl, err = parseTime(zf.SOA.NegativeTTL); err != nil {
		return nil, fmt.Errorf("invalid negative_ttl: %w", err)
	}

	return soa, nil
}

// parseARecords parses A records (IPv4)
func parseARecords(zone *Zone, owner string, data interface{}, ttl uint32) error {
	if data == nil {
		return nil
	}

	ips := []string{}
	switch v := data.(type) {
	case string:
		ips = append(ips, v)
	case []interface{}:
		for _, ip := range v {
			if ipStr, ok := ip.(string); ok {
				ips = append(ips, ipStr)
			}
		}
	default:
		return fmt.Errorf("invalid A record format")
	}

	for _, ipStr := range ips {
		ip := net.ParseIP(ipStr)
		if ip == nil || ip.To4() == nil {
			return fmt.Errorf("invalid IPv4 address: %s", ipStr)
		}

		rr := &dns.A{
			Hdr: dns.RR_Header{
				Name:   owner,
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    ttl,
			},
			A: ip.To4(),
		}
		zone.AddRecord(rr)
	}

	return nil
}

// parseAAAARecords parses AAAA records (IPv6)
func parseAAAARecords(zone *Zone, owner string, data interface{}, ttl uint32) error {
	if data == nil {
		return nil
	}

	ips := []string{}
	switch v := data.(type) {
	case string:
		ips = append(ips, v)
	case []interface{}:
		for _, ip := range v {
			if ipStr, ok := ip.(string); ok {
				ips = append(ips, ipStr)
			}
		}
	default:
		return fmt.Errorf("invalid AAAA record format")
	}

	for _, ipStr := range ips {
		ip := net.ParseIP(ipStr)
		if ip == nil || ip.To16() == nil {
			return fmt.Errorf("invalid IPv6 address: %s", ipStr)
		}

		rr := &dns.AAAA{
			Hdr: dns.RR_Header{
				Name:   owner,
				Rrtype: dns.TypeAAAA,
				Class:  dns.ClassINET,
				Ttl:    ttl,
			},
			AAAA: ip.To16(),
		}
		zone.AddRecord(rr)
	}

	return nil
}

// parseCNAME parses a CNAME record
func parseCNAME(zone *Zone, owner, target string, ttl uint32) error {
	rr := &dns.CNAME{
		Hdr: dns.RR_Header{
			Name:   owner,
			Rrtype: dns.TypeCNAME,
			Class:  dns.ClassINET,
			Ttl:    ttl,
		},
		Target: dns.Fqdn(target),
	}
	return zone.AddRecord(rr)
}

// parseMXRecords parses MX records
func parseMXRecords(zone *Zone, owner string, data interface{}, ttl uint32) error {
	if data == nil {
		return nil
	}

	mxList := []MXRecord{}
	switch v := data.(type) {
	case []interface{}:
		for _, item := range v {
			if mxMap, ok := item.(map[string]interface{}); ok {
				mx := MXRecord{}
				if priority, ok := mxMap["priority"].(int); ok {
					mx.Priority = priority
				}
				if target, ok := mxMap["target"].(string); ok {
					mx.Target = target
				}
				mxList = append(mxList, mx)
			}
		}
	default:
		return fmt.Errorf("invalid MX record format")
	}

	for _, mx := range mxList {
		rr := &dns.MX{
			Hdr: dns.RR_Header{
				Name:   owner,
				Rrtype: dns.TypeMX,
				Class:  dns.ClassINET,
				Ttl:    ttl,
			},
			Preference: uint16(mx.Priority),
			Mx:         dns.Fqdn(mx.Target),
		}
		zone.AddRecord(rr)
	}

	return nil
}

// parseNSRecords parses NS records
func parseNSRecords(zone *Zone, owner string, data interface{}, ttl uint32) error {
	if data == nil {
		return nil
	}

	nameservers := []string{}
	switch v := data.(type) {
	case string:
		nameservers = append(nameservers, v)
	case []interface{}:
		for _, ns := range v {
			if nsStr, ok := ns.(string); ok {
				nameservers = append(nameservers, nsStr)
			}
		}
	default:
		return fmt.Errorf("invalid NS record format")
	}

	for _, ns := range nameservers {
		rr := &dns.NS{
			Hdr: dns.RR_Header{
				Name:   owner,
				Rrtype: dns.TypeNS,
				Class:  dns.ClassINET,
				Ttl:    ttl,
			},
			Ns: dns.Fqdn(ns),
		}
		zone.AddRecord(rr)
	}

	return nil
}

// parseTXTRecords parses TXT records
func parseTXTRecords(zone *Zone, owner string, data interface{}, ttl uint32) error {
	if data == nil {
		return nil
	}

	txtRecords := []string{}
	switch v := data.(type) {
	case string:
		txtRecords = append(txtRecords, v)
	case []interface{}:
		for _, txt := range v {
			if txtStr, ok := txt.(string); ok {
				txtRecords = append(txtRecords, txtStr)
			}
		}
	default:
		return fmt.Errorf("invalid TXT record format")
	}

	for _, txt := range txtRecords {
		rr := &dns.TXT{
			Hdr: dns.RR_Header{
				Name:   owner,
				Rrtype: dns.TypeTXT,
				Class:  dns.ClassINET,
				Ttl:    ttl,
			},
			Txt: []string{txt},
		}
		zone.AddRecord(rr)
	}

	return nil
}

// parseSRVRecords parses SRV records
func parseSRVRecords(zone *Zone, owner string, data interface{}, ttl uint32) error {
	if data == nil {
		return nil
	}

	srvList := []SRVRecord{}
	switch v := data.(type) {
	case []interface{}:
		for _, item := range v {
			if srvMap, ok := item.(map[string]interface{}); ok {
				srv := SRVRecord{}
				if priority, ok := srvMap["priority"].(int); ok {
					srv.Priority = priority
				}
				if weight, ok := srvMap["weight"].(int); ok {
					srv.Weight = weight
				}
				if port, ok := srvMap["port"].(int); ok {
					srv.Port = port
				}
				if target, ok := srvMap["target"].(string); ok {
					srv.Target = target
				}
				srvList = append(srvList, srv)
			}
		}
	default:
		return fmt.Errorf("invalid SRV record format")
	}

	for _, srv := range srvList {
		rr := &dns.SRV{
			Hdr: dns.RR_Header{
				Name:   owner,
				Rrtype: dns.TypeSRV,
				Class:  dns.ClassINET,
				Ttl:    ttl,
			},
			Priority: uint16(srv.Priority),
			Weight:   uint16(srv.Weight),
			Port:     uint16(srv.Port),
			Target:   dns.Fqdn(srv.Target),
		}
		zone.AddRecord(rr)
	}

	return nil
}

// applyTemplates expands each "apply" block against its named template,
// substituting "{{var}}" placeholders from the per-target variable map
// before feeding the result through the same record parsers used for plain
// record sections.
func applyTemplates(z *Zone, zf *DNSZoneFile, defaultTTL uint32) error {
	for _, app := range zf.Apply {
		tmpl, ok := zf.Templates[app.Template]
		if !ok {
			return fmt.Errorf("unknown template %q", app.Template)
		}

		for _, vars := range app.To {
			name, _ := vars["name"].(string)
			if name == "" {
				return fmt.Errorf("template %q application missing required \"name\" variable", app.Template)
			}
			owner := z.fullyQualify(name)

			ttl := defaultTTL
			if raw, ok := vars["ttl"]; ok {
				switch v := raw.(type) {
				case int:
					ttl = uint32(v)
				case string:
					if parsed, err := parseTime(v); err == nil {
						ttl = parsed
					}
				}
			}

			if err := applyTemplateFields(z, owner, tmpl, vars, ttl); err != nil {
				return fmt.Errorf("template %q for %s: %w", app.Template, name, err)
			}
		}
	}
	return nil
}

// applyTemplateFields dispatches one template's fields to the matching
// record-type parser, after substituting variables.
func applyTemplateFields(z *Zone, owner string, tmpl TemplateSection, vars map[string]interface{}, ttl uint32) error {
	for field, raw := range tmpl {
		value := substituteVars(raw, vars)

		switch strings.ToUpper(field) {
		case "A":
			if err := parseARecords(z, owner, value, ttl); err != nil {
				return fmt.Errorf("field A: %w", err)
			}
		case "AAAA":
			if err := parseAAAARecords(z, owner, value, ttl); err != nil {
				return fmt.Errorf("field AAAA: %w", err)
			}
		case "CNAME":
			if target, ok := value.(string); ok && target != "" {
				if err := parseCNAME(z, owner, target, ttl); err != nil {
					return fmt.Errorf("field CNAME: %w", err)
				}
			}
		case "TXT":
			if err := parseTXTRecords(z, owner, value, ttl); err != nil {
				return fmt.Errorf("field TXT: %w", err)
			}
		case "NS":
			if err := parseNSRecords(z, owner, value, ttl); err != nil {
				return fmt.Errorf("field NS: %w", err)
			}
		case "MX":
			if err := parseMXRecords(z, owner, value, ttl); err != nil {
				return fmt.Errorf("field MX: %w", err)
			}
		case "SRV":
			if err := parseSRVRecords(z, owner, value, ttl); err != nil {
				return fmt.Errorf("field SRV: %w", err)
			}
		case "TTL", "COMMENT":
			// metadata, not a record type
		}
	}
	return nil
}

// substituteVars replaces "{{key}}" placeholders anywhere in a template
// value's string leaves with the corresponding entry from vars.
func substituteVars(value interface{}, vars map[string]interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return expandPlaceholders(v, vars)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = substituteVars(item, vars)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = substituteVars(item, vars)
		}
		return out
	default:
		return value
	}
}

func expandPlaceholders(s string, vars map[string]interface{}) string {
	for key, val := range vars {
		placeholder := "{{" + key + "}}"
		if strings.Contains(s, placeholder) {
			s = strings.ReplaceAll(s, placeholder, fmt.Sprintf("%v", val))
		}
	}
	return s
}

// Helper functions

// parseDuration parses a duration string like "1h", "30m", "1d"
func parseDuration(s string) (time.Duration, error) {
	// Support custom suffixes
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, err
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	if strings.HasSuffix(s, "w") {
		weeks, err := strconv.Atoi(strings.TrimSuffix(s, "w"))
		if err != nil {
			return 0, err
		}
		return time.Duration(weeks) * 7 * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// parseTime parses a time value (supports "1h", "30m", or raw seconds)
func parseTime(s string) (uint32, error) {
	if d, err := parseDuration(s); err == nil {
		return uint32(d.Seconds()), nil
	}
	// Try as raw number
	var seconds uint64
	if _, err := fmt.Sscanf(s, "%d", &seconds); err == nil {
		return uint32(seconds), nil
	}
	return 0, fmt.Errorf("invalid time format: %s", s)
}

// formatEmailAddress converts email to DNS format (replace @ with .)
func formatEmailAddress(email string) string {
	email = strings.ReplaceAll(email, "@", ".")
	return dns.Fqdn(email)
}

// dnssecAlgorithm converts algorithm name to number
func dnssecAlgorithm(name string) uint8 {
	switch strings.ToUpper(name) {
	case "RSASHA256":
		return dns.RSASHA256
	case "RSASHA512":
		return dns.RSASHA512
	case "ECDSAP256SHA256":
		return dns.ECDSAP256SHA256
	case "ECDSAP384SHA384":
		return dns.ECDSAP384SHA384
	case "ED25519":
		return dns.ED25519
	default:
		return dns.ECDSAP256SHA256 // Default
	}
}
