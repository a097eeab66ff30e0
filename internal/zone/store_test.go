package zone

import (
	"testing"

	"github.com/miekg/dns"
)

func soaFor(origin string) *dns.SOA {
	return &dns.SOA{
		Hdr:     dns.RR_Header{Name: origin, Rrtype: dns.TypeSOA, Class: dns.ClassINET, Ttl: 3600},
		Ns:      "ns1." + origin,
		Mbox:    "admin." + origin,
		Serial:  1,
		Refresh: 7200,
		Retry:   3600,
		Expire:  1209600,
		Minttl:  3600,
	}
}

func TestStore_FindZone_ExactMatch(t *testing.T) {
	s := NewStore()
	z := New("example.com")
	z.AddRecord(soaFor("example.com."))
	s.Add(z)

	if got := s.FindZone("example.com."); got != z {
		t.Fatalf("FindZone(exact) = %v, want %v", got, z)
	}
}

func TestStore_FindZone_Miss(t *testing.T) {
	s := NewStore()
	z := New("example.com")
	z.AddRecord(soaFor("example.com."))
	s.Add(z)

	if got := s.FindZone("example.org."); got != nil {
		t.Fatalf("FindZone(miss) = %v, want nil", got)
	}
}

func TestStore_FindZone_LongestSuffix(t *testing.T) {
	s := NewStore()

	parent := New("example.")
	parent.AddRecord(soaFor("example."))
	s.Add(parent)

	child := New("a.example.")
	child.AddRecord(soaFor("a.example."))
	s.Add(child)

	got := s.FindZone("x.a.example.")
	if got != child {
		t.Fatalf("FindZone(longest suffix) = %v, want the a.example. zone", got)
	}

	got = s.FindZone("y.example.")
	if got != parent {
		t.Fatalf("FindZone(parent) = %v, want the example. zone", got)
	}
}
