// Package name implements the canonical DNS name ordering that RFC 4034 NSEC
// coverage tests depend on; everything else in this project speaks plain
// strings and github.com/miekg/dns helpers directly.
package name

import (
	"strings"

	"github.com/miekg/dns"
)

// Name is an immutable, lowercased, fully-qualified domain name with a
// cached label slice for repeated canonical comparisons.
type Name struct {
	text   string // lowercased, fully qualified ("www.example.com.")
	labels []string
}

// New parses text relative to origin (origin is ignored if text is already
// fully qualified) and returns its canonicalized form.
func New(text, origin string) Name {
	qualified := text
	if !strings.HasSuffix(text, ".") {
		qualified = text + "." + strings.TrimSuffix(origin, ".") + "."
	}
	qualified = dns.Fqdn(strings.ToLower(qualified))
	return Name{text: qualified, labels: dns.SplitDomainName(qualified)}
}

// FromLabels builds a Name from pre-split labels, leftmost label first
// (i.e. labels[len-1] is the TLD).
func FromLabels(labels []string) Name {
	lowered := make([]string, len(labels))
	for i, l := range labels {
		lowered[i] = strings.ToLower(l)
	}
	text := dns.Fqdn(strings.Join(lowered, "."))
	return Name{text: text, labels: lowered}
}

// String returns the fully qualified, lowercased textual form.
func (n Name) String() string { return n.text }

// Wire returns the canonical wire-format encoding (RFC 4034 §6.2): each
// label length-prefixed, lowercased, terminated by the root label.
func (n Name) Wire() []byte {
	buf := make([]byte, 0, len(n.text))
	for _, label := range n.labels {
		buf = append(buf, byte(len(label)))
		buf = append(buf, []byte(label)...)
	}
	return append(buf, 0)
}

// LabelCount returns the number of labels, excluding the root.
func (n Name) LabelCount() int { return len(n.labels) }

// Equal reports whether two names are the same after canonicalization.
func (n Name) Equal(other Name) bool { return n.text == other.text }

// IsSubdomainOf reports whether n is equal to or a descendant of zone.
func (n Name) IsSubdomainOf(zone Name) bool {
	return dns.IsSubDomain(zone.text, n.text)
}

// Compare implements RFC 4034 §6.1 canonical DNS name ordering: compare
// labels from the most significant (rightmost, closest to the root) down,
// each label compared byte-wise on its lowercased form; a name with fewer
// labels sorts before an otherwise-identical name with more.
func Compare(a, b Name) int {
	ai, bi := len(a.labels)-1, len(b.labels)-1
	for ai >= 0 && bi >= 0 {
		if c := strings.Compare(a.labels[ai], b.labels[bi]); c != 0 {
			return c
		}
		ai--
		bi--
	}
	switch {
	case ai < bi:
		return -1
	case ai > bi:
		return 1
	default:
		return 0
	}
}
