// Package dnssec implements the handful of DNSSEC verification primitives an
// authoritative server needs to serve signed zones correctly: key tag
// computation, DS digest verification, signature time validity, and NSEC
// denial-of-existence proof checking.
package dnssec

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"hash"
	"strings"

	"github.com/miekg/dns"

	"github.com/dnsscience/dnsscienced/internal/name"
)

// KeyTag computes the RFC 4034 Appendix B key tag for dnskey.
func KeyTag(dnskey *dns.DNSKEY) uint16 {
	return dnskey.KeyTag()
}

// VerifyDS reports whether ds correctly attests to dnskey, owned at
// ownerName. The digest is computed over the canonical wire-form owner name
// followed by the DNSKEY RDATA in wire form (RFC 4034 §5.1.4) — not the
// owner name's text form, which produces a digest no validator anywhere
// would accept.
func VerifyDS(ds *dns.DS, dnskey *dns.DNSKEY, ownerName name.Name) bool {
	if ds.Algorithm != dnskey.Algorithm {
		return false
	}
	if ds.KeyTag != KeyTag(dnskey) {
		return false
	}

	h := digestFor(ds.DigestType)
	if h == nil {
		return false
	}

	h.Write(ownerName.Wire())
	h.Write(dnskeyRDATAWire(dnskey))
	computed := h.Sum(nil)

	return strings.EqualFold(hex.EncodeToString(computed), ds.Digest)
}

func digestFor(digestType uint8) hash.Hash {
	switch digestType {
	case dns.SHA256:
		return sha256.New()
	case dns.SHA384:
		return sha512.New384()
	case dns.SHA512:
		return sha512.New()
	default:
		return nil
	}
}

// dnskeyRDATAWire renders the DNSKEY RDATA in wire format: flags (16 bits),
// protocol (always 3), algorithm, then the raw public key bytes.
func dnskeyRDATAWire(dnskey *dns.DNSKEY) []byte {
	pub := decodePublicKey(dnskey)
	buf := make([]byte, 0, 4+len(pub))
	buf = append(buf, byte(dnskey.Flags>>8), byte(dnskey.Flags))
	buf = append(buf, dnskey.Protocol)
	buf = append(buf, dnskey.Algorithm)
	buf = append(buf, pub...)
	return buf
}

// decodePublicKey decodes the DNSKEY's base64 public-key text back to its
// raw RDATA bytes.
func decodePublicKey(dnskey *dns.DNSKEY) []byte {
	raw, err := base64.StdEncoding.DecodeString(dnskey.PublicKey)
	if err != nil {
		return nil
	}
	return raw
}

// CheckSignatureValidity reports whether rrsig is time-valid at now (a Unix
// timestamp), using unsigned comparison against SigExpiration/SigInception —
// the RFC 4034 §3.1.5 serial-arithmetic caveat around the 2106 wraparound is
// accepted as-is rather than worked around, consistent with every other
// implementation of this field.
func CheckSignatureValidity(rrsig *dns.RRSIG, now uint32) bool {
	if now < rrsig.Inception {
		return false
	}
	if now > rrsig.Expiration {
		return false
	}
	return true
}

// ValidateNSECDenial reports whether nsecRecords prove that (qname, qtype)
// does not exist, per RFC 4034 §4: either an NSEC record's owner/next-name
// pair brackets qname in canonical order (with wraparound at the end of the
// zone), or an NSEC record owned exactly at qname omits qtype from its type
// bitmap.
func ValidateNSECDenial(qname name.Name, qtype uint16, nsecRecords []*dns.NSEC) bool {
	for _, nsec := range nsecRecords {
		owner := name.New(nsec.Hdr.Name, ".")
		next := name.New(nsec.NextDomain, ".")

		if coversName(qname, owner, next) {
			return true
		}

		if name.Compare(qname, owner) == 0 {
			if !typeInBitmap(nsec.TypeBitMap, qtype) {
				return true
			}
		}
	}
	return false
}

func coversName(qname, owner, next name.Name) bool {
	if name.Compare(owner, next) < 0 {
		return name.Compare(qname, owner) > 0 && name.Compare(qname, next) < 0
	}
	// Wraparound: this is the last NSEC in the zone, next points back to the origin.
	return name.Compare(qname, owner) > 0 || name.Compare(qname, next) < 0
}

func typeInBitmap(bitmap []uint16, qtype uint16) bool {
	for _, t := range bitmap {
		if t == qtype {
			return true
		}
	}
	return false
}
