// Package acl implements CIDR-based allow/deny lists, used to gate AXFR
// zone transfers to a configured set of secondary nameservers.
package acl

import (
	"net"
	"sync"
)

// ACL holds an allow/deny network list with a default policy applied when
// neither list matches.
type ACL struct {
	mu           sync.RWMutex
	allowedNets  []*net.IPNet
	deniedNets   []*net.IPNet
	defaultAllow bool
}

// New creates an ACL. When defaultAllow is true, a client matching neither
// list is allowed; AXFR gating should pass false so only explicitly
// allow-listed secondaries can transfer a zone.
func New(defaultAllow bool) *ACL {
	return &ACL{defaultAllow: defaultAllow}
}

// AllowNet adds a network (CIDR or bare IP) to the allow list.
func (a *ACL) AllowNet(cidr string) error {
	ipnet, err := parseNetOrIP(cidr)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.allowedNets = append(a.allowedNets, ipnet)
	return nil
}

// DenyNet adds a network (CIDR or bare IP) to the deny list.
func (a *ACL) DenyNet(cidr string) error {
	ipnet, err := parseNetOrIP(cidr)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deniedNets = append(a.deniedNets, ipnet)
	return nil
}

// IsAllowed reports whether ip may proceed: deny list first, then allow
// list, then the default policy.
func (a *ACL) IsAllowed(ip net.IP) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, denied := range a.deniedNets {
		if denied.Contains(ip) {
			return false
		}
	}
	for _, allowed := range a.allowedNets {
		if allowed.Contains(ip) {
			return true
		}
	}
	return a.defaultAllow
}

func parseNetOrIP(cidr string) (*net.IPNet, error) {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err == nil {
		return ipnet, nil
	}

	ip := net.ParseIP(cidr)
	if ip == nil {
		return nil, err
	}
	if ip.To4() != nil {
		return &net.IPNet{IP: ip, Mask: net.CIDRMask(32, 32)}, nil
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}, nil
}
