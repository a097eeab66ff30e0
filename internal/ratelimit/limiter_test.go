package ratelimit

import (
	"net"
	"testing"
	"time"
)

func ipv4(a, b, c, d byte) net.IP { return net.IPv4(a, b, c, d) }

func TestLimiter_AllowsUpToMaxQPS(t *testing.T) {
	l := NewLimiter(Config{MaxQPS: 10, Window: time.Second})
	addr := ipv4(127, 0, 0, 1)

	for i := 0; i < 10; i++ {
		if !l.Allow(addr) {
			t.Fatalf("query %d should be allowed", i)
		}
	}
	if l.Allow(addr) {
		t.Error("11th query should be rate limited")
	}
}

func TestLimiter_PerClientIndependence(t *testing.T) {
	l := NewLimiter(Config{MaxQPS: 5, Window: time.Second})
	addr1 := ipv4(127, 0, 0, 1)
	addr2 := ipv4(127, 0, 0, 2)

	for i := 0; i < 5; i++ {
		if !l.Allow(addr1) {
			t.Fatalf("addr1 query %d should be allowed", i)
		}
		if !l.Allow(addr2) {
			t.Fatalf("addr2 query %d should be allowed", i)
		}
	}

	if l.Allow(addr1) {
		t.Error("addr1 should now be rate limited")
	}
	if l.Allow(addr2) {
		t.Error("addr2 should now be rate limited")
	}
}

func TestLimiter_WindowExpiration(t *testing.T) {
	l := NewLimiter(Config{MaxQPS: 5, Window: 100 * time.Millisecond})
	addr := ipv4(127, 0, 0, 1)

	for i := 0; i < 5; i++ {
		if !l.Allow(addr) {
			t.Fatalf("query %d should be allowed", i)
		}
	}
	if l.Allow(addr) {
		t.Error("should be rate limited before window expires")
	}

	time.Sleep(150 * time.Millisecond)

	if !l.Allow(addr) {
		t.Error("should be allowed again once the window has expired")
	}
}

func TestLimiter_CleanupRemovesIdleClients(t *testing.T) {
	l := NewLimiter(Config{MaxQPS: 10, Window: 50 * time.Millisecond, CleanupInterval: 10 * time.Millisecond})

	for i := 1; i <= 10; i++ {
		l.Allow(ipv4(192, 168, 0, byte(i)))
	}
	if got := l.TrackedClients(); got != 10 {
		t.Fatalf("TrackedClients = %d, want 10", got)
	}

	time.Sleep(60 * time.Millisecond)
	l.cleanupLocked()

	if got := l.TrackedClients(); got != 0 {
		t.Errorf("TrackedClients after cleanup = %d, want 0", got)
	}
}

func TestLimiter_IPv6(t *testing.T) {
	l := NewLimiter(Config{MaxQPS: 3, Window: time.Second})
	addr := net.ParseIP("2001:db8::1")

	for i := 0; i < 3; i++ {
		if !l.Allow(addr) {
			t.Fatalf("query %d should be allowed", i)
		}
	}
	if l.Allow(addr) {
		t.Error("4th query should be rate limited")
	}
}

func TestLimiter_ZeroMaxQPSDeniesAll(t *testing.T) {
	l := NewLimiter(Config{MaxQPS: 0, Window: time.Second})
	addr := ipv4(127, 0, 0, 1)

	if l.Allow(addr) {
		t.Error("MaxQPS=0 should deny every query")
	}
}

func TestLimiter_ExemptNetBypassesLimit(t *testing.T) {
	_, exemptNet, err := net.ParseCIDR("10.0.0.0/8")
	if err != nil {
		t.Fatal(err)
	}
	l := NewLimiter(Config{MaxQPS: 1, Window: time.Second, ExemptNets: []*net.IPNet{exemptNet}})
	addr := ipv4(10, 1, 2, 3)

	for i := 0; i < 20; i++ {
		if !l.Allow(addr) {
			t.Fatalf("exempt client should never be rate limited (query %d)", i)
		}
	}
}

func TestLimiter_HighRateLimit(t *testing.T) {
	l := NewLimiter(Config{MaxQPS: 1000, Window: time.Second})
	addr := ipv4(127, 0, 0, 1)

	for i := 0; i < 1000; i++ {
		if !l.Allow(addr) {
			t.Fatalf("query %d should be allowed", i)
		}
	}
	if l.Allow(addr) {
		t.Error("1001st query should be rate limited")
	}
}
