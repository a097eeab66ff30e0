package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dnsscience/dnsscienced/internal/acl"
	"github.com/dnsscience/dnsscienced/internal/config"
	"github.com/dnsscience/dnsscienced/internal/eventbus"
	"github.com/dnsscience/dnsscienced/internal/httpapi"
	"github.com/dnsscience/dnsscienced/internal/metrics"
	"github.com/dnsscience/dnsscienced/internal/ratelimit"
	"github.com/dnsscience/dnsscienced/internal/server"
	"github.com/dnsscience/dnsscienced/internal/zone"
)

func main() {
	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                                                              ║")
	fmt.Println("║              DNScienced - Authoritative DNS Server            ║")
	fmt.Println("║                                                              ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()

	path := flag.String("config", "dnscienced.yaml", "path to the server's YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config %s: %v\n", *path, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	store, err := loadZones(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading zones: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("configuration:\n")
	fmt.Printf("  UDP address:      %s\n", cfg.Server.UDPListen)
	fmt.Printf("  TCP address:      %s\n", cfg.Server.TCPListen)
	fmt.Printf("  UDP listeners:    %d (SO_REUSEPORT)\n", cfg.Server.UDPListeners)
	fmt.Printf("  zones loaded:     %d\n", store.Len())
	fmt.Printf("  rate limit:       %d qps/window\n", cfg.RRL.MaxQPS)
	if cfg.Server.GlobalQPS > 0 {
		fmt.Printf("  global ingress:   %d qps\n", cfg.Server.GlobalQPS)
	}
	fmt.Printf("  metrics address:  %s\n", cfg.Server.MetricsAddr)
	fmt.Println()

	srvCfg := server.DefaultConfig()
	srvCfg.UDPAddr = cfg.Server.UDPListen
	srvCfg.TCPAddr = cfg.Server.TCPListen
	if cfg.Server.UDPListeners > 0 {
		srvCfg.UDPListeners = cfg.Server.UDPListeners
	}
	if cfg.Server.ReadTimeout > 0 {
		srvCfg.ReadTimeout = cfg.Server.ReadTimeout
	}
	if cfg.Server.WriteTimeout > 0 {
		srvCfg.WriteTimeout = cfg.Server.WriteTimeout
	}
	if cfg.Server.IdleTimeout > 0 {
		srvCfg.IdleTimeout = cfg.Server.IdleTimeout
	}
	srvCfg.MaxTCPQueries = cfg.Server.MaxTCPQueries
	srvCfg.GlobalQPS = cfg.Server.GlobalQPS
	srvCfg.RateLimit = rateLimitConfig(cfg)
	srvCfg.AXFRACL = axfrACL(cfg)

	srv := server.New(srvCfg, store)
	bus := eventbus.New(8)

	collector := metrics.NewPrometheusCollector(srv.Recorder())
	httpSrv := httpapi.New(cfg.Server.MetricsAddr, srv.Recorder(), collector, bus)
	if err := httpSrv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "error starting metrics server: %v\n", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "error starting DNS server: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("DNS server started successfully")
	fmt.Println()

	go printStats(srv)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)

	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			reloadZones(cfg, *path, srv, bus)

		case syscall.SIGUSR1:
			dumpMetrics(srv)

		default:
			fmt.Println()
			fmt.Println("shutting down...")
			if err := srv.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "error stopping DNS server: %v\n", err)
			}
			if err := httpSrv.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "error stopping metrics server: %v\n", err)
			}
			return
		}
	}
}

func loadZones(cfg config.Config) (*zone.Store, error) {
	store := zone.NewStore()
	zcfg := zone.DefaultConfig()

	for _, zc := range cfg.Zones {
		var z *zone.Zone
		var err error

		switch zc.Format {
		case "dnszone", "yaml":
			z, err = zone.ParseDNSZone(zc.File, zcfg)
		default:
			z, err = zone.ParseBIND(zc.File, zc.Name, zcfg)
		}
		if err != nil {
			return nil, fmt.Errorf("zone %s: %w", zc.Name, err)
		}

		fmt.Printf("loaded zone %s (%d records)\n", z.Name, z.GetStats().Records)
		store.Add(z)
	}

	return store, nil
}

func reloadZones(cfg config.Config, path string, srv *server.Server, bus *eventbus.Bus) {
	fmt.Println("reloading zones on SIGHUP...")

	fresh, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reload aborted, failed to read config: %v\n", err)
		return
	}
	if err := fresh.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "reload aborted, invalid config: %v\n", err)
		return
	}

	store, err := loadZones(fresh)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reload aborted: %v\n", err)
		return
	}

	srv.ReloadZones(store)
	bus.Publish(context.Background(), eventbus.TopicZone, store.Len())
	fmt.Printf("reload complete, %d zones now served\n", store.Len())
}

func dumpMetrics(srv *server.Server) {
	snap := srv.Recorder().Snapshot()
	fmt.Println("═══ metrics dump (SIGUSR1) ═══")
	fmt.Printf("  total queries:  %d\n", snap.TotalQueries)
	fmt.Printf("  udp/tcp:        %d / %d\n", snap.UDPQueries, snap.TCPQueries)
	fmt.Printf("  noerror:        %d\n", snap.NoError)
	fmt.Printf("  nxdomain:       %d\n", snap.NXDomain)
	fmt.Printf("  servfail:       %d\n", snap.ServFail)
	fmt.Printf("  refused:        %d\n", snap.Refused)
	fmt.Printf("  rate limited:   %d\n", snap.RateLimited)
	fmt.Printf("  errors:         %d\n", snap.Errors)
	fmt.Printf("  latency (us):   min=%d avg=%d max=%d\n", snap.MinLatencyMicros, snap.AvgLatencyMicros, snap.MaxLatencyMicros)
	fmt.Printf("  uptime:         %s\n", snap.Uptime.Round(time.Second))
	fmt.Println("═══════════════════════════════")
}

func rateLimitConfig(cfg config.Config) ratelimit.Config {
	rc := ratelimit.DefaultConfig()
	if cfg.RRL.MaxQPS > 0 || cfg.RRL.Window > 0 {
		rc.MaxQPS = cfg.RRL.MaxQPS
	}
	if cfg.RRL.Window > 0 {
		rc.Window = cfg.RRL.Window
	}
	if cfg.RRL.CleanupInterval > 0 {
		rc.CleanupInterval = cfg.RRL.CleanupInterval
	}
	for _, cidr := range cfg.RRL.ExemptNets {
		if _, ipnet, err := net.ParseCIDR(cidr); err == nil {
			rc.ExemptNets = append(rc.ExemptNets, ipnet)
		}
	}
	return rc
}

func axfrACL(cfg config.Config) *acl.ACL {
	if len(cfg.ACL.Allow) == 0 && len(cfg.ACL.Deny) == 0 && !cfg.ACL.DefaultAllow {
		return nil
	}
	a := acl.New(cfg.ACL.DefaultAllow)
	for _, cidr := range cfg.ACL.Allow {
		if err := a.AllowNet(cidr); err != nil {
			fmt.Fprintf(os.Stderr, "axfr_acl: skipping invalid allow entry %q: %v\n", cidr, err)
		}
	}
	for _, cidr := range cfg.ACL.Deny {
		if err := a.DenyNet(cidr); err != nil {
			fmt.Fprintf(os.Stderr, "axfr_acl: skipping invalid deny entry %q: %v\n", cidr, err)
		}
	}
	return a
}

func printStats(srv *server.Server) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var lastQueries uint64
	lastTime := time.Now()

	for range ticker.C {
		snap := srv.Recorder().Snapshot()
		now := time.Now()
		elapsed := now.Sub(lastTime).Seconds()
		qps := float64(snap.TotalQueries-lastQueries) / elapsed

		fmt.Printf("═══════════════════════════════════════════════════════════\n")
		fmt.Printf("statistics (%.1fs interval):\n", elapsed)
		fmt.Printf("  queries:    %10d  (%.0f qps)\n", snap.TotalQueries, qps)
		fmt.Printf("  noerror:    %10d\n", snap.NoError)
		fmt.Printf("  nxdomain:   %10d\n", snap.NXDomain)
		fmt.Printf("  errors:     %10d\n", snap.Errors)
		fmt.Printf("  rate limit: %10d\n", snap.RateLimited)
		fmt.Printf("  worker pool: %+v\n", srv.WorkerStats())
		fmt.Printf("═══════════════════════════════════════════════════════════\n\n")

		lastQueries = snap.TotalQueries
		lastTime = now
	}
}
