// Package httpapi exposes the server's operational HTTP surface: a liveness
// endpoint and a Prometheus /metrics scrape target, on a listener separate
// from the DNS ports themselves.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dnsscience/dnsscienced/internal/eventbus"
	"github.com/dnsscience/dnsscienced/internal/metrics"
)

// Server is the health/metrics HTTP listener.
type Server struct {
	mu       sync.Mutex
	addr     string
	server   *http.Server
	listener net.Listener
	running  bool

	recorder *metrics.Recorder
	bus      *eventbus.Bus
	sub      *eventbus.Subscriber

	zonesLoaded   int
	lastReloadAt  time.Time
}

// New creates an httpapi.Server bound to addr, serving /healthz and
// /metrics. collector is registered against a dedicated Prometheus registry
// so this process never picks up the default registry's go_* runtime metrics
// unexpectedly. bus is subscribed to eventbus.TopicZone so /healthz can
// report the zone count and timestamp of the last successful reload.
func New(addr string, recorder *metrics.Recorder, collector *metrics.PrometheusCollector, bus *eventbus.Bus) *Server {
	mux := http.NewServeMux()

	s := &Server{addr: addr, recorder: recorder, bus: bus}
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	return s
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("httpapi server already running")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.running = true

	if s.bus != nil {
		s.sub = s.bus.Subscribe(context.Background(), eventbus.TopicZone)
		go s.watchReloads(s.sub)
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			fmt.Printf("httpapi server error: %v\n", err)
		}
	}()

	return nil
}

// watchReloads consumes zone.reloaded events published after a SIGHUP
// config/zone reload, recording the zone count and timestamp /healthz
// reports; it exits once sub's channel is closed by Stop.
func (s *Server) watchReloads(sub *eventbus.Subscriber) {
	for ev := range sub.Ch {
		count, ok := ev.Data.(int)
		if !ok {
			continue
		}
		s.mu.Lock()
		s.zonesLoaded = count
		s.lastReloadAt = time.Now()
		s.mu.Unlock()
	}
}

// Stop gracefully shuts the listener down.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Addr returns the listener's bound address, useful when addr was ":0".
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

type healthResponse struct {
	Status       string `json:"status"`
	Service      string `json:"service"`
	UptimeSecs   int64  `json:"uptime_seconds"`
	TotalQuery   uint64 `json:"total_queries"`
	ZonesLoaded  int    `json:"zones_loaded,omitempty"`
	LastReloadAt string `json:"last_reload_at,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.recorder.Snapshot()

	s.mu.Lock()
	zonesLoaded := s.zonesLoaded
	lastReloadAt := s.lastReloadAt
	s.mu.Unlock()

	resp := healthResponse{
		Status:      "healthy",
		Service:     "dnscienced",
		UptimeSecs:  int64(snap.Uptime.Seconds()),
		TotalQuery:  snap.TotalQueries,
		ZonesLoaded: zonesLoaded,
	}
	if !lastReloadAt.IsZero() {
		resp.LastReloadAt = lastReloadAt.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
