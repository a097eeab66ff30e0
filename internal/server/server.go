// Package server implements the authoritative DNS network layer: SO_REUSEPORT
// UDP listeners, a TCP listener for large responses and AXFR, truncation,
// per-client rate limiting, AXFR access control, and metrics.
package server

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/time/rate"

	"github.com/dnsscience/dnsscienced/internal/acl"
	"github.com/dnsscience/dnsscienced/internal/metrics"
	"github.com/dnsscience/dnsscienced/internal/pool"
	"github.com/dnsscience/dnsscienced/internal/query"
	"github.com/dnsscience/dnsscienced/internal/ratelimit"
	"github.com/dnsscience/dnsscienced/internal/worker"
	"github.com/dnsscience/dnsscienced/internal/zone"
)

// axfrChunkSize bounds how many records go into a single AXFR envelope, so a
// large zone transfer streams as several TCP messages instead of one.
const axfrChunkSize = 100

// Config holds DNS server configuration.
type Config struct {
	UDPAddr string
	TCPAddr string

	// UDPListeners is the number of SO_REUSEPORT UDP listeners; set to
	// runtime.NumCPU() to spread load across kernel-selected queues.
	UDPListeners int

	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration // TCP only
	MaxTCPQueries int           // 0 = dns.Server default, <0 = unlimited

	RateLimit ratelimit.Config
	AXFRACL   *acl.ACL // nil allows AXFR from any client; non-nil restricts to the ACL

	// GlobalQPS caps the server's total ingress rate across every client,
	// ahead of and independent from the mandated per-IP sliding window in
	// RateLimit. 0 disables the global shaper.
	GlobalQPS int

	// Workers bounds the goroutine pool handling UDP datagrams.
	Workers int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		UDPAddr:       ":53",
		TCPAddr:       ":53",
		UDPListeners:  runtime.NumCPU(),
		ReadTimeout:   5 * time.Second,
		WriteTimeout:  5 * time.Second,
		IdleTimeout:   60 * time.Second,
		MaxTCPQueries: 100,
		RateLimit:     ratelimit.DefaultConfig(),
		Workers:       runtime.NumCPU() * 4,
	}
}

// Server is the authoritative DNS server.
type Server struct {
	cfg Config

	store atomic.Pointer[zone.Store]

	limiter  *ratelimit.Limiter
	ingress  *rate.Limiter // global shaper, nil when GlobalQPS == 0
	recorder *metrics.Recorder
	workers  *worker.Pool

	udpServers []*dns.Server
	tcpServer  *dns.Server

	// tcpConns tracks the per-connection query count for every open TCP
	// connection, keyed by the net.Conn the dns.Server reader hands back on
	// each read. Populated/drained by the DecorateReader hook in New.
	tcpConns sync.Map // net.Conn -> *atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Server serving the zones in store.
func New(cfg Config, store *zone.Store) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:      cfg,
		limiter:  ratelimit.NewLimiter(cfg.RateLimit),
		recorder: metrics.NewRecorder(),
		workers:  worker.NewPool(worker.Config{Workers: cfg.Workers}),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.store.Store(store)

	if cfg.GlobalQPS > 0 {
		s.ingress = rate.NewLimiter(rate.Limit(cfg.GlobalQPS), cfg.GlobalQPS)
	}

	for i := 0; i < cfg.UDPListeners; i++ {
		s.udpServers = append(s.udpServers, &dns.Server{
			Addr:         cfg.UDPAddr,
			Net:          "udp",
			ReusePort:    true,
			Handler:      dns.HandlerFunc(s.handleDNS),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			UDPSize:      query.AdvertisedUDPSize,
		})
	}

	s.tcpServer = &dns.Server{
		Addr:          cfg.TCPAddr,
		Net:           "tcp",
		Handler:       dns.HandlerFunc(s.handleDNS),
		ReadTimeout:   cfg.ReadTimeout,
		WriteTimeout:  cfg.WriteTimeout,
		IdleTimeout:   func() time.Duration { return cfg.IdleTimeout },
		MaxTCPQueries: cfg.MaxTCPQueries,
		DecorateReader: func(inner dns.Reader) dns.Reader {
			return &tcpLifecycleReader{Reader: inner, s: s}
		},
	}

	return s
}

// tcpLifecycleReader wraps dns.Server's default TCP reader to observe each
// connection's lifecycle: dns.Server exposes no ConnState-style hook, so
// connection-closed accounting piggybacks on ReadTCP instead — every read
// either returns a query (tally it) or an error (EOF, idle timeout, or a
// read failure), at which point the connection is about to be closed by the
// server's own accept loop and the accumulated count is recorded.
type tcpLifecycleReader struct {
	dns.Reader
	s *Server
}

func (r *tcpLifecycleReader) ReadTCP(conn net.Conn, timeout time.Duration) ([]byte, error) {
	b, err := r.Reader.ReadTCP(conn, timeout)
	if err != nil {
		timedOut := false
		if ne, ok := err.(net.Error); ok {
			timedOut = ne.Timeout()
		}
		r.s.closeTCPConn(conn, timedOut)
		return b, err
	}

	v, _ := r.s.tcpConns.LoadOrStore(conn, new(atomic.Uint64))
	counter := v.(*atomic.Uint64)
	n := counter.Add(1)

	// dns.Server's own accept loop closes the connection once it has
	// handled MaxTCPQueries reads without issuing another ReadTCP call, so
	// this is the last chance to record the close here.
	if r.s.cfg.MaxTCPQueries > 0 && int(n) >= r.s.cfg.MaxTCPQueries {
		r.s.tcpConns.Delete(conn)
		r.s.recorder.RecordConnectionClosed(n, false)
	}

	return b, nil
}

func (s *Server) closeTCPConn(conn net.Conn, timedOut bool) {
	var queries uint64
	if v, ok := s.tcpConns.LoadAndDelete(conn); ok {
		queries = v.(*atomic.Uint64).Load()
	}
	s.recorder.RecordConnectionClosed(queries, timedOut)
}

// Start launches every listener in the background.
func (s *Server) Start() error {
	for i, srv := range s.udpServers {
		i, srv := i, srv
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			fmt.Printf("UDP listener %d started on %s (SO_REUSEPORT)\n", i, s.cfg.UDPAddr)
			if err := srv.ListenAndServe(); err != nil {
				fmt.Printf("UDP listener %d error: %v\n", i, err)
			}
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fmt.Printf("TCP listener started on %s\n", s.cfg.TCPAddr)
		if err := s.tcpServer.ListenAndServe(); err != nil {
			fmt.Printf("TCP listener error: %v\n", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down every listener and the worker pool.
func (s *Server) Stop() error {
	fmt.Println("shutting down DNS server...")
	s.cancel()

	for i, srv := range s.udpServers {
		if err := srv.Shutdown(); err != nil {
			fmt.Printf("error shutting down UDP listener %d: %v\n", i, err)
		}
	}
	if err := s.tcpServer.Shutdown(); err != nil {
		fmt.Printf("error shutting down TCP listener: %v\n", err)
	}

	s.wg.Wait()
	err := s.workers.CloseTimeout(5 * time.Second)
	fmt.Println("DNS server stopped")
	return err
}

// ReloadZones atomically swaps in a new zone store; in-flight queries keep
// using the store they already loaded.
func (s *Server) ReloadZones(store *zone.Store) {
	s.store.Store(store)
}

// Recorder exposes the server's metrics recorder, e.g. for a Prometheus
// collector or periodic stats logging.
func (s *Server) Recorder() *metrics.Recorder { return s.recorder }

// WorkerStats exposes the UDP worker pool's statistics.
func (s *Server) WorkerStats() worker.Stats { return s.workers.GetStats() }

func clientIPFromAddr(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP
	case *net.TCPAddr:
		return a.IP
	default:
		return nil
	}
}

// handleDNS is the shared UDP/TCP entry point. UDP requests are bounded by
// the worker pool so a burst of datagrams cannot spawn unbounded goroutines;
// TCP requests (already bounded by dns.Server's own connection handling)
// run inline.
func (s *Server) handleDNS(w dns.ResponseWriter, r *dns.Msg) {
	_, isUDP := w.RemoteAddr().(*net.UDPAddr)

	if isUDP {
		job := worker.JobFunc(func(ctx context.Context) error {
			s.serve(w, r, true)
			return nil
		})
		if err := s.workers.TrySubmit(s.ctx, job); err != nil {
			s.recorder.RecordError()
		}
		return
	}

	s.serve(w, r, false)
}

func (s *Server) serve(w dns.ResponseWriter, r *dns.Msg, udp bool) {
	start := time.Now()
	clientIP := clientIPFromAddr(w.RemoteAddr())

	proto := metrics.ProtocolTCP
	if udp {
		proto = metrics.ProtocolUDP
	}
	s.recorder.RecordQuery(proto, r.IsEdns0() != nil)
	if len(r.Question) > 0 {
		s.recorder.RecordQueryType(r.Question[0].Qtype)
	}

	if s.ingress != nil && !s.ingress.Allow() {
		s.recorder.RecordRateLimited()
		return // drop silently, global ingress budget exhausted
	}
	if !s.limiter.Allow(clientIP) {
		s.recorder.RecordRateLimited()
		return // drop silently
	}

	if len(r.Question) == 1 && r.Question[0].Qtype == dns.TypeAXFR {
		s.serveAXFR(w, r, clientIP)
		s.recorder.RecordLatency(time.Since(start))
		return
	}

	resp := query.Process(r, s.store.Load())
	resp.Compress = true
	s.recorder.RecordResponse(resp.Rcode)

	if udp {
		truncateForUDP(resp, r)
	}

	// Recycle a dns.Msg from the shared pool for the write itself, so the
	// struct query.Process just allocated isn't the only one ever GC'd;
	// PutMessage wipes it clean before handing it back out.
	pooled := pool.GetMessage()
	*pooled = *resp
	if err := w.WriteMsg(pooled); err != nil {
		s.recorder.RecordError()
	}
	pool.PutMessage(pooled)

	s.recorder.RecordLatency(time.Since(start))
}

// truncateForUDP enforces the client's advertised (or default) UDP payload
// size by dropping whole sections in order: answers first, then authority,
// then additional, setting TC=1 the moment a drop was needed. Answers go
// first because a partial answer section is useless to the client (RFC 1035
// has no notion of a partial RRset) and the client must retry over TCP
// regardless once truncated — dropping the section most likely to be both
// large and the cause of oversize first empties the response fastest.
func truncateForUDP(resp, req *dns.Msg) {
	limit := query.DefaultUDPSize
	if opt := req.IsEdns0(); opt != nil {
		limit = int(opt.UDPSize())
	}

	if resp.Len() <= limit {
		return
	}

	resp.Truncated = true
	resp.Answer = nil
	if resp.Len() <= limit {
		return
	}

	resp.Ns = nil
	if resp.Len() <= limit {
		return
	}

	resp.Extra = dropOPT(resp.Extra)
}

// dropOPT clears Extra but preserves any OPT record (EDNS0 must survive
// truncation so the client still learns our advertised payload size).
func dropOPT(extra []dns.RR) []dns.RR {
	var kept []dns.RR
	for _, rr := range extra {
		if rr.Header().Rrtype == dns.TypeOPT {
			kept = append(kept, rr)
		}
	}
	return kept
}

// serveAXFR streams the zone named in the question over a TCP connection,
// gated by the AXFR ACL. AXFR over UDP is refused per RFC 5936 §4. A nil
// AXFRACL means no ACL was configured, which allows any TCP client — the
// ACL is an optional, off-by-default restriction, not a default-deny gate.
func (s *Server) serveAXFR(w dns.ResponseWriter, r *dns.Msg, clientIP net.IP) {
	if _, isTCP := w.RemoteAddr().(*net.TCPAddr); !isTCP {
		s.refuseAXFR(w, r)
		return
	}
	if s.cfg.AXFRACL != nil && !s.cfg.AXFRACL.IsAllowed(clientIP) {
		s.refuseAXFR(w, r)
		return
	}
	if len(r.Question) == 0 {
		s.refuseAXFR(w, r)
		return
	}

	qname := r.Question[0].Name
	z := s.store.Load().FindZone(qname)
	if z == nil {
		s.refuseAXFR(w, r)
		return
	}

	records := z.AXFRRecords()

	tr := new(dns.Transfer)
	ch := make(chan *dns.Envelope)
	errCh := make(chan error, 1)
	go func() {
		errCh <- tr.Out(w, r, ch)
	}()

	for len(records) > 0 {
		n := axfrChunkSize
		if n > len(records) {
			n = len(records)
		}
		ch <- &dns.Envelope{RR: records[:n]}
		records = records[n:]
	}
	close(ch)

	if err := <-errCh; err != nil {
		s.recorder.RecordError()
	}
	w.Close()
}

func (s *Server) refuseAXFR(w dns.ResponseWriter, r *dns.Msg) {
	resp := new(dns.Msg)
	resp.SetReply(r)
	resp.Rcode = dns.RcodeRefused
	if err := w.WriteMsg(resp); err != nil {
		s.recorder.RecordError()
	}
}
