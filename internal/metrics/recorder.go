// Package metrics implements lock-free query/response counters and a
// Prometheus exporter on top of them.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Protocol identifies the transport a query arrived on.
type Protocol int

const (
	ProtocolUDP Protocol = iota
	ProtocolTCP
)

// Recorder accumulates server-wide counters using atomics so the hot query
// path never takes a lock, except for the query-type breakdown map which is
// updated rarely enough relative to query volume to afford one.
type Recorder struct {
	totalQueries atomic.Uint64
	udpQueries   atomic.Uint64
	tcpQueries   atomic.Uint64
	ednsQueries  atomic.Uint64

	noError  atomic.Uint64
	nxDomain atomic.Uint64
	servFail atomic.Uint64
	refused  atomic.Uint64
	formErr  atomic.Uint64

	totalLatencyMicros atomic.Uint64
	minLatencyMicros   atomic.Uint64
	maxLatencyMicros   atomic.Uint64

	rateLimited atomic.Uint64
	errors      atomic.Uint64

	tcpConnections  atomic.Uint64
	tcpTotalQueries atomic.Uint64
	tcpTimeouts     atomic.Uint64

	mu         sync.Mutex
	queryTypes map[uint16]uint64

	start time.Time
}

// NewRecorder returns a Recorder with counters zeroed and the clock started.
func NewRecorder() *Recorder {
	r := &Recorder{
		queryTypes: make(map[uint16]uint64),
		start:      time.Now(),
	}
	r.minLatencyMicros.Store(^uint64(0)) // math.MaxUint64 sentinel, "no samples yet"
	return r
}

// RecordQuery increments the total and per-protocol/EDNS counters.
func (r *Recorder) RecordQuery(proto Protocol, edns bool) {
	r.totalQueries.Add(1)
	switch proto {
	case ProtocolUDP:
		r.udpQueries.Add(1)
	case ProtocolTCP:
		r.tcpQueries.Add(1)
	}
	if edns {
		r.ednsQueries.Add(1)
	}
}

// RecordResponse tallies a response by its DNS RCODE.
func (r *Recorder) RecordResponse(rcode int) {
	switch rcode {
	case 0: // NOERROR
		r.noError.Add(1)
	case 3: // NXDOMAIN
		r.nxDomain.Add(1)
	case 2: // SERVFAIL
		r.servFail.Add(1)
	case 5: // REFUSED
		r.refused.Add(1)
	case 1: // FORMERR
		r.formErr.Add(1)
	}
}

// RecordQueryType tallies a query by its RR type.
func (r *Recorder) RecordQueryType(qtype uint16) {
	r.mu.Lock()
	r.queryTypes[qtype]++
	r.mu.Unlock()
}

// RecordLatency folds a query's processing latency into the running
// total/min/max using compare-and-swap loops (sync/atomic has no native
// atomic min/max for uint64).
func (r *Recorder) RecordLatency(d time.Duration) {
	micros := uint64(d.Microseconds())
	r.totalLatencyMicros.Add(micros)

	for {
		cur := r.minLatencyMicros.Load()
		if micros >= cur {
			break
		}
		if r.minLatencyMicros.CompareAndSwap(cur, micros) {
			break
		}
	}
	for {
		cur := r.maxLatencyMicros.Load()
		if micros <= cur {
			break
		}
		if r.maxLatencyMicros.CompareAndSwap(cur, micros) {
			break
		}
	}
}

// RecordRateLimited increments the rate-limited-query counter.
func (r *Recorder) RecordRateLimited() { r.rateLimited.Add(1) }

// RecordError increments the error counter.
func (r *Recorder) RecordError() { r.errors.Add(1) }

// RecordConnectionClosed tallies one finished TCP connection's lifecycle:
// the connection-closed count, the number of queries it handled before
// closing (for the derived avg_queries_per_conn aggregate), and whether the
// close was caused by the idle timeout firing.
func (r *Recorder) RecordConnectionClosed(queries uint64, timedOut bool) {
	r.tcpConnections.Add(1)
	r.tcpTotalQueries.Add(queries)
	if timedOut {
		r.tcpTimeouts.Add(1)
	}
}

// Snapshot is an immutable point-in-time view of every counter, with
// derived aggregates (average latency, uptime) computed at capture time.
type Snapshot struct {
	TotalQueries uint64
	UDPQueries   uint64
	TCPQueries   uint64
	EDNSQueries  uint64

	NoError  uint64
	NXDomain uint64
	ServFail uint64
	Refused  uint64
	FormErr  uint64

	QueryTypes map[uint16]uint64

	AvgLatencyMicros uint64
	MinLatencyMicros uint64
	MaxLatencyMicros uint64

	RateLimited uint64
	Errors      uint64
	Uptime      time.Duration

	TCPConnections     uint64
	TCPTotalQueries    uint64
	TCPTimeouts        uint64
	AvgQueriesPerConn  float64
}

// Snapshot captures the current counter values.
func (r *Recorder) Snapshot() Snapshot {
	total := r.totalQueries.Load()
	totalLatency := r.totalLatencyMicros.Load()

	var avg uint64
	if total > 0 {
		avg = totalLatency / total
	}

	min := r.minLatencyMicros.Load()
	if min == ^uint64(0) {
		min = 0
	}

	r.mu.Lock()
	types := make(map[uint16]uint64, len(r.queryTypes))
	for k, v := range r.queryTypes {
		types[k] = v
	}
	r.mu.Unlock()

	tcpConns := r.tcpConnections.Load()
	tcpTotalQueries := r.tcpTotalQueries.Load()
	var avgQueriesPerConn float64
	if tcpConns > 0 {
		avgQueriesPerConn = float64(tcpTotalQueries) / float64(tcpConns)
	}

	return Snapshot{
		TotalQueries:     total,
		UDPQueries:       r.udpQueries.Load(),
		TCPQueries:       r.tcpQueries.Load(),
		EDNSQueries:      r.ednsQueries.Load(),
		NoError:          r.noError.Load(),
		NXDomain:         r.nxDomain.Load(),
		ServFail:         r.servFail.Load(),
		Refused:          r.refused.Load(),
		FormErr:          r.formErr.Load(),
		QueryTypes:       types,
		AvgLatencyMicros: avg,
		MinLatencyMicros: min,
		MaxLatencyMicros: r.maxLatencyMicros.Load(),
		RateLimited:       r.rateLimited.Load(),
		Errors:            r.errors.Load(),
		Uptime:            time.Since(r.start),
		TCPConnections:    tcpConns,
		TCPTotalQueries:   tcpTotalQueries,
		TCPTimeouts:       r.tcpTimeouts.Load(),
		AvgQueriesPerConn: avgQueriesPerConn,
	}
}
