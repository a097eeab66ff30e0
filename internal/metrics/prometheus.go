package metrics

import (
	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector exports a Recorder's counters through the standard
// prometheus.Collector interface, so they show up on whatever registry the
// caller already exposes via promhttp.
type PrometheusCollector struct {
	recorder *Recorder
	registry *prometheus.Registry

	totalQueries *prometheus.Desc
	byProtocol   *prometheus.Desc
	byRcode      *prometheus.Desc
	byQtype      *prometheus.Desc
	latency      *prometheus.Desc
	rateLimited  *prometheus.Desc
	errors       *prometheus.Desc
	uptime       *prometheus.Desc

	tcpConnections    *prometheus.Desc
	tcpTotalQueries   *prometheus.Desc
	tcpTimeouts       *prometheus.Desc
	avgQueriesPerConn *prometheus.Desc
}

// NewPrometheusCollector wraps recorder and registers it with its own
// dedicated registry (rather than prometheus's global default), so this
// process's /metrics output carries only dnsscienced_* series and not the
// default registry's incidental go_*/process_* runtime metrics.
func NewPrometheusCollector(recorder *Recorder) *PrometheusCollector {
	c := &PrometheusCollector{
		recorder: recorder,
		totalQueries: prometheus.NewDesc(
			"dnsscienced_queries_total", "Total DNS queries received.", nil, nil),
		byProtocol: prometheus.NewDesc(
			"dnsscienced_queries_by_protocol_total", "DNS queries by transport protocol.", []string{"protocol"}, nil),
		byRcode: prometheus.NewDesc(
			"dnsscienced_responses_by_rcode_total", "DNS responses by response code.", []string{"rcode"}, nil),
		byQtype: prometheus.NewDesc(
			"dnsscienced_queries_by_type_total", "DNS queries by query type.", []string{"qtype"}, nil),
		latency: prometheus.NewDesc(
			"dnsscienced_query_latency_microseconds", "Query processing latency in microseconds.", []string{"stat"}, nil),
		rateLimited: prometheus.NewDesc(
			"dnsscienced_rate_limited_total", "Queries rejected by the rate limiter.", nil, nil),
		errors: prometheus.NewDesc(
			"dnsscienced_errors_total", "Queries that resulted in a server error.", nil, nil),
		uptime: prometheus.NewDesc(
			"dnsscienced_uptime_seconds", "Seconds since the server started.", nil, nil),
		tcpConnections: prometheus.NewDesc(
			"dnsscienced_tcp_connections_total", "TCP connections closed.", nil, nil),
		tcpTotalQueries: prometheus.NewDesc(
			"dnsscienced_tcp_queries_total", "Queries handled over closed TCP connections.", nil, nil),
		tcpTimeouts: prometheus.NewDesc(
			"dnsscienced_tcp_timeouts_total", "TCP connections closed by the idle timeout.", nil, nil),
		avgQueriesPerConn: prometheus.NewDesc(
			"dnsscienced_tcp_avg_queries_per_conn", "Average queries handled per closed TCP connection.", nil, nil),
	}

	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(c)

	return c
}

// Registry returns the dedicated registry this collector registered itself
// with, for mounting behind promhttp.HandlerFor.
func (c *PrometheusCollector) Registry() *prometheus.Registry {
	return c.registry
}

// Describe implements prometheus.Collector.
func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalQueries
	ch <- c.byProtocol
	ch <- c.byRcode
	ch <- c.byQtype
	ch <- c.latency
	ch <- c.rateLimited
	ch <- c.errors
	ch <- c.uptime
	ch <- c.tcpConnections
	ch <- c.tcpTotalQueries
	ch <- c.tcpTimeouts
	ch <- c.avgQueriesPerConn
}

// Collect implements prometheus.Collector.
func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.recorder.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.totalQueries, prometheus.CounterValue, float64(snap.TotalQueries))

	ch <- prometheus.MustNewConstMetric(c.byProtocol, prometheus.CounterValue, float64(snap.UDPQueries), "udp")
	ch <- prometheus.MustNewConstMetric(c.byProtocol, prometheus.CounterValue, float64(snap.TCPQueries), "tcp")

	ch <- prometheus.MustNewConstMetric(c.byRcode, prometheus.CounterValue, float64(snap.NoError), "noerror")
	ch <- prometheus.MustNewConstMetric(c.byRcode, prometheus.CounterValue, float64(snap.NXDomain), "nxdomain")
	ch <- prometheus.MustNewConstMetric(c.byRcode, prometheus.CounterValue, float64(snap.ServFail), "servfail")
	ch <- prometheus.MustNewConstMetric(c.byRcode, prometheus.CounterValue, float64(snap.Refused), "refused")
	ch <- prometheus.MustNewConstMetric(c.byRcode, prometheus.CounterValue, float64(snap.FormErr), "formerr")

	for qtype, count := range snap.QueryTypes {
		name, ok := dns.TypeToString[qtype]
		if !ok {
			name = "UNKNOWN"
		}
		ch <- prometheus.MustNewConstMetric(c.byQtype, prometheus.CounterValue, float64(count), name)
	}

	ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, float64(snap.AvgLatencyMicros), "avg")
	ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, float64(snap.MinLatencyMicros), "min")
	ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, float64(snap.MaxLatencyMicros), "max")

	ch <- prometheus.MustNewConstMetric(c.rateLimited, prometheus.CounterValue, float64(snap.RateLimited))
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(snap.Errors))
	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, snap.Uptime.Seconds())

	ch <- prometheus.MustNewConstMetric(c.tcpConnections, prometheus.CounterValue, float64(snap.TCPConnections))
	ch <- prometheus.MustNewConstMetric(c.tcpTotalQueries, prometheus.CounterValue, float64(snap.TCPTotalQueries))
	ch <- prometheus.MustNewConstMetric(c.tcpTimeouts, prometheus.CounterValue, float64(snap.TCPTimeouts))
	ch <- prometheus.MustNewConstMetric(c.avgQueriesPerConn, prometheus.GaugeValue, snap.AvgQueriesPerConn)
}
