package proxy

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Metrics 代理运行指标 / Metrics holds runtime counters for the proxy.
type Metrics struct {
	Requests       atomic.Int64
	Forwarded      atomic.Int64
	Rejected       atomic.Int64
	UpstreamErrors atomic.Int64

	// 最近一次上游调用耗时（毫秒）/ Last upstream round trip in ms
	LastUpstreamMs atomic.Int64

	startTime time.Time
}

// NewMetrics creates an empty metrics set.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordUpstream records one forwarded request.
func (m *Metrics) RecordUpstream(success bool, durationMs int64) {
	m.Forwarded.Add(1)
	if !success {
		m.UpstreamErrors.Add(1)
	}
	m.LastUpstreamMs.Store(durationMs)
}

// Handler returns an HTTP handler for the /metrics endpoint in Prometheus text format.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")

		fmt.Fprintf(w, "# HELP quizlab_proxy_uptime_seconds Time since the proxy started\n")
		fmt.Fprintf(w, "# TYPE quizlab_proxy_uptime_seconds gauge\n")
		fmt.Fprintf(w, "quizlab_proxy_uptime_seconds %.2f\n\n", time.Since(m.startTime).Seconds())

		fmt.Fprintf(w, "# HELP quizlab_proxy_requests_total Total requests received\n")
		fmt.Fprintf(w, "# TYPE quizlab_proxy_requests_total counter\n")
		fmt.Fprintf(w, "quizlab_proxy_requests_total %d\n\n", m.Requests.Load())

		fmt.Fprintf(w, "# HELP quizlab_proxy_forwarded_total Requests forwarded upstream\n")
		fmt.Fprintf(w, "# TYPE quizlab_proxy_forwarded_total counter\n")
		fmt.Fprintf(w, "quizlab_proxy_forwarded_total %d\n\n", m.Forwarded.Load())

		fmt.Fprintf(w, "# HELP quizlab_proxy_rejected_total Requests rejected before forwarding\n")
		fmt.Fprintf(w, "# TYPE quizlab_proxy_rejected_total counter\n")
		fmt.Fprintf(w, "quizlab_proxy_rejected_total %d\n\n", m.Rejected.Load())

		fmt.Fprintf(w, "# HELP quizlab_proxy_upstream_errors_total Upstream transport failures\n")
		fmt.Fprintf(w, "# TYPE quizlab_proxy_upstream_errors_total counter\n")
		fmt.Fprintf(w, "quizlab_proxy_upstream_errors_total %d\n\n", m.UpstreamErrors.Load())

		fmt.Fprintf(w, "# HELP quizlab_proxy_last_upstream_ms Last upstream round trip\n")
		fmt.Fprintf(w, "# TYPE quizlab_proxy_last_upstream_ms gauge\n")
		fmt.Fprintf(w, "quizlab_proxy_last_upstream_ms %d\n", m.LastUpstreamMs.Load())
	}
}
