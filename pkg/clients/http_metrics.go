package clients

import (
	"strconv"
	"sync"
	"time"

	"github.com/ajitpratap0/batchsync/pkg/metrics"
)

// HTTPMetrics records request metrics to the Prometheus collectors and keeps
// a local latency total for GetStats.
type HTTPMetrics struct {
	mu           sync.Mutex
	count        int64
	totalLatency time.Duration
}

// NewHTTPMetrics creates a new HTTP metrics recorder.
func NewHTTPMetrics() *HTTPMetrics {
	return &HTTPMetrics{}
}

// RecordRequest records one request. code is 0 when no response was received.
func (hm *HTTPMetrics) RecordRequest(method, host string, code int, latency time.Duration, err error) {
	label := strconv.Itoa(code)
	if err != nil || code == 0 {
		label = "error"
	}
	metrics.HTTPRequests.WithLabelValues(method, host, label).Inc()
	metrics.HTTPRequestDuration.WithLabelValues(method, host).Observe(latency.Seconds())

	hm.mu.Lock()
	hm.count++
	hm.totalLatency += latency
	hm.mu.Unlock()
}

// AverageLatency returns the mean latency of recorded requests.
func (hm *HTTPMetrics) AverageLatency() time.Duration {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if hm.count == 0 {
		return 0
	}
	return hm.totalLatency / time.Duration(hm.count)
}
