package perf

import (
	"expvar"
	"net/http"

	"github.com/encodeous/metric"
)

var (
	DispatchLatency  = metric.NewHistogram("1m1s")
	SendsPerSecond   = metric.NewCounter("10s1s")
	RecvsPerSecond   = metric.NewCounter("10s1s")
	FwdsPerSecond    = metric.NewCounter("10s1s")
	DropsPerSecond   = metric.NewCounter("10s1s")
	BackoffPerSecond = metric.NewCounter("10s1s")
)

func init() {
	http.Handle("/debug/metrics", metric.Handler(metric.Exposed))
	expvar.Publish("bramble:Sent/s", SendsPerSecond)
	expvar.Publish("bramble:Recv/s", RecvsPerSecond)
	expvar.Publish("bramble:Fwd/s", FwdsPerSecond)
	expvar.Publish("bramble:Drop/s", DropsPerSecond)
	expvar.Publish("bramble:Backoff/s", BackoffPerSecond)
	expvar.Publish("bramble:DispatchLatency (µs)", DispatchLatency)
}
