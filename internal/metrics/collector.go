// Package metrics provides a small Prometheus-compatible collector rendered
// as text/plain exposition format, without pulling in client_golang for a
// handful of series.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide metrics collector.
var Collector = New()

// Registry aggregates counters, gauges, and histograms.
type Registry struct {
	mu         sync.Mutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	startTime  time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
		startTime:  time.Now(),
	}
}

// Uptime returns how long the registry has been running.
func (r *Registry) Uptime() time.Duration {
	return time.Since(r.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name  string
	help  string
	value atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of observed values.
type Histogram struct {
	name    string
	help    string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// Counter returns or creates a counter with the given name.
func (r *Registry) Counter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c := &Counter{name: name, help: help}
	r.counters[name] = c
	return c
}

// Gauge returns or creates a gauge with the given name.
func (r *Registry) Gauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[name]; ok {
		return g
	}
	g := &Gauge{name: name, help: help}
	r.gauges[name] = g
	return g
}

// Histogram returns or creates a histogram with the given bucket bounds.
func (r *Registry) Histogram(name, help string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[name]; ok {
		return h
	}
	sort.Float64s(buckets)
	hb := make([]histBucket, len(buckets))
	for i, b := range buckets {
		hb[i] = histBucket{le: b}
	}
	h := &Histogram{name: name, help: help, buckets: hb}
	r.histograms[name] = h
	return h
}

// Handler renders the registry in Prometheus text exposition format.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder
		fmt.Fprintf(&sb, "# HELP belezabot_uptime_seconds Time since start in seconds\n")
		fmt.Fprintf(&sb, "# TYPE belezabot_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "belezabot_uptime_seconds %d\n", int64(r.Uptime().Seconds()))

		r.mu.Lock()
		counters := sortedKeys(r.counters)
		gauges := sortedKeys(r.gauges)
		histograms := sortedKeys(r.histograms)
		r.mu.Unlock()

		for _, name := range counters {
			c := r.counters[name]
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", c.name, c.help, c.name, c.name, c.Value())
		}
		for _, name := range gauges {
			g := r.gauges[name]
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n", g.name, g.help, g.name, g.name, g.Value())
		}
		for _, name := range histograms {
			h := r.histograms[name]
			h.mu.Lock()
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name)
			for _, b := range h.buckets {
				le := fmt.Sprintf("%g", b.le)
				if math.IsInf(b.le, 1) {
					le = "+Inf"
				}
				fmt.Fprintf(&sb, "%s_bucket{le=\"%s\"} %d\n", h.name, le, b.count)
			}
			fmt.Fprintf(&sb, "%s_count %d\n", h.name, h.count)
			fmt.Fprintf(&sb, "%s_sum %f\n", h.name, h.sum)
			h.mu.Unlock()
		}

		fmt.Fprint(w, sb.String())
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Pre-defined metrics used across the application.
var (
	ChatRequestsTotal  = Collector.Counter("belezabot_chat_requests_total", "Total POST /api/chat requests")
	ChatSuccessTotal   = Collector.Counter("belezabot_chat_success_total", "Chat requests answered by the upstream")
	UpstreamAuthErrors = Collector.Counter("belezabot_upstream_auth_errors_total", "Upstream credential rejections")
	UpstreamRateLimits = Collector.Counter("belezabot_upstream_rate_limits_total", "Upstream rate-limit responses")
	UpstreamFailures   = Collector.Counter("belezabot_upstream_failures_total", "Other upstream or internal failures")
	TelegramMessages   = Collector.Counter("belezabot_telegram_messages_total", "Messages handled by the Telegram channel")
	ActiveChats        = Collector.Gauge("belezabot_active_chats", "Conversation stores currently alive")

	UpstreamLatency = Collector.Histogram("belezabot_upstream_latency_seconds", "Upstream completion latency in seconds",
		[]float64{0.5, 1, 2, 5, 10, 30})
)
