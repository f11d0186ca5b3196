// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"axonflow/tabula/orchestrator/llm"
)

const responseTimeWindow = 1000

// MetricsCollector exports Prometheus metrics and keeps a small in-process
// summary of route latencies for the JSON metrics endpoint.
//
// It implements resourcecache.Observer and background.Observer, and its
// OnRetry method fits sdk.RetryPolicy.OnRetry.
type MetricsCollector struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	creates     *prometheus.CounterVec
	createTime  *prometheus.HistogramVec
	retries     *prometheus.CounterVec
	tasks       *prometheus.CounterVec
	llmCalls    *prometheus.CounterVec
	llmTokens   *prometheus.CounterVec
	rateLimited prometheus.Counter
	startTime   time.Time

	mu     sync.RWMutex
	routes map[string]*RouteMetrics
}

// RouteMetrics summarizes one route.
type RouteMetrics struct {
	TotalRequests   int64         `json:"total_requests"`
	SuccessCount    int64         `json:"success_count"`
	ClientErrors    int64         `json:"client_error_count"`
	ServerErrors    int64         `json:"server_error_count"`
	AvgResponseTime time.Duration `json:"avg_response_time_ms"`
	P95ResponseTime time.Duration `json:"p95_response_time_ms"`
	P99ResponseTime time.Duration `json:"p99_response_time_ms"`
	responseTimes   []time.Duration
}

// MetricsSnapshot is the JSON metrics document.
type MetricsSnapshot struct {
	UptimeSeconds int64                    `json:"uptime_seconds"`
	Routes        map[string]*RouteMetrics `json:"routes"`
}

// NewMetricsCollector registers all metrics on a fresh registry.
func NewMetricsCollector() *MetricsCollector {
	m := &MetricsCollector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabula_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tabula_http_request_duration_milliseconds",
			Help:    "HTTP request duration in milliseconds",
			Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000, 30000},
		}, []string{"route"}),
		creates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabula_resource_creations_total",
			Help: "Resource cache factory invocations by cache and outcome",
		}, []string{"cache", "status"}),
		createTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tabula_resource_creation_seconds",
			Help:    "Time spent creating cached resources",
			Buckets: prometheus.DefBuckets,
		}, []string{"cache"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabula_retries_total",
			Help: "Retried attempts by retry policy",
		}, []string{"policy"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabula_background_tasks_total",
			Help: "Finished background tasks by name and outcome",
		}, []string{"task", "status"}),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabula_llm_calls_total",
			Help: "LLM completion calls by provider and outcome",
		}, []string{"provider", "status"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabula_llm_tokens_total",
			Help: "LLM tokens consumed by provider",
		}, []string{"provider"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabula_rate_limited_requests_total",
			Help: "Requests rejected by the per-project rate limit",
		}),
		startTime: time.Now(),
		routes:    make(map[string]*RouteMetrics),
	}
	m.registry.MustRegister(
		m.requests, m.duration, m.creates, m.createTime, m.retries,
		m.tasks, m.llmCalls, m.llmTokens, m.rateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// TrackGauge exports fn as a gauge, e.g. the number of cached pools.
func (m *MetricsCollector) TrackGauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}

// ObserveCreate records one resource cache factory call.
func (m *MetricsCollector) ObserveCreate(cache string, duration time.Duration, err error) {
	m.creates.WithLabelValues(cache, outcome(err)).Inc()
	m.createTime.WithLabelValues(cache).Observe(duration.Seconds())
}

// ObserveTask records one finished background task.
func (m *MetricsCollector) ObserveTask(name string, _ time.Duration, err error) {
	m.tasks.WithLabelValues(name, outcome(err)).Inc()
}

// OnRetry counts a retried attempt.
func (m *MetricsCollector) OnRetry(policy string, _ int, _ time.Duration, _ error) {
	m.retries.WithLabelValues(policy).Inc()
}

// RecordRateLimited counts a rejected request.
func (m *MetricsCollector) RecordRateLimited() {
	m.rateLimited.Inc()
}

// RecordRequest records a served request.
func (m *MetricsCollector) RecordRequest(route string, code int, responseTime time.Duration) {
	m.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(route).Observe(float64(responseTime.Milliseconds()))

	m.mu.Lock()
	defer m.mu.Unlock()

	rm, ok := m.routes[route]
	if !ok {
		rm = &RouteMetrics{responseTimes: make([]time.Duration, 0, responseTimeWindow)}
		m.routes[route] = rm
	}
	rm.TotalRequests++
	switch {
	case code >= 500:
		rm.ServerErrors++
	case code >= 400:
		rm.ClientErrors++
	default:
		rm.SuccessCount++
	}
	rm.responseTimes = append(rm.responseTimes, responseTime)
	// Keep only the last window of response times for percentiles
	if len(rm.responseTimes) > responseTimeWindow {
		rm.responseTimes = rm.responseTimes[len(rm.responseTimes)-responseTimeWindow:]
	}
}

// Snapshot returns a copy of the route summaries with derived latencies.
func (m *MetricsCollector) Snapshot() *MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := &MetricsSnapshot{
		UptimeSeconds: int64(time.Since(m.startTime).Seconds()),
		Routes:        make(map[string]*RouteMetrics, len(m.routes)),
	}
	for route, rm := range m.routes {
		sorted := append([]time.Duration(nil), rm.responseTimes...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var total time.Duration
		for _, d := range sorted {
			total += d
		}
		cp := &RouteMetrics{
			TotalRequests:   rm.TotalRequests,
			SuccessCount:    rm.SuccessCount,
			ClientErrors:    rm.ClientErrors,
			ServerErrors:    rm.ServerErrors,
			P95ResponseTime: calculatePercentile(sorted, 95),
			P99ResponseTime: calculatePercentile(sorted, 99),
		}
		if len(sorted) > 0 {
			cp.AvgResponseTime = total / time.Duration(len(sorted))
		}
		out.Routes[route] = cp
	}
	return out
}

// calculatePercentile expects sorted input.
func calculatePercentile(times []time.Duration, percentile int) time.Duration {
	if len(times) == 0 {
		return 0
	}
	index := (len(times) * percentile) / 100
	if index >= len(times) {
		index = len(times) - 1
	}
	return times[index]
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// InstrumentProvider counts calls and tokens of p.
func (m *MetricsCollector) InstrumentProvider(p llm.Provider) llm.Provider {
	return &instrumentedProvider{Provider: p, metrics: m}
}

type instrumentedProvider struct {
	llm.Provider
	metrics *MetricsCollector
}

func (p *instrumentedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.Provider.Complete(ctx, req)
	p.metrics.llmCalls.WithLabelValues(p.Name(), outcome(err)).Inc()
	if err == nil {
		p.metrics.llmTokens.WithLabelValues(p.Name()).Add(float64(resp.Usage.TotalTokens))
	}
	return resp, err
}
