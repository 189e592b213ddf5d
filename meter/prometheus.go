package meter

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ineyio/quotaguard"
)

// PrometheusMeter records routing events as Prometheus metrics.
type PrometheusMeter struct {
	admissions *prometheus.CounterVec
	results    *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	tokens     *prometheus.CounterVec
	chunks     prometheus.Histogram
	searches   *prometheus.CounterVec
}

var _ quotaguard.Meter = (*PrometheusMeter)(nil)

// NewPrometheusMeter registers the meter's collectors with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusMeter(reg prometheus.Registerer) *PrometheusMeter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &PrometheusMeter{
		admissions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotaguard_admissions_total",
				Help: "Admission decisions by backend and outcome",
			},
			[]string{"backend", "outcome"},
		),
		results: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotaguard_backend_calls_total",
				Help: "Backend calls by backend and result",
			},
			[]string{"backend", "result"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quotaguard_backend_call_duration_seconds",
				Help:    "Duration of backend calls in seconds",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
			},
			[]string{"backend"},
		),
		tokens: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotaguard_tokens_total",
				Help: "Tokens consumed by backend and kind",
			},
			[]string{"backend", "kind"},
		),
		chunks: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "quotaguard_answer_chunks",
				Help:    "Number of message chunks per delivered answer",
				Buckets: []float64{1, 2, 3, 5, 8, 13},
			},
		),
		searches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotaguard_search_events_total",
				Help: "Search gate checks and charges",
			},
			[]string{"event"},
		),
	}
}

func (m *PrometheusMeter) OnAdmission(e quotaguard.AdmissionEvent) {
	m.admissions.WithLabelValues(string(e.Backend), string(e.Outcome)).Inc()
}

func (m *PrometheusMeter) OnResult(e quotaguard.ResultEvent) {
	backend := string(e.Backend)
	m.duration.WithLabelValues(backend).Observe(e.Duration.Seconds())
	if !e.Success {
		m.results.WithLabelValues(backend, "error").Inc()
		return
	}
	m.results.WithLabelValues(backend, "success").Inc()
	m.tokens.WithLabelValues(backend, "prompt").Add(float64(e.Usage.PromptTokens))
	m.tokens.WithLabelValues(backend, "completion").Add(float64(e.Usage.CompletionTokens))
	m.chunks.Observe(float64(e.Chunks))
}

func (m *PrometheusMeter) OnSearch(e quotaguard.SearchEvent) {
	switch {
	case e.Recorded:
		m.searches.WithLabelValues("recorded").Inc()
	case e.Available:
		m.searches.WithLabelValues("available").Inc()
	default:
		m.searches.WithLabelValues("unavailable").Inc()
	}
}

// CapacityCollector exports live capacity snapshots on every scrape.
type CapacityCollector struct {
	limiter *quotaguard.Limiter
	search  *quotaguard.SearchGate
	timeout time.Duration

	current     *prometheus.Desc
	limit       *prometheus.Desc
	utilization *prometheus.Desc
	admissible  *prometheus.Desc
	searchUsed  *prometheus.Desc
	searchQuota *prometheus.Desc
}

var _ prometheus.Collector = (*CapacityCollector)(nil)

// NewCapacityCollector creates a collector over limiter and, if non-nil, search.
func NewCapacityCollector(limiter *quotaguard.Limiter, search *quotaguard.SearchGate) *CapacityCollector {
	return &CapacityCollector{
		limiter: limiter,
		search:  search,
		timeout: 2 * time.Second,
		current: prometheus.NewDesc("quotaguard_backend_usage",
			"Current counter value per backend and metric", []string{"backend", "metric"}, nil),
		limit: prometheus.NewDesc("quotaguard_backend_limit",
			"Static limit per backend and metric", []string{"backend", "metric"}, nil),
		utilization: prometheus.NewDesc("quotaguard_backend_utilization_percent",
			"Highest utilization across metrics", []string{"backend"}, nil),
		admissible: prometheus.NewDesc("quotaguard_backend_admissible",
			"1 if the backend can admit a request", []string{"backend"}, nil),
		searchUsed: prometheus.NewDesc("quotaguard_search_used",
			"Searches recorded this month", nil, nil),
		searchQuota: prometheus.NewDesc("quotaguard_search_quota",
			"Monthly free search quota", nil, nil),
	}
}

func (c *CapacityCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.current
	ch <- c.limit
	ch <- c.utilization
	ch <- c.admissible
	ch <- c.searchUsed
	ch <- c.searchQuota
}

func (c *CapacityCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	// Backends whose counters cannot be read are omitted from this scrape.
	snaps, _ := c.limiter.StatusAll(ctx)
	for _, s := range snaps {
		backend := string(s.Backend)
		for _, m := range quotaguard.Metrics() {
			mc := s.Metrics[m]
			ch <- prometheus.MustNewConstMetric(c.current, prometheus.GaugeValue, float64(mc.Current), backend, m.String())
			ch <- prometheus.MustNewConstMetric(c.limit, prometheus.GaugeValue, float64(mc.Limit), backend, m.String())
		}
		ch <- prometheus.MustNewConstMetric(c.utilization, prometheus.GaugeValue, s.Utilization, backend)
		admissible := 0.0
		if s.CanAdmit {
			admissible = 1
		}
		ch <- prometheus.MustNewConstMetric(c.admissible, prometheus.GaugeValue, admissible, backend)
	}

	if c.search == nil {
		return
	}
	if st, err := c.search.Status(ctx); err == nil {
		ch <- prometheus.MustNewConstMetric(c.searchUsed, prometheus.GaugeValue, float64(st.Used))
		ch <- prometheus.MustNewConstMetric(c.searchQuota, prometheus.GaugeValue, float64(st.Quota))
	}
}
