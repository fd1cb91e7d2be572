package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/contentops/tailor/config"
)

// Prometheus collectors are process-global; every Telemetry instance feeds
// the same series.
var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tailor_personalize_runs_total",
		Help: "Personalize runs by outcome.",
	}, []string{"outcome", "error_kind"})
	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tailor_personalize_run_seconds",
		Help:    "End-to-end personalize run duration.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
	rewriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tailor_rewrite_seconds",
		Help:    "LLM rewrite call duration.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
	tokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tailor_llm_tokens_total",
		Help: "Total LLM tokens consumed.",
	})
	costTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tailor_llm_cost_dollars_total",
		Help: "Estimated LLM spend in dollars.",
	})
)

// Telemetry tracks personalization outcomes and LLM spend.
type Telemetry struct {
	config config.TelemetryConfig
	logger *log.Logger

	mu      sync.RWMutex
	metrics Metrics
}

// Metrics is an in-process snapshot of counters, exposed for logging and the
// ops endpoint.
type Metrics struct {
	TotalRuns      int64
	SuccessfulRuns int64
	FailedRuns     int64
	FailuresByKind map[string]int64

	RewriteCalls  int64
	TokensUsed    int64
	TotalCost     float64
	CostByModel   map[string]float64
	TokensByModel map[string]int64
}

// RunEvent records the outcome of one personalize run.
type RunEvent struct {
	RunID     string
	PageID    string
	Segment   string
	Success   bool
	ErrorKind string
	Duration  time.Duration
}

// RewriteEvent records one LLM rewrite call.
type RewriteEvent struct {
	Model        string
	Duration     time.Duration
	InputTokens  int64
	OutputTokens int64
	Cost         float64
}

// New creates a telemetry instance.
func New(cfg config.TelemetryConfig) *Telemetry {
	t := &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: Metrics{
			FailuresByKind: make(map[string]int64),
			CostByModel:    make(map[string]float64),
			TokensByModel:  make(map[string]int64),
		},
	}

	if cfg.Enabled && cfg.PeriodicLogs {
		go t.reportLoop()
	}
	return t
}

// RecordRun records a completed personalize run.
func (t *Telemetry) RecordRun(event RunEvent) {
	if !t.config.Enabled {
		return
	}
	t.mu.Lock()
	t.metrics.TotalRuns++
	if event.Success {
		t.metrics.SuccessfulRuns++
	} else {
		t.metrics.FailedRuns++
		t.metrics.FailuresByKind[event.ErrorKind]++
	}
	t.mu.Unlock()

	outcome := "success"
	if !event.Success {
		outcome = "failure"
	}
	runsTotal.WithLabelValues(outcome, event.ErrorKind).Inc()
	runDuration.Observe(event.Duration.Seconds())
}

// RecordRewrite records one LLM call with its token usage and cost.
func (t *Telemetry) RecordRewrite(event RewriteEvent) {
	if !t.config.Enabled {
		return
	}
	tokens := event.InputTokens + event.OutputTokens
	t.mu.Lock()
	t.metrics.RewriteCalls++
	t.metrics.TokensUsed += tokens
	t.metrics.TokensByModel[event.Model] += tokens
	if t.config.CostTracking {
		t.metrics.TotalCost += event.Cost
		t.metrics.CostByModel[event.Model] += event.Cost
	}
	t.mu.Unlock()

	rewriteDuration.Observe(event.Duration.Seconds())
	tokensTotal.Add(float64(tokens))
	if t.config.CostTracking {
		costTotal.Add(event.Cost)
	}
}

// Snapshot returns a copy of the aggregate metrics.
func (t *Telemetry) Snapshot() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := t.metrics
	out.FailuresByKind = copyMap(t.metrics.FailuresByKind)
	out.CostByModel = copyMap(t.metrics.CostByModel)
	out.TokensByModel = copyMap(t.metrics.TokensByModel)
	return out
}

func (t *Telemetry) reportLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		m := t.Snapshot()
		t.logger.Printf("runs=%d ok=%d failed=%d rewrites=%d tokens=%d cost=$%.4f",
			m.TotalRuns, m.SuccessfulRuns, m.FailedRuns, m.RewriteCalls, m.TokensUsed, m.TotalCost)
	}
}

func copyMap[V int64 | float64](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
