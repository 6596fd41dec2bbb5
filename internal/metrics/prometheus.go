package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voxelbuild"

type PrometheusRecorder struct {
	executions    *prom.CounterVec
	execDuration  prom.Histogram
	commands      prom.Counter
	rejections    *prom.CounterVec
	matchRatio    prom.Histogram
	verifyAttempt *prom.CounterVec
	inconclusive  prom.Counter
}

// NewPrometheusRecorder registers the build metrics on reg, or on a fresh
// registry when reg is nil.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		executions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Script executions by outcome",
		}, []string{"outcome"}),
		execDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall time of script executions",
			Buckets:   prom.DefBuckets,
		}),
		commands: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "commands_dispatched_total",
			Help:      "World commands that completed",
		}),
		rejections: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "preflight_rejections_total",
			Help:      "Executions refused before any mutation, by error kind",
		}, []string{"kind"}),
		matchRatio: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "verify_match_ratio",
			Help:      "Match ratio of returned verification results",
			Buckets:   []float64{0.5, 0.8, 0.9, 0.95, 0.99, 1},
		}),
		verifyAttempt: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "verify_attempts_total",
			Help:      "Verification sampling passes by result",
		}, []string{"result"}),
		inconclusive: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "verify_inconclusive_total",
			Help:      "Verification results with too much unobserved volume",
		}),
	}
	reg.MustRegister(pr.executions, pr.execDuration, pr.commands, pr.rejections, pr.matchRatio, pr.verifyAttempt, pr.inconclusive)
	return pr
}

func (p *PrometheusRecorder) IncExecution(outcome Outcome) {
	if p == nil {
		return
	}
	p.executions.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) ObserveExecutionDuration(d time.Duration) {
	if p == nil {
		return
	}
	p.execDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) AddCommands(n int) {
	if p == nil || n <= 0 {
		return
	}
	p.commands.Add(float64(n))
}

func (p *PrometheusRecorder) IncPreflightRejection(kind string) {
	if p == nil {
		return
	}
	p.rejections.WithLabelValues(kind).Inc()
}

func (p *PrometheusRecorder) ObserveMatchRatio(ratio float64) {
	if p == nil {
		return
	}
	p.matchRatio.Observe(ratio)
}

func (p *PrometheusRecorder) IncVerifyAttempt(ok bool) {
	if p == nil {
		return
	}
	res := "failed"
	if ok {
		res = "ok"
	}
	p.verifyAttempt.WithLabelValues(res).Inc()
}

func (p *PrometheusRecorder) IncVerifyInconclusive() {
	if p == nil {
		return
	}
	p.inconclusive.Inc()
}

// HTTPHandler serves reg in the Prometheus exposition format.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
