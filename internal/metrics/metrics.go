// Package metrics holds the per-run Prometheus series. A run is a short batch
// job, so the registry is pushed to a Pushgateway at the end instead of being
// scraped:
//   - rebalancer_tasks_total{kind,result}      queue outcomes (done|abandoned)
//   - rebalancer_task_attempts_total{kind}     exchange calls made by the queue
//   - rebalancer_decisions_total{action}       momentum classifications
//   - rebalancer_skips_total{stage,reason}     work dropped before the queue
//   - rebalancer_spend{bucket}                 trade / allocation spend of the run
//   - rebalancer_last_run_timestamp_seconds    completion time
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/shopspring/decimal"
)

type Recorder struct {
	registry  *prometheus.Registry
	tasks     *prometheus.CounterVec
	attempts  *prometheus.CounterVec
	decisions *prometheus.CounterVec
	skips     *prometheus.CounterVec
	spend     *prometheus.GaugeVec
	lastRun   prometheus.Gauge
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		tasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rebalancer_tasks_total",
				Help: "Queue tasks by kind and result",
			},
			[]string{"kind", "result"},
		),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rebalancer_task_attempts_total",
				Help: "Exchange calls made by queue tasks",
			},
			[]string{"kind"},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rebalancer_decisions_total",
				Help: "Momentum decisions taken",
			},
			[]string{"action"},
		),
		skips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rebalancer_skips_total",
				Help: "Work dropped before reaching the queue",
			},
			[]string{"stage", "reason"},
		),
		spend: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rebalancer_spend",
				Help: "Base currency assigned to each spend bucket this run",
			},
			[]string{"bucket"},
		),
		lastRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rebalancer_last_run_timestamp_seconds",
				Help: "Unix time the last run finished",
			},
		),
	}
	r.registry.MustRegister(r.tasks, r.attempts, r.decisions, r.skips, r.spend, r.lastRun)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) TaskFinished(kind string, attempts int, abandoned bool) {
	result := "done"
	if abandoned {
		result = "abandoned"
	}
	r.tasks.WithLabelValues(kind, result).Inc()
	r.attempts.WithLabelValues(kind).Add(float64(attempts))
}

func (r *Recorder) Decision(action string) { r.decisions.WithLabelValues(action).Inc() }

func (r *Recorder) Skipped(stage, reason string) { r.skips.WithLabelValues(stage, reason).Inc() }

func (r *Recorder) Spend(bucket string, amount decimal.Decimal) {
	r.spend.WithLabelValues(bucket).Set(amount.InexactFloat64())
}

func (r *Recorder) RunFinished(at time.Time) { r.lastRun.Set(float64(at.Unix())) }

// Push sends the registry to a Pushgateway under job, replacing the previous run.
func (r *Recorder) Push(url, job string) error {
	return push.New(url, job).Gatherer(r.registry).Push()
}
