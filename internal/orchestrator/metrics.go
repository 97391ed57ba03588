// Package orchestrator Run 调度与执行
package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 调度器指标
type Metrics struct {
	RunsStarted   prometheus.Counter
	RunsCompleted prometheus.Counter
	RunsFailed    prometheus.Counter
	RunsCancelled prometheus.Counter
	PollErrors    prometheus.Counter
	ActiveRuns    prometheus.Gauge
	RunDuration   prometheus.Histogram
}

// NewMetrics 创建调度器指标，reg 为空时使用默认注册表
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunsStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "autopilot",
				Name:      "runs_started_total",
				Help:      "Total runs claimed and started",
			},
		),
		RunsCompleted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "autopilot",
				Name:      "runs_completed_total",
				Help:      "Total runs finished successfully",
			},
		),
		RunsFailed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "autopilot",
				Name:      "runs_failed_total",
				Help:      "Total runs ended in failure",
			},
		),
		RunsCancelled: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "autopilot",
				Name:      "runs_cancelled_total",
				Help:      "Total runs cancelled by the control surface",
			},
		),
		PollErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "autopilot",
				Name:      "poll_errors_total",
				Help:      "Total scheduler poll ticks that failed",
			},
		),
		ActiveRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "autopilot",
				Name:      "active_runs",
				Help:      "Number of runs currently executing",
			},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "autopilot",
				Name:      "run_duration_seconds",
				Help:      "Wall-clock duration of finished runs",
				Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
			},
		),
	}
}
