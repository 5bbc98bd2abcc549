// Package metrics 使用 Prometheus 记录监控周期指标。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "oi_monitor"

// Recorder Prometheus 指标记录器
type Recorder struct {
	cycles           *prometheus.CounterVec
	cycleDuration    prometheus.Histogram
	fetchFailures    *prometheus.CounterVec
	observations     *prometheus.CounterVec
	rejected         *prometheus.CounterVec
	alerts           *prometheus.CounterVec
	suppressed       *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
	series           prometheus.Gauge
	lastCycle        prometheus.Gauge
}

// New 创建指标记录器
// 参数 reg: 注册器，nil 时使用 prometheus.DefaultRegisterer
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Monitoring cycles by result",
		}, []string{"result"}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one monitoring cycle",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		fetchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Failed fetches by exchange",
		}, []string{"exchange"}),
		observations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_total",
			Help:      "Observations accepted into the store",
		}, []string{"exchange"}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_rejected_total",
			Help:      "Observations rejected by the store",
		}, []string{"exchange", "reason"}),
		alerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts emitted",
		}, []string{"kind", "severity"}),
		suppressed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_suppressed_total",
			Help:      "Alerts suppressed by cooldown",
		}, []string{"kind"}),
		deliveryFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Failed notification deliveries",
		}, []string{"channel"}),
		series: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "series",
			Help:      "Series currently held in the store",
		}),
		lastCycle: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time of the last finished cycle",
		}),
	}
}

// RecordCycle 记录一次周期
func (r *Recorder) RecordCycle(ok bool, d time.Duration, finishedAt time.Time) {
	result := "ok"
	if !ok {
		result = "error"
	}
	r.cycles.WithLabelValues(result).Inc()
	r.cycleDuration.Observe(d.Seconds())
	r.lastCycle.Set(float64(finishedAt.Unix()))
}

// RecordFetchFailure 记录交易所拉取失败
func (r *Recorder) RecordFetchFailure(exchange string) {
	r.fetchFailures.WithLabelValues(exchange).Inc()
}

// RecordObservation 记录写入的观测
func (r *Recorder) RecordObservation(exchange string) {
	r.observations.WithLabelValues(exchange).Inc()
}

// RecordRejected 记录被拒绝的观测
func (r *Recorder) RecordRejected(exchange, reason string) {
	r.rejected.WithLabelValues(exchange, reason).Inc()
}

// RecordAlert 记录发出的告警
func (r *Recorder) RecordAlert(kind, severity string) {
	r.alerts.WithLabelValues(kind, severity).Inc()
}

// RecordSuppressed 记录被冷却抑制的告警
func (r *Recorder) RecordSuppressed(kind string) {
	r.suppressed.WithLabelValues(kind).Inc()
}

// RecordDeliveryFailure 记录通知失败
func (r *Recorder) RecordDeliveryFailure(channel string) {
	r.deliveryFailures.WithLabelValues(channel).Inc()
}

// SetSeries 设置当前序列数
func (r *Recorder) SetSeries(n int) {
	r.series.Set(float64(n))
}
