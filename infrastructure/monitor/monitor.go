package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器
type Monitor struct {
	registry *prometheus.Registry

	// 计算指标
	computations    *prometheus.CounterVec
	lastVolatility  *prometheus.GaugeVec
	computeLatency  prometheus.Histogram
	divergenceUnits *prometheus.HistogramVec

	// 证明指标
	proofsSubmitted prometheus.Counter
	proofLatency    prometheus.Histogram
	backendAttempts *prometheus.CounterVec
	circuitRows     prometheus.Gauge

	// 批处理
	batchItems *prometheus.CounterVec
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "rv",
		Subsystem: "prover",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Monitor{
		registry: reg,

		computations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "computations_total",
				Help:      "波动率计算次数",
			},
			[]string{"mode", "outcome"},
		),
		lastVolatility: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "last_volatility_raw",
				Help:      "最近一次计算结果（定点原始值）",
			},
			[]string{"mode"},
		),
		computeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "compute_latency_seconds",
			Help:      "三路计算加一致性检查耗时（秒）",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		divergenceUnits: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "divergence_units",
				Help:      "实现之间的绝对差（最小定点单位）",
				Buckets:   []float64{0, 1, 2, 4, 8, 64, 1024},
			},
			[]string{"pair"},
		),

		proofsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "proofs_submitted_total",
			Help:      "成功生成并验证的证明数",
		}),
		proofLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "proof_latency_seconds",
			Help:      "证明提交耗时（含重试）",
			Buckets:   prometheus.DefBuckets,
		}),
		backendAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "backend_attempts_failed_total",
				Help:      "证明后端失败的尝试次数",
			},
			[]string{"backend"},
		),
		circuitRows: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "circuit_rows",
			Help:      "当前电路的行数",
		}),

		batchItems: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "batch_items_total",
				Help:      "批处理条目数",
			},
			[]string{"outcome"},
		),
	}
}

// 计算相关方法
func (m *Monitor) RecordComputation(mode, outcome string) {
	m.computations.WithLabelValues(mode, outcome).Inc()
}

func (m *Monitor) UpdateVolatility(mode string, raw int64) {
	m.lastVolatility.WithLabelValues(mode).Set(float64(raw))
}

func (m *Monitor) RecordComputeLatency(d time.Duration) {
	m.computeLatency.Observe(d.Seconds())
}

func (m *Monitor) RecordDivergence(pair string, units uint64) {
	m.divergenceUnits.WithLabelValues(pair).Observe(float64(units))
}

// 证明相关方法
func (m *Monitor) RecordProof(d time.Duration) {
	m.proofsSubmitted.Inc()
	m.proofLatency.Observe(d.Seconds())
}

func (m *Monitor) RecordBackendFailure(backend string) {
	m.backendAttempts.WithLabelValues(backend).Inc()
}

func (m *Monitor) UpdateCircuitRows(rows int) {
	m.circuitRows.Set(float64(rows))
}

func (m *Monitor) RecordBatchItem(outcome string) {
	m.batchItems.WithLabelValues(outcome).Inc()
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
