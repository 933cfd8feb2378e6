package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器
type Monitor struct {
	registry *prometheus.Registry

	// 消息指标
	messagesReceived prometheus.Counter
	transportErrors  prometheus.Counter
	decodeErrors     *prometheus.CounterVec
	inFlight         prometheus.Gauge

	// 订单指标
	ordersSubmitted prometheus.Counter
	submitFailures  *prometheus.CounterVec
	submitAttempts  prometheus.Histogram
	ordersRejected  *prometheus.CounterVec
	ordersCanceled  prometheus.Counter
	cancelFailures  prometheus.Counter

	// 系统指标
	restRequests *prometheus.CounterVec
	restErrors   *prometheus.CounterVec
	restLatency  *prometheus.HistogramVec
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
	// 是否注册 Go runtime / process 采集器
	RuntimeCollectors bool
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace:         "trader",
		Subsystem:         "bridge",
		RuntimeCollectors: true,
	}
}

// New 创建新的Monitor实例，每个实例持有独立 registry
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	if cfg.RuntimeCollectors {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	factory := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}

	return &Monitor{
		registry: reg,

		messagesReceived: counter("messages_received_total", "从总线收到的消息数"),
		transportErrors:  counter("transport_errors_total", "总线传输错误数"),
		decodeErrors:     counterVec("decode_errors_total", "无法解码而丢弃的消息数", "kind"),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "messages_in_flight",
			Help:      "正在处理的消息数",
		}),

		ordersSubmitted: counter("orders_submitted_total", "券商确认的下单数"),
		submitFailures:  counterVec("submit_failures_total", "放弃的下单数", "class"),
		submitAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "submit_attempts",
			Help:      "每笔下单的尝试次数",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		}),
		ordersRejected: counterVec("orders_rejected_total", "提交前拒绝的下单数", "reason"),
		ordersCanceled: counter("orders_canceled_total", "成功撤单数"),
		cancelFailures: counter("cancel_failures_total", "撤单失败数"),

		restRequests: counterVec("rest_requests_total", "REST请求总数", "action"),
		restErrors:   counterVec("rest_errors_total", "REST错误总数", "action"),
		restLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rest_latency_seconds",
				Help:      "REST请求延迟（秒）",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"action"},
		),
	}
}

// 消息相关方法
func (m *Monitor) RecordMessage() {
	m.messagesReceived.Inc()
}

func (m *Monitor) RecordTransportError() {
	m.transportErrors.Inc()
}

func (m *Monitor) RecordDecodeError(kind string) {
	m.decodeErrors.WithLabelValues(kind).Inc()
}

// TrackInFlight 进入处理时 +1，返回的函数在处理结束时 -1
func (m *Monitor) TrackInFlight() func() {
	m.inFlight.Inc()
	return m.inFlight.Dec
}

// 订单相关方法
func (m *Monitor) RecordOrderSubmitted(attempts int) {
	m.ordersSubmitted.Inc()
	m.submitAttempts.Observe(float64(attempts))
}

// RecordSubmitFailure class 取 terminal / exhausted / aborted
func (m *Monitor) RecordSubmitFailure(class string, attempts int) {
	m.submitFailures.WithLabelValues(class).Inc()
	m.submitAttempts.Observe(float64(attempts))
}

// RecordOrderRejected 未发送给券商就被拒绝的下单
func (m *Monitor) RecordOrderRejected(reason string) {
	m.ordersRejected.WithLabelValues(reason).Inc()
}

func (m *Monitor) RecordOrderCanceled() {
	m.ordersCanceled.Inc()
}

func (m *Monitor) RecordCancelFailure() {
	m.cancelFailures.Inc()
}

// 系统相关方法
func (m *Monitor) RecordRESTRequest(action string) {
	m.restRequests.WithLabelValues(action).Inc()
}

func (m *Monitor) RecordRESTError(action string) {
	m.restErrors.WithLabelValues(action).Inc()
}

func (m *Monitor) RecordRESTLatency(action string, seconds float64) {
	m.restLatency.WithLabelValues(action).Observe(seconds)
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
