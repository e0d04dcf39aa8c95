package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标，nil 接收者上的记录方法为空操作
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 开通指标
	ProvisioningTotal    *prometheus.CounterVec // action, outcome
	MailboxesAllocated   prometheus.Counter
	AllocationExhausted  prometheus.Counter
	SubscriptionsExpired prometheus.Counter

	// 支付回调指标
	WebhookEventsTotal *prometheus.CounterVec // outcome

	// 看板指标
	RelocationsTotal *prometheus.CounterVec // outcome
	ItemsRelocated   prometheus.Counter

	// 错误与限流
	PanicsTotal     prometheus.Counter
	RateLimitBlocks *prometheus.CounterVec
}

// NewMetrics 创建监控指标，每个实例使用独立的注册表
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroom_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailroom_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		ProvisioningTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroom_provisioning_total",
				Help: "Provisioning operations by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		MailboxesAllocated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailroom_mailboxes_allocated_total",
				Help: "Total number of mailbox labels allocated",
			},
		),
		AllocationExhausted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailroom_allocation_exhausted_total",
				Help: "Allocations that returned fewer labels than requested",
			},
		),
		SubscriptionsExpired: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailroom_subscriptions_expired_total",
				Help: "Total number of subscriptions marked expired",
			},
		),

		WebhookEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroom_webhook_events_total",
				Help: "Payment gateway webhook events by outcome",
			},
			[]string{"outcome"},
		),

		RelocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroom_relocation_batches_total",
				Help: "Item relocation batches by outcome",
			},
			[]string{"outcome"},
		),
		ItemsRelocated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailroom_items_relocated_total",
				Help: "Total number of items moved between mailboxes",
			},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailroom_panics_total",
				Help: "Total number of recovered panics",
			},
		),
		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroom_rate_limit_blocks_total",
				Help: "Requests rejected by rate limiting",
			},
			[]string{"limit_type"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordProvisioning 记录一次开通操作结果
func (m *Metrics) RecordProvisioning(action, outcome string) {
	if m == nil {
		return
	}
	m.ProvisioningTotal.WithLabelValues(action, outcome).Inc()
}

// RecordAllocation 记录编号分配，返回数量不足时累计耗尽次数
func (m *Metrics) RecordAllocation(requested, allocated int) {
	if m == nil {
		return
	}
	m.MailboxesAllocated.Add(float64(allocated))
	if allocated < requested {
		m.AllocationExhausted.Inc()
	}
}

// RecordSubscriptionsExpired 记录过期的订阅数量
func (m *Metrics) RecordSubscriptionsExpired(count int) {
	if m == nil {
		return
	}
	m.SubscriptionsExpired.Add(float64(count))
}

// RecordWebhookEvent 记录回调事件处理结果
func (m *Metrics) RecordWebhookEvent(outcome string) {
	if m == nil {
		return
	}
	m.WebhookEventsTotal.WithLabelValues(outcome).Inc()
}

// RecordRelocation 记录一批物品迁移
func (m *Metrics) RecordRelocation(outcome string, items int) {
	if m == nil {
		return
	}
	m.RelocationsTotal.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		m.ItemsRelocated.Add(float64(items))
	}
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流拒绝
func (m *Metrics) RecordRateLimitBlock(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(limitType).Inc()
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler 返回 Prometheus 抓取端点
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
