package metrics

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"wafproxy/internal/domain"
)

// Collector はPrometheusベースのメトリクス実装.
type Collector struct {
	startTime time.Time

	ruleSetVersionValue  atomic.Uint64
	ruleSetLoadedAtValue atomic.Int64

	requestsTotal      *prometheus.CounterVec
	decisionsTotal     *prometheus.CounterVec
	handshakeRejected  prometheus.Counter
	rateLimitedTotal   prometheus.Counter
	reloadFailures     prometheus.Counter
	upstreamErrors     prometheus.Counter
	ruleSetVersion     prometheus.Gauge
	ruleSetLoadedAt    prometheus.Gauge
}

var _ domain.MetricsCollector = (*Collector)(nil)

// New は新しいCollectorインスタンスを作成し、コレクタを登録する.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		startTime: time.Now(),
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wafproxy_requests_total",
			Help: "Total HTTP requests seen by the proxy",
		}, []string{"host"}),
		decisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wafproxy_decisions_total",
			Help: "Admission decisions by outcome, matched rule and rule set version",
		}, []string{"outcome", "rule_id", "ruleset_version"}),
		handshakeRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "wafproxy_handshake_rejected_total",
			Help: "TLS handshakes rejected before reaching the HTTP layer",
		}),
		rateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "wafproxy_rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter",
		}),
		reloadFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "wafproxy_rule_reload_failures_total",
			Help: "Rule document reload attempts that failed to compile",
		}),
		upstreamErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "wafproxy_upstream_errors_total",
			Help: "Failures forwarding admitted requests to the upstream",
		}),
		ruleSetVersion: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wafproxy_ruleset_version",
			Help: "Version of the currently published rule set",
		}),
		ruleSetLoadedAt: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wafproxy_ruleset_loaded_timestamp_seconds",
			Help: "Unix time at which the current rule set was published",
		}),
	}
}

// RecordRequest は受信リクエストを記録.
func (c *Collector) RecordRequest(host string) {
	c.requestsTotal.WithLabelValues(host).Inc()
}

// RecordDecision は評価結果を記録.
func (c *Collector) RecordDecision(decision domain.AdmissionDecision) {
	ruleID := decision.RuleID
	if ruleID == "" {
		ruleID = "default"
	}
	c.decisionsTotal.WithLabelValues(
		string(decision.Outcome),
		ruleID,
		strconv.FormatUint(decision.RuleSetVersion, 10),
	).Inc()
}

// RecordHandshakeRejected はmTLS検証で拒否されたハンドシェイクを記録.
func (c *Collector) RecordHandshakeRejected() {
	c.handshakeRejected.Inc()
}

// RecordRateLimited は流量制御による拒否を記録.
func (c *Collector) RecordRateLimited() {
	c.rateLimitedTotal.Inc()
}

// RecordReloadFailure はルール再読み込みの失敗を記録.
func (c *Collector) RecordReloadFailure() {
	c.reloadFailures.Inc()
}

// RecordUpstreamError は上流転送の失敗を記録.
func (c *Collector) RecordUpstreamError() {
	c.upstreamErrors.Inc()
}

// SetRuleSetInfo は公開中のルールセットのバージョンと
// 読み込み時刻を記録.
func (c *Collector) SetRuleSetInfo(version uint64, loadedAt time.Time) {
	c.ruleSetVersionValue.Store(version)
	c.ruleSetLoadedAtValue.Store(loadedAt.Unix())
	c.ruleSetVersion.Set(float64(version))
	c.ruleSetLoadedAt.Set(float64(loadedAt.Unix()))
}

// Snapshot は/statsエンドポイント向けの現在値.
type Snapshot struct {
	Timestamp       time.Time `json:"timestamp"`
	StartTime       time.Time `json:"start_time"`
	Uptime          string    `json:"uptime"`
	RuleSetVersion  uint64    `json:"ruleset_version"`
	RuleSetLoadedAt time.Time `json:"ruleset_loaded_at"`
}

// GetSnapshot は現在の運用状態のスナップショットを返す.
func (c *Collector) GetSnapshot() Snapshot {
	return Snapshot{
		Timestamp:       time.Now(),
		StartTime:       c.startTime,
		Uptime:          time.Since(c.startTime).String(),
		RuleSetVersion:  c.ruleSetVersionValue.Load(),
		RuleSetLoadedAt: time.Unix(c.ruleSetLoadedAtValue.Load(), 0),
	}
}
