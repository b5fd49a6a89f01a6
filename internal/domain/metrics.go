package domain

import "time"

// MetricsCollector はメトリクス収集のインターフェース.
type MetricsCollector interface {
	RecordRequest(host string)
	RecordDecision(decision AdmissionDecision)
	RecordHandshakeRejected()
	RecordRateLimited()
	RecordReloadFailure()
	RecordUpstreamError()
	SetRuleSetInfo(version uint64, loadedAt time.Time)
}

// RateLimiter はクライアント単位の流量制御を表す.
type RateLimiter interface {
	Allow(clientIP string) bool
}
