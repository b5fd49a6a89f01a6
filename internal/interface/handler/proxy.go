package handler

import (
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"wafproxy/internal/domain"
	"wafproxy/internal/usecase"
)

// ProxyHandler は許可判定と上流転送を行うHTTPハンドラー.
// 許可されたリクエストのみ上流へ転送し、拒否されたリクエストには
// 上流へ接触せずに合成レスポンスを返す.
type ProxyHandler struct {
	admission   *usecase.AdmissionUseCase
	proxy       *httputil.ReverseProxy
	metrics     domain.MetricsCollector
	log         logrus.FieldLogger
	blockStatus int
	maxBodyScan int64
}

// NewProxyHandler は新しいProxyHandlerインスタンスを作成.
func NewProxyHandler(
	admission *usecase.AdmissionUseCase,
	upstream *url.URL,
	metrics domain.MetricsCollector,
	log logrus.FieldLogger,
	blockStatus int,
	maxBodyScan int64,
) *ProxyHandler {
	h := &ProxyHandler{
		admission:   admission,
		metrics:     metrics,
		log:         log,
		blockStatus: blockStatus,
		maxBodyScan: maxBodyScan,
	}

	proxy := httputil.NewSingleHostReverseProxy(upstream)
	proxy.Transport = newUpstreamTransport()
	proxy.ErrorHandler = h.handleUpstreamError
	h.proxy = proxy

	return h
}

// newUpstreamTransport は上流接続用のトランスポートを構築.
func newUpstreamTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.NewString()

	rc := h.buildContext(r, requestID)
	decision := h.admission.Admit(r.Context(), rc)

	if decision.Blocked() {
		status := h.blockStatus
		if decision.Throttled {
			status = http.StatusTooManyRequests
		}
		h.writeBlocked(w, status, requestID)
		h.accessLog(rc, decision, status, time.Since(start))
		return
	}

	r.Header.Set("X-Request-Id", requestID)
	w.Header().Set("X-Request-Id", requestID)

	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	h.proxy.ServeHTTP(recorder, r)

	h.accessLog(rc, decision, recorder.status, time.Since(start))
}

// writeBlocked は拒否レスポンスを合成する. ボディは汎用的な
// 文言であり、ルールの内部情報は含めない.
func (h *ProxyHandler) writeBlocked(
	w http.ResponseWriter, status int, requestID string,
) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Request-Id", requestID)
	w.WriteHeader(status)
	io.WriteString(w, "request blocked\n")
}

// handleUpstreamError は上流転送の失敗を502に変換する.
func (h *ProxyHandler) handleUpstreamError(
	w http.ResponseWriter, r *http.Request, err error,
) {
	if h.metrics != nil {
		h.metrics.RecordUpstreamError()
	}
	upstreamErr := &domain.ErrUpstreamUnavailable{Upstream: r.URL.Host, Err: err}
	h.log.WithError(upstreamErr).WithFields(logrus.Fields{
		"method": r.Method,
		"host":   r.Host,
		"path":   r.URL.Path,
	}).Error("upstream request failed")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusBadGateway)
	io.WriteString(w, "bad gateway\n")
}

// accessLog は1リクエスト分のアクセスログを記録.
func (h *ProxyHandler) accessLog(
	rc *domain.RequestContext,
	decision domain.AdmissionDecision,
	status int,
	elapsed time.Duration,
) {
	fields := logrus.Fields{
		"request_id":      rc.ID,
		"method":          rc.Method,
		"host":            rc.Host,
		"path":            rc.Path,
		"client_ip":       rc.ClientIP,
		"status":          status,
		"latency_ms":      elapsed.Milliseconds(),
		"decision":        string(decision.Outcome),
		"ruleset_version": decision.RuleSetVersion,
	}
	if decision.RuleID != "" {
		fields["rule_id"] = decision.RuleID
	}
	if rc.TLS != nil && rc.TLS.ClientSubject != "" {
		fields["client_subject"] = rc.TLS.ClientSubject
	}
	h.log.WithFields(fields).Info("access")
}

// statusRecorder はレスポンスステータスを捕捉するラッパー.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
