package handler

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"wafproxy/internal/domain"
	"wafproxy/internal/interface/repository/metrics"
)

// MetricsHandler は運用系のHTTPエンドポイントを処理.
type MetricsHandler struct {
	collector  *metrics.Collector
	rules      domain.RuleProvider
	log        logrus.FieldLogger
	promHandle http.Handler
}

// NewMetricsHandler は新しいMetricsHandlerインスタンスを作成.
func NewMetricsHandler(
	collector *metrics.Collector, rules domain.RuleProvider, log logrus.FieldLogger,
) *MetricsHandler {
	return &MetricsHandler{
		collector:  collector,
		rules:      rules,
		log:        log,
		promHandle: promhttp.Handler(),
	}
}

// HandleMetrics はPrometheus形式のメトリクスを提供.
func (h *MetricsHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandle.ServeHTTP(w, r)
}

// HandleStats はJSON形式の運用状態を提供.
func (h *MetricsHandler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	snapshot := h.collector.GetSnapshot()

	current := h.rules.Current()
	snapshot.RuleSetVersion = current.Version
	snapshot.RuleSetLoadedAt = current.LoadedAt

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		h.log.WithError(err).Error("failed to encode stats")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// HandleHealth はヘルスチェックエンドポイントを提供.
func (h *MetricsHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "up",
	})
}
