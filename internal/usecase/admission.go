package usecase

import (
	"context"

	"github.com/sirupsen/logrus"

	"wafproxy/internal/domain"
)

// AdmissionUseCase はリクエスト許可判定のパイプラインを実装.
// 流量制御、現行ルールセットのスナップショット取得、評価、
// メトリクスとセキュリティイベントの記録を束ねる.
type AdmissionUseCase struct {
	rules   domain.RuleProvider
	limiter domain.RateLimiter // 無効時は nil
	metrics domain.MetricsCollector
	log     logrus.FieldLogger
}

// NewAdmissionUseCase は新しいAdmissionUseCaseインスタンスを作成.
func NewAdmissionUseCase(
	rules domain.RuleProvider,
	limiter domain.RateLimiter,
	metrics domain.MetricsCollector,
	log logrus.FieldLogger,
) *AdmissionUseCase {
	return &AdmissionUseCase{
		rules:   rules,
		limiter: limiter,
		metrics: metrics,
		log:     log,
	}
}

// Admit は単一リクエストの許可判定を行う.
// スナップショットの取得は1回のアトミックな読み取りであり、
// 評価中に再読み込みが完了しても取得済みのルールセットで
// 評価を完了する.
func (uc *AdmissionUseCase) Admit(
	ctx context.Context, rc *domain.RequestContext,
) domain.AdmissionDecision {
	if uc.metrics != nil {
		uc.metrics.RecordRequest(rc.Host)
	}

	snapshot := uc.rules.Current()

	if uc.limiter != nil && !uc.limiter.Allow(rc.ClientIP) {
		if uc.metrics != nil {
			uc.metrics.RecordRateLimited()
		}
		uc.log.WithFields(logrus.Fields{
			"event":      "rate_limited",
			"request_id": rc.ID,
			"client_ip":  rc.ClientIP,
			"host":       rc.Host,
		}).Warn("request rate limited")
		return domain.AdmissionDecision{
			Outcome:        domain.OutcomeBlock,
			Throttled:      true,
			RuleSetVersion: snapshot.Version,
		}
	}

	decision := uc.evaluate(snapshot, rc)

	for _, ruleID := range decision.LogMatches {
		uc.log.WithFields(logrus.Fields{
			"event":           "rule_matched",
			"request_id":      rc.ID,
			"rule_id":         ruleID,
			"action":          string(domain.ActionLogOnly),
			"ruleset_version": decision.RuleSetVersion,
		}).Info("log-only rule matched")
	}

	if uc.metrics != nil {
		uc.metrics.RecordDecision(decision)
	}

	if decision.Blocked() {
		uc.log.WithFields(logrus.Fields{
			"event":           "request_blocked",
			"request_id":      rc.ID,
			"rule_id":         decision.RuleID,
			"ruleset_version": decision.RuleSetVersion,
			"client_ip":       rc.ClientIP,
			"method":          rc.Method,
			"host":            rc.Host,
			"path":            rc.Path,
		}).Warn("request blocked")
	}

	return decision
}

// evaluate はスナップショットに対して評価を実行する.
// コンパイル時検証により評価は失敗しないはずだが、万一の
// パニックは欠陥として記録した上でリクエスト単位の許可に
// 倒し、パイプライン全体は止めない.
func (uc *AdmissionUseCase) evaluate(
	snapshot *domain.RuleSet, rc *domain.RequestContext,
) (decision domain.AdmissionDecision) {
	defer func() {
		if r := recover(); r != nil {
			uc.log.WithFields(logrus.Fields{
				"request_id":      rc.ID,
				"ruleset_version": snapshot.Version,
				"panic":           r,
			}).Error("rule evaluation fault, defaulting to allow")
			decision = domain.AdmissionDecision{
				Outcome:        domain.OutcomeAllow,
				RuleSetVersion: snapshot.Version,
			}
		}
	}()

	return snapshot.Evaluate(rc)
}

// NeedsBodyInspection は現行ルールセットがボディ条件を含むか
// どうかを返す. ハンドラーはこれが真の場合のみボディの先頭を
// 読み取って評価に回す.
func (uc *AdmissionUseCase) NeedsBodyInspection() bool {
	return uc.rules.Current().HasBodyConditions()
}
