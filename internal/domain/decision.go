package domain

// Outcome は評価結果の分類を表す.
type Outcome string

const (
	OutcomeAllow Outcome = "allow"
	OutcomeBlock Outcome = "block"
)

// AdmissionDecision は単一リクエストに対する評価結果を表す.
// 評価に使用したルールセットのバージョンを保持し、ログ・メトリクスの
// 相関に利用する.
type AdmissionDecision struct {
	Outcome        Outcome
	RuleID         string   // マッチした確定ルール（未マッチの場合は空）
	RuleSetVersion uint64   // 評価に使用したスナップショットのバージョン
	LogMatches     []string // log_only でマッチしたルールID
	Throttled      bool     // レート制限による拒否
}

// Blocked はリクエストを拒否すべきかどうかを返す.
func (d AdmissionDecision) Blocked() bool {
	return d.Outcome == OutcomeBlock
}
