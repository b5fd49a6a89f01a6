package domain

import "fmt"

// ConfigError は起動時の致命的な設定エラーを表す.
type ConfigError struct {
	Op   string
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config error in %s (%s): %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("config error in %s: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// RuleParseError はルール文書のコンパイル失敗を表す.
// 再読み込み時は回復可能で、直前の有効なルールセットが維持される.
type RuleParseError struct {
	RuleID string
	Line   int
	Detail string
}

func (e *RuleParseError) Error() string {
	switch {
	case e.RuleID != "" && e.Line > 0:
		return fmt.Sprintf("rule %q (line %d): %s", e.RuleID, e.Line, e.Detail)
	case e.RuleID != "":
		return fmt.Sprintf("rule %q: %s", e.RuleID, e.Detail)
	case e.Line > 0:
		return fmt.Sprintf("line %d: %s", e.Line, e.Detail)
	default:
		return e.Detail
	}
}

// ErrUpstreamUnavailable は上流への転送失敗を表す.
type ErrUpstreamUnavailable struct {
	Upstream string
	Err      error
}

func (e *ErrUpstreamUnavailable) Error() string {
	return fmt.Sprintf("upstream %s unavailable: %v", e.Upstream, e.Err)
}

func (e *ErrUpstreamUnavailable) Unwrap() error { return e.Err }
