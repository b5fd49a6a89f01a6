package domain

import (
	"sort"
	"time"
)

// ConditionTarget は条件が参照するリクエスト属性を表す.
type ConditionTarget string

const (
	TargetMethod   ConditionTarget = "method"
	TargetPath     ConditionTarget = "path"
	TargetHeader   ConditionTarget = "header"
	TargetQuery    ConditionTarget = "query"
	TargetClientIP ConditionTarget = "client_ip"
	TargetBody     ConditionTarget = "body"
)

// Operator は条件の比較演算子を表す.
type Operator string

const (
	OpEquals    Operator = "equals"
	OpContains  Operator = "contains"
	OpPrefix    Operator = "prefix"
	OpRegex     Operator = "regex"
	OpNumericEq Operator = "numeric_eq"
	OpNumericLT Operator = "numeric_lt"
	OpNumericLE Operator = "numeric_le"
	OpNumericGT Operator = "numeric_gt"
	OpNumericGE Operator = "numeric_ge"
)

// Action はルールにマッチした際の動作を表す.
type Action string

const (
	ActionAllow   Action = "allow"
	ActionBlock   Action = "block"
	ActionLogOnly Action = "log_only"
)

// LogicalOp はルール内の条件を結合する論理演算子を表す.
type LogicalOp string

const (
	LogicalAnd LogicalOp = "and"
	LogicalOr  LogicalOp = "or"
)

// Condition はコンパイル済みの単一条件を表す.
// Match はコンパイル時に演算子とオペランドから構築され、
// 評価時には属性値の照合のみを行う.
type Condition struct {
	Target     ConditionTarget
	HeaderName string // Target が header の場合のみ
	Operator   Operator
	Operand    string
	Match      func(value string) bool
}

// Matches はリクエストコンテキストから対象属性を取り出して照合する.
func (c *Condition) Matches(rc *RequestContext) bool {
	var value string
	switch c.Target {
	case TargetMethod:
		value = rc.Method
	case TargetPath:
		value = rc.Path
	case TargetHeader:
		value = rc.Header(c.HeaderName)
	case TargetQuery:
		value = rc.RawQuery
	case TargetClientIP:
		value = rc.ClientIP
	case TargetBody:
		value = string(rc.Body)
	default:
		return false
	}
	return c.Match(value)
}

// Rule はコンパイル済みのルールを表す.
type Rule struct {
	ID         string
	Priority   int
	Action     Action
	Logical    LogicalOp
	Conditions []Condition
}

// matches は論理演算子に従って条件リストを左から順に
// 短絡評価する.
func (r *Rule) matches(rc *RequestContext) bool {
	if r.Logical == LogicalOr {
		for i := range r.Conditions {
			if r.Conditions[i].Matches(rc) {
				return true
			}
		}
		return false
	}
	for i := range r.Conditions {
		if !r.Conditions[i].Matches(rc) {
			return false
		}
	}
	return true
}

// RuleSet はコンパイル済みルールの不変なスナップショットを表す.
// 一度構築されたら変更されず、複数のリクエストから同時に参照される.
type RuleSet struct {
	Version  uint64
	LoadedAt time.Time
	Rules    []Rule
}

// Sort はルールを優先度の昇順に並べ替える（同一優先度は定義順を維持）.
func (rs *RuleSet) Sort() {
	sort.SliceStable(rs.Rules, func(i, j int) bool {
		return rs.Rules[i].Priority < rs.Rules[j].Priority
	})
}

// HasBodyConditions はボディを参照する条件を含むかどうかを返す.
func (rs *RuleSet) HasBodyConditions() bool {
	for i := range rs.Rules {
		for j := range rs.Rules[i].Conditions {
			if rs.Rules[i].Conditions[j].Target == TargetBody {
				return true
			}
		}
	}
	return false
}

// Evaluate はルールを優先度順に評価し、最初に確定した allow/block を
// 採用する. log_only ルールのマッチは記録のみで評価を継続する.
// どのルールも確定しなければ既定で allow を返す.
func (rs *RuleSet) Evaluate(rc *RequestContext) AdmissionDecision {
	decision := AdmissionDecision{
		Outcome:        OutcomeAllow,
		RuleSetVersion: rs.Version,
	}

	for i := range rs.Rules {
		r := &rs.Rules[i]
		if !r.matches(rc) {
			continue
		}

		if r.Action == ActionLogOnly {
			decision.LogMatches = append(decision.LogMatches, r.ID)
			continue
		}

		decision.RuleID = r.ID
		if r.Action == ActionBlock {
			decision.Outcome = OutcomeBlock
		}
		return decision
	}

	return decision
}

// RuleProvider は現在有効なルールセットのスナップショットを提供する.
// 返されたスナップショットは不変であり、呼び出し側は保持したまま
// 評価を完了してよい.
type RuleProvider interface {
	Current() *RuleSet
}
