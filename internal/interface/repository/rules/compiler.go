package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"wafproxy/internal/domain"
)

// Compile はルール定義文書をコンパイル済みの不変なルールセットに変換する.
// 検証はすべてコンパイル時に行い、1件でも不正なルールがあれば
// 文書全体を失敗させる（部分的なルールセットは生成しない）.
// バージョンと読み込み時刻は公開時にストアが付与する.
func Compile(doc []byte) (*domain.RuleSet, error) {
	var document ruleDocument
	if err := yaml.Unmarshal(doc, &document); err != nil {
		return nil, &domain.RuleParseError{Detail: fmt.Sprintf("invalid rule document: %v", err)}
	}

	ruleSet := &domain.RuleSet{
		Rules: make([]domain.Rule, 0, len(document.Rules)),
	}

	seen := make(map[string]struct{}, len(document.Rules))
	for i := range document.Rules {
		node := &document.Rules[i]

		var spec ruleSpec
		if err := node.Decode(&spec); err != nil {
			return nil, &domain.RuleParseError{
				Line:   node.Line,
				Detail: fmt.Sprintf("invalid rule entry: %v", err),
			}
		}

		rule, err := compileRule(&spec, node.Line)
		if err != nil {
			return nil, err
		}

		if _, dup := seen[rule.ID]; dup {
			return nil, &domain.RuleParseError{
				RuleID: rule.ID,
				Line:   node.Line,
				Detail: "duplicate rule id",
			}
		}
		seen[rule.ID] = struct{}{}

		ruleSet.Rules = append(ruleSet.Rules, rule)
	}

	ruleSet.Sort()
	return ruleSet, nil
}

// compileRule は単一ルールを検証してコンパイルする.
func compileRule(spec *ruleSpec, line int) (domain.Rule, error) {
	fail := func(detail string) (domain.Rule, error) {
		return domain.Rule{}, &domain.RuleParseError{
			RuleID: spec.ID,
			Line:   line,
			Detail: detail,
		}
	}

	if spec.ID == "" {
		return fail("rule id is required")
	}

	var action domain.Action
	switch domain.Action(spec.Action) {
	case domain.ActionAllow, domain.ActionBlock, domain.ActionLogOnly:
		action = domain.Action(spec.Action)
	default:
		return fail(fmt.Sprintf("unknown action %q", spec.Action))
	}

	logical := domain.LogicalAnd
	switch spec.Match {
	case "", string(domain.LogicalAnd):
	case string(domain.LogicalOr):
		logical = domain.LogicalOr
	default:
		return fail(fmt.Sprintf("unknown match operator %q", spec.Match))
	}

	if len(spec.Conditions) == 0 {
		return fail("condition list is empty")
	}

	conditions := make([]domain.Condition, 0, len(spec.Conditions))
	for i := range spec.Conditions {
		cond, err := compileCondition(&spec.Conditions[i])
		if err != nil {
			return fail(fmt.Sprintf("condition %d: %v", i+1, err))
		}
		conditions = append(conditions, cond)
	}

	return domain.Rule{
		ID:         spec.ID,
		Priority:   spec.Priority,
		Action:     action,
		Logical:    logical,
		Conditions: conditions,
	}, nil
}

// compileCondition は条件を検証し、照合関数を構築する.
func compileCondition(spec *conditionSpec) (domain.Condition, error) {
	var target domain.ConditionTarget
	switch domain.ConditionTarget(spec.Target) {
	case domain.TargetMethod, domain.TargetPath, domain.TargetHeader,
		domain.TargetQuery, domain.TargetClientIP, domain.TargetBody:
		target = domain.ConditionTarget(spec.Target)
	default:
		return domain.Condition{}, fmt.Errorf("unknown target %q", spec.Target)
	}

	if target == domain.TargetHeader && spec.Header == "" {
		return domain.Condition{}, fmt.Errorf("header target requires a header name")
	}

	operand, err := spec.operand()
	if err != nil {
		return domain.Condition{}, err
	}

	match, err := compileMatcher(domain.Operator(spec.Operator), operand)
	if err != nil {
		return domain.Condition{}, err
	}

	return domain.Condition{
		Target:     target,
		HeaderName: spec.Header,
		Operator:   domain.Operator(spec.Operator),
		Operand:    operand,
		Match:      match,
	}, nil
}

// compileMatcher は演算子をコンパイル済みの照合関数に変換する.
// 演算子は閉じた集合であり、未知の値はここで弾かれるため
// 評価時に解釈の曖昧さは残らない.
func compileMatcher(op domain.Operator, operand string) (func(string) bool, error) {
	switch op {
	case domain.OpEquals:
		return func(v string) bool { return v == operand }, nil
	case domain.OpContains:
		return func(v string) bool { return strings.Contains(v, operand) }, nil
	case domain.OpPrefix:
		return func(v string) bool { return strings.HasPrefix(v, operand) }, nil
	case domain.OpRegex:
		re, err := regexp.Compile(operand)
		if err != nil {
			return nil, fmt.Errorf("invalid regex %q: %v", operand, err)
		}
		return re.MatchString, nil
	case domain.OpNumericEq, domain.OpNumericLT, domain.OpNumericLE,
		domain.OpNumericGT, domain.OpNumericGE:
		threshold, err := strconv.ParseFloat(operand, 64)
		if err != nil {
			return nil, fmt.Errorf("numeric operator requires a numeric operand, got %q", operand)
		}
		return numericMatcher(op, threshold), nil
	default:
		return nil, fmt.Errorf("unknown operator %q", op)
	}
}

// numericMatcher は属性値を数値として解釈して比較する.
// 数値として解釈できない値は不一致として扱う.
func numericMatcher(op domain.Operator, threshold float64) func(string) bool {
	return func(v string) bool {
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return false
		}
		switch op {
		case domain.OpNumericEq:
			return n == threshold
		case domain.OpNumericLT:
			return n < threshold
		case domain.OpNumericLE:
			return n <= threshold
		case domain.OpNumericGT:
			return n > threshold
		case domain.OpNumericGE:
			return n >= threshold
		}
		return false
	}
}
