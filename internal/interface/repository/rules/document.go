package rules

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ruleDocument はルール定義ファイルの構造を表す.
//
// rules:
//   - id: R1
//     priority: 1
//     action: block
//     match: and
//     conditions:
//       - target: path
//         operator: contains
//         value: /admin
type ruleDocument struct {
	Rules []yaml.Node `yaml:"rules"`
}

// ruleSpec はコンパイル前の単一ルール定義を表す.
type ruleSpec struct {
	ID         string          `yaml:"id"`
	Priority   int             `yaml:"priority"`
	Action     string          `yaml:"action"`
	Match      string          `yaml:"match"`
	Conditions []conditionSpec `yaml:"conditions"`
}

// conditionSpec はコンパイル前の単一条件定義を表す.
// value は数値リテラルも許容するため yaml.Node で受けて
// スカラーの生文字列を取り出す.
type conditionSpec struct {
	Target   string    `yaml:"target"`
	Header   string    `yaml:"header"`
	Operator string    `yaml:"operator"`
	Value    yaml.Node `yaml:"value"`
}

// operand は条件のオペランド文字列を返す.
func (cs *conditionSpec) operand() (string, error) {
	if cs.Value.Kind == 0 {
		return "", fmt.Errorf("condition value is missing")
	}
	if cs.Value.Kind != yaml.ScalarNode {
		return "", fmt.Errorf("condition value must be a scalar")
	}
	return cs.Value.Value, nil
}
