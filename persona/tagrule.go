package persona

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvOnce sync.Once
	celEnvErr  error
)

func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("user", cel.DynType),
		)
	})
	return celEnv, celEnvErr
}

// TagRule 是画像标签的规则覆盖：当 CEL 表达式对某用户的特征求值为真时，
// 该用户的 persona_tag 被改写为 Tag。规则按声明顺序求值，后匹配者覆盖前者。
//
// 表达式通过变量 user 访问聚合后的用户特征，例如：
//   - `user.total_spend > 10000.0 && user.interaction_rate > 10.0`
//   - `user.last_click_gap > 60.0`
type TagRule struct {
	Expr string `yaml:"expr"`
	Tag  string `yaml:"tag"`
}

type compiledRule struct {
	prg cel.Program
	tag string
}

// compileRules 把规则表达式编译为可重复求值的 CEL 程序。
// 任一表达式非法都会在构建入口直接失败，而不是在逐用户求值时才暴露。
func compileRules(rules []TagRule) ([]compiledRule, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	out := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		ast, issues := env.Compile(rule.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compile tag rule %q: %v", rule.Expr, issues.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("program tag rule %q: %w", rule.Expr, err)
		}
		out = append(out, compiledRule{prg: prg, tag: rule.Tag})
	}
	return out, nil
}

// applyRules 对单个用户的特征 map 依次求值所有规则，返回最终标签。
// 求值出错的规则按不匹配处理（表达式应当用 user.key 访问已聚合的数值特征）。
func applyRules(rules []compiledRule, defaultTag string, features map[string]any) string {
	tag := defaultTag
	for _, rule := range rules {
		out, _, err := rule.prg.Eval(map[string]any{"user": features})
		if err != nil {
			continue
		}
		if matched, ok := out.Value().(bool); ok && matched {
			tag = rule.tag
		}
	}
	return tag
}
