package rules

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// compiledCacheSize bounds each cache of compiled rule operands.
const compiledCacheSize = 1024

var (
	patterns = newCompiledCache() // regexp source -> *regexp.Regexp, nil when invalid
	programs = newCompiledCache() // CEL source -> cel.Program
)

func newCompiledCache() *lru.Cache {
	c, err := lru.New(compiledCacheSize)
	if err != nil {
		panic(err)
	}
	return c
}

// forgetCompiled drops the compiled regular expressions and CEL programs
// referenced by a rule's conditions. Sources still used elsewhere are simply
// compiled again on their next evaluation.
func forgetCompiled(rule *domain.AutomationRule) {
	if rule == nil {
		return
	}
	for _, cond := range rule.Conditions {
		src, ok := cond.Value.(string)
		if !ok {
			continue
		}
		switch cond.Operator {
		case domain.OpMatchesRegex:
			patterns.Remove(src)
		case domain.OpExpression:
			programs.Remove(src)
		}
	}
}
