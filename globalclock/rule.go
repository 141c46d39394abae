package globalclock

import "github.com/mevdschee/tqshard/config"

// RuleType is the rule type the global clock decorator is registered under.
const RuleType = "global_clock"

// Rule is the configured global clock rule. A disabled rule turns the
// clock off for every transaction.
type Rule struct {
	Enabled      bool
	Type         string
	ProviderType string
}

// NewRule builds the rule from configuration.
func NewRule(cfg config.GlobalClockConfig) Rule {
	return Rule{Enabled: cfg.Enabled, Type: cfg.Type, ProviderType: cfg.Provider}
}

// RuleType implements executor.Rule.
func (Rule) RuleType() string { return RuleType }
