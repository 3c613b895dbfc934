// Package dlp provides configurable content scanning used to withhold or mask
// model output before it reaches the user.
package dlp

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultDenylist is the set of terms whose presence withholds a response.
var DefaultDenylist = []string{"hack", "exploit", "vulnerability", "payload"}

// DefaultConfig returns block rules for DefaultDenylist.
func DefaultConfig() Config {
	return DenylistConfig(DefaultDenylist)
}

// DenylistConfig builds one case-insensitive substring block rule per term.
// Blank and duplicate terms are skipped.
func DenylistConfig(terms []string) Config {
	seen := make(map[string]struct{}, len(terms))
	rules := make([]Rule, 0, len(terms))
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}

		rules = append(rules, Rule{
			Name:    "denylist:" + term,
			Pattern: `(?i)` + regexp.QuoteMeta(term),
			Action:  ActionBlock,
		})
	}
	return Config{Rules: rules}
}

// NewScanner constructs a Scanner for the provided configuration.
func NewScanner(cfg Config) (*Scanner, error) {
	if len(cfg.Rules) == 0 {
		return &Scanner{}, nil
	}

	compiled := make([]compiledRule, 0, len(cfg.Rules))
	for _, rule := range cfg.Rules {
		name := strings.TrimSpace(rule.Name)
		if name == "" {
			return nil, fmt.Errorf("dlp: rule name is required")
		}
		pattern := strings.TrimSpace(rule.Pattern)
		if pattern == "" {
			return nil, fmt.Errorf("dlp: pattern is required for rule %s", name)
		}
		action := rule.Action
		if action == "" {
			action = ActionRedact
		}
		if !isValidAction(action) {
			return nil, fmt.Errorf("dlp: unsupported action %q for rule %s", action, name)
		}
		expr, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("dlp: invalid pattern for rule %s: %w", name, err)
		}
		replacement := rule.Replacement
		if replacement == "" && action == ActionRedact {
			replacement = fmt.Sprintf("[REDACTED:%s]", name)
		}

		compiled = append(compiled, compiledRule{
			name:        name,
			expr:        expr,
			action:      action,
			replacement: replacement,
		})
	}

	return &Scanner{rules: compiled}, nil
}

// Rules returns the number of compiled rules.
func (s *Scanner) Rules() int {
	return len(s.rules)
}
