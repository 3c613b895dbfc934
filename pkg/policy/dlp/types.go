package dlp

import (
	"regexp"
)

// Action describes the directive associated with a DLP rule.
type Action string

const (
	// ActionAllow indicates the finding should not alter enforcement.
	ActionAllow Action = "allow"
	// ActionRedact indicates the finding should be masked before forwarding.
	ActionRedact Action = "redact"
	// ActionBlock indicates the finding should cause the content to be withheld.
	ActionBlock Action = "block"
)

// Rule declares a DLP detection rule.
type Rule struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Action      Action `yaml:"action"`
	Replacement string `yaml:"replacement"`
}

// Config bundles all rule definitions for a Scanner.
type Config struct {
	Rules []Rule `yaml:"rules"`
}

// Finding captures a single DLP match.
type Finding struct {
	Rule   string
	Match  string
	Start  int
	End    int
	Action Action
}

// Report summarises the outcome of a scan operation.
type Report struct {
	Findings          []Finding
	Redacted          string
	RedactionsApplied bool
	Blocked           bool
}

// Scanner applies DLP rules to textual content. A Scanner is immutable and
// safe for concurrent use.
type Scanner struct {
	rules []compiledRule
}

// compiledRule is an internal representation of a Rule with a compiled regex.
type compiledRule struct {
	name        string
	expr        *regexp.Regexp
	action      Action
	replacement string
}

// isValidAction checks if the given action is a known DLP action.
func isValidAction(action Action) bool {
	switch action {
	case ActionAllow, ActionRedact, ActionBlock:
		return true
	default:
		return false
	}
}
