package dlp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDenylistConfig_SkipsBlankAndDuplicateTerms(t *testing.T) {
	cfg := DenylistConfig([]string{"Hack", " hack ", "", "exploit"})

	require.Len(t, cfg.Rules, 2)
	assert.Equal(t, "denylist:hack", cfg.Rules[0].Name)
	assert.Equal(t, ActionBlock, cfg.Rules[0].Action)
	assert.Equal(t, "denylist:exploit", cfg.Rules[1].Name)
}

func TestDenylistConfig_QuotesRegexMeta(t *testing.T) {
	scanner, err := NewScanner(DenylistConfig([]string{"a.b"}))
	require.NoError(t, err)

	report, err := scanner.Scan(context.Background(), "axb")
	require.NoError(t, err)
	assert.False(t, report.Blocked)

	report, err = scanner.Scan(context.Background(), "A.B")
	require.NoError(t, err)
	assert.True(t, report.Blocked)
}

func TestScan_DefaultDenylist(t *testing.T) {
	scanner, err := NewScanner(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, len(DefaultDenylist), scanner.Rules())

	tests := []struct {
		name    string
		input   string
		blocked bool
	}{
		{name: "clean", input: "Use strong passwords and MFA.", blocked: false},
		{name: "lowercase", input: "an exploit chain", blocked: true},
		{name: "uppercase", input: "EXPLOIT", blocked: true},
		{name: "embedded", input: "ethical hackers", blocked: true},
		{name: "mixed case", input: "a VulnerAbility scan", blocked: true},
		{name: "payload", input: "the Payload was signed", blocked: true},
		{name: "empty", input: "", blocked: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := scanner.Scan(context.Background(), tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.blocked, report.Blocked)
			assert.Equal(t, tt.input, report.Redacted, "block rules never rewrite text")
		})
	}
}

func TestScan_FindingsOrdered(t *testing.T) {
	scanner, err := NewScanner(DefaultConfig())
	require.NoError(t, err)

	report, err := scanner.Scan(context.Background(), "payload before hack")
	require.NoError(t, err)
	require.Len(t, report.Findings, 2)
	assert.Equal(t, "payload", report.Findings[0].Match)
	assert.Equal(t, "hack", report.Findings[1].Match)
	assert.Equal(t, 15, report.Findings[1].Start)
}

func TestScan_RedactRule(t *testing.T) {
	scanner, err := NewScanner(Config{Rules: []Rule{
		{Name: "ssn", Pattern: `\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`},
	}})
	require.NoError(t, err)

	report, err := scanner.Scan(context.Background(), "ssn 123-45-6789")
	require.NoError(t, err)
	assert.False(t, report.Blocked)
	assert.True(t, report.RedactionsApplied)
	assert.Equal(t, "ssn [REDACTED:ssn]", report.Redacted)
}

func TestScan_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scanner, err := NewScanner(DefaultConfig())
	require.NoError(t, err)

	_, err = scanner.Scan(ctx, "hack")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewScanner_InvalidRules(t *testing.T) {
	_, err := NewScanner(Config{Rules: []Rule{{Pattern: "x"}}})
	assert.Error(t, err)

	_, err = NewScanner(Config{Rules: []Rule{{Name: "x"}}})
	assert.Error(t, err)

	_, err = NewScanner(Config{Rules: []Rule{{Name: "x", Pattern: "("}}})
	assert.Error(t, err)

	_, err = NewScanner(Config{Rules: []Rule{{Name: "x", Pattern: "x", Action: "quarantine"}}})
	assert.Error(t, err)
}

func TestScan_MixedActions(t *testing.T) {
	cfg := DenylistConfig([]string{"exploit"})
	cfg.Rules = append(cfg.Rules,
		Rule{Name: "email", Pattern: `[a-z]+@[a-z]+\.com`, Action: ActionRedact, Replacement: "[email]"},
		Rule{Name: "mfa", Pattern: `(?i)mfa`, Action: ActionAllow},
	)
	scanner, err := NewScanner(cfg)
	require.NoError(t, err)

	report, err := scanner.Scan(context.Background(), "Enable MFA, then mail ops@corp.com")
	require.NoError(t, err)
	assert.False(t, report.Blocked)
	assert.True(t, report.RedactionsApplied)
	assert.Equal(t, "Enable MFA, then mail [email]", report.Redacted)
	require.Len(t, report.Findings, 2)
	assert.Equal(t, ActionAllow, report.Findings[0].Action)
	assert.Equal(t, ActionRedact, report.Findings[1].Action)
}
