// Package governor implements the Request Governor: it validates a chat
// message, admits it through the sliding rate window, asks the upstream
// provider for a completion and withholds replies that mention denylisted
// terms.
package governor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-companion/internal/governance"
	"github.com/polisai/polis-companion/pkg/policy/dlp"
	"github.com/polisai/polis-companion/pkg/provider"
	"github.com/polisai/polis-companion/pkg/telemetry"
)

// MaxMessageLength is the default limit on message length in code points.
const MaxMessageLength = 2000

// DefaultRefusal replaces any reply that mentions a denylisted term.
const DefaultRefusal = "I apologize, but I cannot provide specific information about security exploits or vulnerabilities. " +
	"Instead, I can offer guidance on security best practices and defensive measures."

// Policy holds the tunable limits of the governor.
type Policy struct {
	RateLimit        int
	RateWindow       time.Duration
	MaxMessageLength int
	Denylist         []string

	// Rules are extra scanner rules applied after the denylist. Block rules
	// withhold the reply like denylist terms; redact rules mask matches.
	Rules           []dlp.Rule
	Refusal         string
	ProviderTimeout time.Duration
}

// DefaultPolicy returns 20 requests per minute, 2000 code points, the default
// denylist and refusal, and a 30 second provider timeout.
func DefaultPolicy() Policy {
	return Policy{
		RateLimit:        governance.DefaultRateLimit,
		RateWindow:       governance.DefaultRateWindow,
		MaxMessageLength: MaxMessageLength,
		Denylist:         append([]string(nil), dlp.DefaultDenylist...),
		Refusal:          DefaultRefusal,
		ProviderTimeout:  governance.DefaultRequestTimeout,
	}
}

// withDefaults fills zero values from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.RateLimit == 0 {
		p.RateLimit = def.RateLimit
	}
	if p.RateWindow == 0 {
		p.RateWindow = def.RateWindow
	}
	if p.MaxMessageLength == 0 {
		p.MaxMessageLength = def.MaxMessageLength
	}
	if p.Denylist == nil {
		p.Denylist = def.Denylist
	}
	if strings.TrimSpace(p.Refusal) == "" {
		p.Refusal = def.Refusal
	}
	if p.ProviderTimeout == 0 {
		p.ProviderTimeout = def.ProviderTimeout
	}
	return p
}

// Validate rejects negative limits.
func (p Policy) Validate() error {
	switch {
	case p.RateLimit < 0:
		return fmt.Errorf("rate limit must be positive, got %d", p.RateLimit)
	case p.RateWindow < 0:
		return fmt.Errorf("rate window must be positive, got %s", p.RateWindow)
	case p.MaxMessageLength < 0:
		return fmt.Errorf("max message length must be positive, got %d", p.MaxMessageLength)
	case p.ProviderTimeout < 0:
		return fmt.Errorf("provider timeout must be positive, got %s", p.ProviderTimeout)
	}
	return nil
}

// Recorder receives per-request outcomes, typically *telemetry.Metrics.
type Recorder interface {
	RecordChatOutcome(outcome telemetry.Outcome)
	SetRateWindowInUse(n int)
}

// Options configures a Governor.
type Options struct {
	Client    provider.Client
	Policy    Policy
	Persona   string
	Model     string
	MaxTokens int
	// Clock defaults to time.Now.
	Clock func() time.Time
	// Window lets callers share or inspect the rate window. A new one is
	// created from Policy when nil.
	Window   *governance.RateWindow
	Recorder Recorder
	Logger   *slog.Logger
}

// rules is the hot-reloadable part of the governor, swapped as a unit.
type rules struct {
	maxLength int
	scanner   *dlp.Scanner
	refusal   string
}

// Governor runs chat messages through validation, rate limiting, the
// upstream provider and the response filter. It is safe for concurrent use.
type Governor struct {
	client    provider.Client
	persona   string
	model     string
	maxTokens int

	window   *governance.RateWindow
	timeouts *governance.TimeoutManager
	now      func() time.Time
	recorder Recorder
	logger   *slog.Logger

	mu    sync.RWMutex
	rules rules
}

// New constructs a Governor. Client is required.
func New(opts Options) (*Governor, error) {
	if opts.Client == nil {
		return nil, errors.New("governor: provider client is required")
	}

	policy := opts.Policy.withDefaults()
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("governor: invalid policy: %w", err)
	}
	r, err := buildRules(policy)
	if err != nil {
		return nil, err
	}

	persona := strings.TrimSpace(opts.Persona)
	if persona == "" {
		persona = provider.DefaultPersona
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = provider.DefaultModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = provider.DefaultMaxTokens
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	window := opts.Window
	if window == nil {
		window = governance.NewRateWindow(governance.RateWindowConfig{
			Limit:  policy.RateLimit,
			Window: policy.RateWindow,
		})
	} else {
		window.Configure(governance.RateWindowConfig{Limit: policy.RateLimit, Window: policy.RateWindow})
	}

	return &Governor{
		client:    opts.Client,
		persona:   persona,
		model:     model,
		maxTokens: maxTokens,
		window:    window,
		timeouts:  governance.NewTimeoutManager(governance.TimeoutConfig{RequestTimeout: policy.ProviderTimeout}),
		now:       clock,
		recorder:  opts.Recorder,
		logger:    logger,
		rules:     r,
	}, nil
}

func buildRules(policy Policy) (rules, error) {
	cfg := dlp.DenylistConfig(policy.Denylist)
	cfg.Rules = append(cfg.Rules, policy.Rules...)

	scanner, err := dlp.NewScanner(cfg)
	if err != nil {
		return rules{}, fmt.Errorf("governor: build denylist: %w", err)
	}
	return rules{
		maxLength: policy.MaxMessageLength,
		scanner:   scanner,
		refusal:   policy.Refusal,
	}, nil
}

// Configure applies a new policy. Recorded admissions survive the change.
func (g *Governor) Configure(policy Policy) error {
	policy = policy.withDefaults()
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("governor: invalid policy: %w", err)
	}
	r, err := buildRules(policy)
	if err != nil {
		return err
	}
	if err := g.timeouts.Configure(governance.TimeoutConfig{RequestTimeout: policy.ProviderTimeout}); err != nil {
		return fmt.Errorf("governor: %w", err)
	}

	g.window.Configure(governance.RateWindowConfig{Limit: policy.RateLimit, Window: policy.RateWindow})

	g.mu.Lock()
	g.rules = r
	g.mu.Unlock()

	g.logger.Info("Governor policy updated",
		"rate_limit", policy.RateLimit,
		"rate_window", policy.RateWindow,
		"max_message_length", policy.MaxMessageLength,
		"scanner_rules", r.scanner.Rules(),
		"provider_timeout", policy.ProviderTimeout)
	return nil
}

func (g *Governor) currentRules() rules {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rules
}

// Window returns the rate window the governor admits through.
func (g *Governor) Window() *governance.RateWindow {
	return g.window
}

// MaxLength returns the current message length limit in code points.
func (g *Governor) MaxLength() int {
	return g.currentRules().maxLength
}

// RateStats reports the rate window occupancy at the governor's current time.
func (g *Governor) RateStats() governance.RateWindowStats {
	return g.window.Stats(g.now())
}

// Validate returns message unchanged when it is non-empty and within the
// configured length.
func (g *Governor) Validate(message string) (string, error) {
	if message == "" {
		return "", newError(KindEmptyInput, nil)
	}
	limit := g.currentRules().maxLength
	if n := utf8.RuneCountInString(message); n > limit {
		return "", newError(KindTooLong, fmt.Errorf("%d characters exceeds limit of %d", n, limit))
	}
	return message, nil
}

// ValidateValue validates a decoded JSON value. Anything but a string is
// treated as a missing message.
func (g *Governor) ValidateValue(v any) (string, error) {
	message, ok := v.(string)
	if !ok {
		return "", newError(KindEmptyInput, fmt.Errorf("message has type %T", v))
	}
	return g.Validate(message)
}

// CheckRateLimit admits one request at now or reports KindRateLimited.
func (g *Governor) CheckRateLimit(now time.Time) error {
	if err := g.window.Admit(now); err != nil {
		return newError(KindRateLimited, err)
	}
	return nil
}

// InvokeProvider performs a single completion call bounded by the provider
// timeout.
func (g *Governor) InvokeProvider(ctx context.Context, message string) (string, error) {
	ctx, cancel := g.timeouts.WithRequestTimeout(ctx)
	defer cancel()

	reply, err := g.client.Complete(ctx, provider.CompletionRequest{
		Model:     g.model,
		System:    g.persona,
		User:      message,
		MaxTokens: g.maxTokens,
	})
	if err != nil {
		kind := provider.KindOf(err)
		if governance.IsTimeout(err) {
			kind = provider.KindTransport
		}
		return "", &Error{Kind: KindProvider, Provider: kind, Err: err}
	}
	return reply, nil
}

// FilterResponse returns the refusal when text contains a denylisted term or
// matches a block rule, in any letter case. Otherwise redact rules are applied
// and the possibly masked text is returned.
func (g *Governor) FilterResponse(text string) string {
	filtered, _ := g.filter(context.Background(), text)
	return filtered
}

// filter returns the text to deliver and the outcome of the scan.
func (g *Governor) filter(ctx context.Context, text string) (string, scanResult) {
	r := g.currentRules()
	report, err := r.scanner.Scan(context.WithoutCancel(ctx), text)
	if err != nil {
		// Scan only fails on a cancelled context, which WithoutCancel rules out.
		g.logger.Warn("Response scan failed", "error", err)
		return text, scanResult{}
	}

	res := scanResult{findings: len(report.Findings)}
	switch {
	case report.Blocked:
		res.outcome = telemetry.OutcomeFiltered
		return r.refusal, res
	case report.RedactionsApplied:
		res.outcome = telemetry.OutcomeRedacted
		return report.Redacted, res
	default:
		res.outcome = telemetry.OutcomeAllowed
		return text, res
	}
}

type scanResult struct {
	outcome  telemetry.Outcome
	findings int
}

// Respond runs message through validation, the rate window, the provider and
// the response filter. Failures short-circuit; an invalid message never
// reaches the window or the provider.
func (g *Governor) Respond(ctx context.Context, message string) (string, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "governor.respond", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	if _, err := g.Validate(message); err != nil {
		g.fail(ctx, span, err, 0)
		return "", err
	}

	if err := g.CheckRateLimit(g.now()); err != nil {
		g.fail(ctx, span, err, 0)
		return "", err
	}
	g.reportWindow()

	start := time.Now()
	reply, err := g.InvokeProvider(ctx, message)
	elapsed := time.Since(start)
	if err != nil {
		g.fail(ctx, span, err, elapsed)
		return "", err
	}

	filtered, res := g.filter(ctx, reply)
	switch res.outcome {
	case telemetry.OutcomeFiltered:
		g.logger.Info("Response withheld by content rules", "findings", res.findings)
	case telemetry.OutcomeRedacted:
		g.logger.Info("Response redacted by content rules", "findings", res.findings)
	}

	span.SetAttributes(attribute.Int64("provider.duration_ms", elapsed.Milliseconds()))
	telemetry.RecordGovernorDecision(span, res.outcome, res.findings)
	telemetry.RecordGovernorMetrics(ctx, telemetry.GovernorMetrics{
		Outcome:          res.outcome,
		ProviderDuration: elapsed,
	})
	g.record(res.outcome)

	return filtered, nil
}

func (g *Governor) fail(ctx context.Context, span trace.Span, err error, elapsed time.Duration) {
	outcome := OutcomeOf(err)
	m := telemetry.GovernorMetrics{Outcome: outcome, ProviderDuration: elapsed}

	var gerr *Error
	if errors.As(err, &gerr) && gerr.Kind == KindProvider {
		m.ProviderKind = string(gerr.Provider)
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider failure")
		g.logger.Error("Provider call failed", "kind", gerr.Provider, "duration", elapsed, "error", err)
	} else {
		g.logger.Info("Request rejected", "reason", KindOf(err), "error", err)
	}

	telemetry.RecordGovernorDecision(span, outcome, 0)
	telemetry.RecordGovernorMetrics(ctx, m)
	g.record(outcome)
}

func (g *Governor) record(outcome telemetry.Outcome) {
	if g.recorder == nil {
		return
	}
	g.recorder.RecordChatOutcome(outcome)
}

func (g *Governor) reportWindow() {
	if g.recorder == nil {
		return
	}
	g.recorder.SetRateWindowInUse(g.window.Len())
}

// OutcomeOf maps a Respond error to its telemetry outcome.
func OutcomeOf(err error) telemetry.Outcome {
	switch KindOf(err) {
	case KindEmptyInput:
		return telemetry.OutcomeEmptyInput
	case KindTooLong:
		return telemetry.OutcomeTooLong
	case KindRateLimited:
		return telemetry.OutcomeRateLimited
	default:
		return telemetry.OutcomeProviderError
	}
}
