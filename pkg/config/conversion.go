package config

import (
	"slices"

	"github.com/polisai/polis-companion/pkg/governor"
	"github.com/polisai/polis-companion/pkg/logging"
	"github.com/polisai/polis-companion/pkg/telemetry"
)

// Policy converts the governor and provider sections to a governor.Policy.
func (c *Config) Policy() governor.Policy {
	var denylist []string
	if c.Governor.Denylist != nil {
		// An explicit empty list disables filtering, so nil must not leak through.
		denylist = make([]string, len(c.Governor.Denylist))
		copy(denylist, c.Governor.Denylist)
	}

	return governor.Policy{
		RateLimit:        c.Governor.RateLimit,
		RateWindow:       c.Governor.RateWindow,
		MaxMessageLength: c.Governor.MaxMessageLength,
		Denylist:         denylist,
		Rules:            slices.Clone(c.Governor.Rules),
		Refusal:          c.Governor.Refusal,
		ProviderTimeout:  c.Provider.Timeout,
	}
}

// LoggingOptions converts the logging section.
func (c *Config) LoggingOptions() logging.Config {
	return logging.Config{Level: c.Logging.Level, Pretty: c.Logging.Pretty}
}

// TelemetryOptions converts the telemetry section.
func (c *Config) TelemetryOptions() telemetry.Config {
	return telemetry.Config{
		ServiceName:  c.Telemetry.ServiceName,
		Endpoint:     c.Telemetry.Endpoint,
		Environment:  c.Telemetry.Environment,
		Insecure:     c.Telemetry.Insecure,
		Headers:      c.Telemetry.Headers,
		ResourceTags: c.Telemetry.ResourceAttributes,
	}
}
