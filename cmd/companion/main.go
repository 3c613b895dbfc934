// Package main is the entry point for the companion binary. It serves the
// governed chat API and offers one-shot commands against the same stack.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/polis-companion/pkg/config"
	"github.com/polisai/polis-companion/pkg/governor"
	"github.com/polisai/polis-companion/pkg/logging"
	"github.com/polisai/polis-companion/pkg/provider"
)

const defaultLogLevel = "info"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "companion",
		Short: "Governed security chat assistant",
		Long: `A chat service that forwards messages to a hosted language model.

Every message is validated, admitted through a sliding-window rate limit and
answered by the upstream model. Replies that mention denylisted terms are
replaced with a fixed refusal.

Example:
  companion serve --config companion.yaml
  companion ask "What is two-factor authentication?"`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", defaultLogLevel, "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("pretty", false, "Human readable console logs")

	rootCmd.AddCommand(newServeCmd(), newAskCmd(), newHistoryCmd())
	return rootCmd
}

// runtime bundles what every subcommand needs.
type runtime struct {
	loader *config.Loader
	cfg    *config.Config
	logger *slog.Logger
}

// loadRuntime reads .env files and the config, then builds the logger. Flags
// the user set explicitly override the file.
func loadRuntime(cmd *cobra.Command) (*runtime, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	envFiles := []string{".env"}
	if configPath != "" {
		envFiles = append(envFiles, filepath.Join(filepath.Dir(configPath), ".env"))
	}
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return nil, err
	}

	loader, err := config.NewLoader(configPath, nil)
	if err != nil {
		return nil, err
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("pretty") {
		cfg.Logging.Pretty, _ = cmd.Flags().GetBool("pretty")
	}

	opts := cfg.LoggingOptions()
	opts.Output = cmd.ErrOrStderr()
	logger := logging.NewLogger(opts)
	slog.SetDefault(logger)

	loader.SetLogger(logger)

	return &runtime{loader: loader, cfg: cfg, logger: logger}, nil
}

// buildGovernor wires the OpenAI client, persona and policy into a governor.
func buildGovernor(cfg *config.Config, logger *slog.Logger, recorder governor.Recorder) (*governor.Governor, error) {
	persona, err := provider.LoadPersona(cfg.Provider.PersonaFile)
	if err != nil {
		return nil, err
	}

	client := provider.NewOpenAIClient(provider.OpenAIConfig{
		BaseURL:    cfg.Provider.BaseURL,
		APIKey:     cfg.Provider.APIKey,
		HTTPClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Logger:     logger,
	})

	return governor.New(governor.Options{
		Client:    client,
		Policy:    cfg.Policy(),
		Persona:   persona,
		Model:     cfg.Provider.Model,
		MaxTokens: cfg.Provider.MaxTokens,
		Recorder:  recorder,
		Logger:    logger,
	})
}
