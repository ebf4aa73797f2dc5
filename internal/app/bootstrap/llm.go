package bootstrap

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/wolfman30/finsight-ai/internal/analysis"
	appconfig "github.com/wolfman30/finsight-ai/internal/config"
	"github.com/wolfman30/finsight-ai/internal/llm"
	"github.com/wolfman30/finsight-ai/internal/observability/metrics"
	"github.com/wolfman30/finsight-ai/pkg/logging"
)

// AWSConfigLoader resolves SDK config for the Bedrock provider.
type AWSConfigLoader func(ctx context.Context, cfg *appconfig.Config) (aws.Config, error)

// BuildCompletionClient wires the completion client for cfg.LLMProvider. The
// returned close func releases provider resources and is never nil.
func BuildCompletionClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, loadAWS AWSConfigLoader) (llm.Client, func() error, error) {
	noop := func() error { return nil }
	if cfg == nil {
		return nil, noop, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	primary, fallback := cfg.Models()
	var (
		client  llm.Client
		closeFn = noop
	)
	switch cfg.LLMProvider {
	case appconfig.ProviderOpenAI:
		oc, err := llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("bootstrap: openai client: %w", err)
		}
		client = oc

	case appconfig.ProviderGemini:
		gc, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, primary)
		if err != nil {
			return nil, noop, fmt.Errorf("bootstrap: gemini client: %w", err)
		}
		client = gc
		closeFn = gc.Close

	case appconfig.ProviderBedrock:
		if loadAWS == nil {
			return nil, noop, fmt.Errorf("bootstrap: aws config loader is required for bedrock")
		}
		awsCfg, err := loadAWS(ctx, cfg)
		if err != nil {
			return nil, noop, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		client = llm.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg))

	default:
		return nil, noop, fmt.Errorf("bootstrap: unsupported LLM provider %q", cfg.LLMProvider)
	}

	logger.Info("completion client ready",
		"provider", cfg.LLMProvider,
		"primary_model", primary,
		"fallback_model", fallback,
		"request_timeout", cfg.LLMRequestTimeout.String(),
	)
	return llm.WithTimeout(client, cfg.LLMRequestTimeout), closeFn, nil
}

// BuildAnalyzer applies the configured models and retry budget to client.
func BuildAnalyzer(client llm.Client, cfg *appconfig.Config, m *metrics.LLMMetrics, logger *logging.Logger) (*analysis.Analyzer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	primary, fallback := cfg.Models()
	return analysis.NewAnalyzer(client, analysis.Settings{
		PrimaryModel:        primary,
		FallbackModel:       fallback,
		ExtraFallbackModels: cfg.LLMFallbackChain,
		MaxRetries:          cfg.LLMMaxRetries,
		RetryDelay:          cfg.LLMRetryBaseDelay,
	}, logger, analysis.WithMetrics(m))
}
