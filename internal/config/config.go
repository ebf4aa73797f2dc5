package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Supported completion providers.
const (
	ProviderOpenAI  = "openai"
	ProviderGemini  = "gemini"
	ProviderBedrock = "bedrock"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	LLMProvider       string
	LLMMaxRetries     int
	LLMRetryBaseDelay time.Duration
	LLMRequestTimeout time.Duration
	// LLMFallbackChain lists further fallback models tried after the
	// provider's fallback model, in order.
	LLMFallbackChain []string

	// OpenAI-compatible chat completion endpoint
	OpenAIAPIKey        string
	OpenAIBaseURL       string
	OpenAIModel         string
	OpenAIFallbackModel string

	// Gemini
	GeminiAPIKey        string
	GeminiModel         string
	GeminiFallbackModel string

	// Bedrock
	BedrockModelID         string
	BedrockFallbackModelID string
	AWSRegion              string
	AWSAccessKeyID         string
	AWSSecretAccessKey     string
	AWSEndpointOverride    string

	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		LLMProvider:       strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", ProviderOpenAI))),
		LLMMaxRetries:     getEnvAsInt("LLM_MAX_RETRIES", 3),
		LLMRetryBaseDelay: getEnvAsDuration("LLM_RETRY_BASE_DELAY", 2*time.Second),
		LLMRequestTimeout: getEnvAsDuration("LLM_REQUEST_TIMEOUT", 2*time.Minute),
		LLMFallbackChain:  getEnvAsList("LLM_FALLBACK_CHAIN", nil),

		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", getEnv("EXPO_PUBLIC_OPENAI_API_KEY", "")),
		OpenAIBaseURL:       getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:         getEnv("OPENAI_MODEL", getEnv("EXPO_PUBLIC_OPENAI_MODEL", "gpt-4.1")),
		OpenAIFallbackModel: getEnv("OPENAI_FALLBACK_MODEL", "gpt-3.5-turbo"),

		GeminiAPIKey:        getEnv("GEMINI_API_KEY", getEnv("EXPO_PUBLIC_GEMINI_API_KEY", "")),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiFallbackModel: getEnv("GEMINI_FALLBACK_MODEL", "gemini-2.0-flash-lite"),

		BedrockModelID:         getEnv("BEDROCK_MODEL_ID", ""),
		BedrockFallbackModelID: getEnv("BEDROCK_FALLBACK_MODEL_ID", ""),
		AWSRegion:              getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:         getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:     getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:    getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 2),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 10),
	}
}

// Models returns the primary and fallback model identifiers for the selected provider.
func (c *Config) Models() (primary, fallback string) {
	switch c.LLMProvider {
	case ProviderGemini:
		return c.GeminiModel, c.GeminiFallbackModel
	case ProviderBedrock:
		return c.BedrockModelID, c.BedrockFallbackModelID
	default:
		return c.OpenAIModel, c.OpenAIFallbackModel
	}
}

// Validate checks that the selected provider has what it needs to start.
func (c *Config) Validate() error {
	var errs []error
	switch c.LLMProvider {
	case ProviderOpenAI:
		if strings.TrimSpace(c.OpenAIAPIKey) == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required"))
		}
	case ProviderGemini:
		if strings.TrimSpace(c.GeminiAPIKey) == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required"))
		}
	case ProviderBedrock:
		if strings.TrimSpace(c.BedrockModelID) == "" || strings.TrimSpace(c.BedrockFallbackModelID) == "" {
			errs = append(errs, errors.New("BEDROCK_MODEL_ID and BEDROCK_FALLBACK_MODEL_ID are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported LLM_PROVIDER %q", c.LLMProvider))
	}

	primary, fallback := c.Models()
	if primary != "" && strings.EqualFold(strings.TrimSpace(primary), strings.TrimSpace(fallback)) {
		errs = append(errs, fmt.Errorf("fallback model must differ from primary model %q", primary))
	}
	for _, model := range c.LLMFallbackChain {
		if primary != "" && strings.EqualFold(strings.TrimSpace(primary), model) {
			errs = append(errs, fmt.Errorf("LLM_FALLBACK_CHAIN must not contain primary model %q", primary))
			break
		}
	}
	if c.LLMMaxRetries < 1 {
		errs = append(errs, errors.New("LLM_MAX_RETRIES must be at least 1"))
	}
	if c.LLMRetryBaseDelay < 0 {
		errs = append(errs, errors.New("LLM_RETRY_BASE_DELAY must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping empty entries.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
