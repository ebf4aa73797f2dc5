// Package analysis turns uploaded financial documents and chat histories into
// completion requests and runs them through the primary model, falling back
// to a cheaper model when the primary is rate limited.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/finsight-ai/internal/llm"
	"github.com/wolfman30/finsight-ai/internal/observability/metrics"
	"github.com/wolfman30/finsight-ai/pkg/logging"
)

const (
	DefaultPrimaryModel  = "gpt-4.1"
	DefaultFallbackModel = "gpt-3.5-turbo"

	modeDocument = "document"
	modeChat     = "chat"

	pathPrimary  = "primary"
	pathFallback = "fallback"
)

var tracer = otel.Tracer("finsight.internal.analysis")

// Service is what the HTTP handlers depend on.
type Service interface {
	AnalyzeDocument(ctx context.Context, content string) (llm.CompletionResult, error)
	Chat(ctx context.Context, turns []ChatTurn) (llm.CompletionResult, error)
}

// Settings controls model choice and the fallback retry budget.
//
// ExtraFallbackModels are tried in order after FallbackModel, one per
// attempt; once the list runs out the last model is reused for the remaining
// attempts.
type Settings struct {
	PrimaryModel        string
	FallbackModel       string
	ExtraFallbackModels []string
	MaxRetries          int
	RetryDelay          time.Duration
}

// DefaultSettings returns the production retry policy.
func DefaultSettings() Settings {
	return Settings{
		PrimaryModel:  DefaultPrimaryModel,
		FallbackModel: DefaultFallbackModel,
		MaxRetries:    DefaultMaxRetries,
		RetryDelay:    DefaultRetryDelay,
	}
}

// Option customizes an Analyzer.
type Option func(*Analyzer)

// WithMetrics records completion metrics.
func WithMetrics(m *metrics.LLMMetrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// WithSleeper replaces the backoff wait, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(a *Analyzer) {
		if s != nil {
			a.sleep = s
		}
	}
}

// Analyzer runs the formatter → primary call → classifier → fallback → translator chain.
// It holds no per-call state and is safe for concurrent use.
type Analyzer struct {
	client   llm.Client
	settings Settings
	logger   *logging.Logger
	metrics  *metrics.LLMMetrics
	sleep    Sleeper
}

var _ Service = (*Analyzer)(nil)

// NewAnalyzer validates settings and builds an Analyzer around client.
func NewAnalyzer(client llm.Client, settings Settings, logger *logging.Logger, opts ...Option) (*Analyzer, error) {
	if client == nil {
		return nil, errors.New("analysis: completion client is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if strings.TrimSpace(settings.PrimaryModel) == "" {
		settings.PrimaryModel = DefaultPrimaryModel
	}
	if strings.TrimSpace(settings.FallbackModel) == "" {
		settings.FallbackModel = DefaultFallbackModel
	}
	if strings.EqualFold(strings.TrimSpace(settings.PrimaryModel), strings.TrimSpace(settings.FallbackModel)) {
		return nil, fmt.Errorf("analysis: fallback model must differ from primary model %q", settings.PrimaryModel)
	}
	var extra []string
	for _, model := range settings.ExtraFallbackModels {
		model = strings.TrimSpace(model)
		if model == "" {
			continue
		}
		if strings.EqualFold(model, strings.TrimSpace(settings.PrimaryModel)) {
			return nil, fmt.Errorf("analysis: fallback model must differ from primary model %q", settings.PrimaryModel)
		}
		extra = append(extra, model)
	}
	settings.ExtraFallbackModels = extra
	if settings.MaxRetries <= 0 {
		settings.MaxRetries = DefaultMaxRetries
	}
	if settings.RetryDelay < 0 {
		return nil, errors.New("analysis: retry delay must not be negative")
	}

	a := &Analyzer{
		client:   client,
		settings: settings,
		logger:   logger,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Settings returns the effective settings after defaults were applied.
func (a *Analyzer) Settings() Settings {
	return a.settings
}

// fallbackModel is the model used for the given zero-based fallback attempt.
func (a *Analyzer) fallbackModel(attempt int) string {
	if attempt <= 0 || len(a.settings.ExtraFallbackModels) == 0 {
		return a.settings.FallbackModel
	}
	if attempt > len(a.settings.ExtraFallbackModels) {
		attempt = len(a.settings.ExtraFallbackModels)
	}
	return a.settings.ExtraFallbackModels[attempt-1]
}

// AnalyzeDocument analyses raw or base64-encoded document text. Errors are
// either ErrInvalidInput (wrapped) or *AdvisoryError.
func (a *Analyzer) AnalyzeDocument(ctx context.Context, content string) (llm.CompletionResult, error) {
	ctx, span := tracer.Start(ctx, "analysis.document")
	defer span.End()

	// Whitespace-only content is rejected too; it can only produce a useless call.
	if strings.TrimSpace(content) == "" {
		return llm.CompletionResult{}, fmt.Errorf("%w: content string is required", ErrInvalidInput)
	}

	document := a.prepareDocument(content)
	span.SetAttributes(
		attribute.Int("analysis.input_chars", runeLen(content)),
		attribute.Int("analysis.document_chars", runeLen(document)),
	)

	return a.run(ctx, span, modeDocument,
		documentRequest(a.settings.PrimaryModel, document),
		func(model string) llm.CompletionRequest { return fallbackDocumentRequest(model, document) },
	)
}

// Chat answers the latest turn of a conversation as the financial advisor persona.
func (a *Analyzer) Chat(ctx context.Context, turns []ChatTurn) (llm.CompletionResult, error) {
	ctx, span := tracer.Start(ctx, "analysis.chat")
	defer span.End()

	if len(turns) == 0 {
		return llm.CompletionResult{}, fmt.Errorf("%w: messages array is required", ErrInvalidInput)
	}
	span.SetAttributes(attribute.Int("analysis.turns", len(turns)))

	return a.run(ctx, span, modeChat,
		chatRequest(a.settings.PrimaryModel, turns),
		func(model string) llm.CompletionRequest { return fallbackChatRequest(model, turns) },
	)
}

// prepareDocument decodes base64 payloads and caps the text at MaxContentLength.
// A failed decode is logged and the raw string is used instead.
func (a *Analyzer) prepareDocument(content string) string {
	document := content
	if looksBase64(content) {
		decoded, err := decodeBase64Text(content)
		if err != nil {
			a.logger.Warn("failed to decode base64 content, using original content", "error", err)
		} else {
			a.logger.Debug("decoded base64 content", "chars", runeLen(decoded))
			document = decoded
		}
	}

	if n := runeLen(document); n > MaxContentLength {
		a.logger.Warn("content too long, truncating", "chars", n, "limit", MaxContentLength)
		document = truncateRunes(document, MaxContentLength)
	}
	return document
}

func (a *Analyzer) run(ctx context.Context, span trace.Span, mode string, primary llm.CompletionRequest, fallback func(model string) llm.CompletionRequest) (llm.CompletionResult, error) {
	res, err := a.complete(ctx, primary, pathPrimary)
	if err == nil {
		return res, nil
	}

	class := Classify(err)
	a.metrics.ObservePrimaryFailure(mode, class.String())
	a.logger.Warn("primary completion failed",
		"mode", mode,
		"model", primary.Model,
		"class", class.String(),
		"error", err,
	)
	span.SetAttributes(attribute.String("analysis.failure_class", class.String()))

	if class == QuotaOrRateLimit {
		res, err = a.retryWithFallback(ctx, mode, fallback)
		if err == nil {
			return res, nil
		}
	}

	adv := Translate(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(adv.Kind))
	a.logger.Error("analysis failed", "mode", mode, "advisory", adv.Kind, "error", err)
	return llm.CompletionResult{}, adv
}

// complete issues exactly one upstream call.
func (a *Analyzer) complete(ctx context.Context, req llm.CompletionRequest, path string) (llm.CompletionResult, error) {
	ctx, span := tracer.Start(ctx, "analysis.complete", trace.WithAttributes(
		attribute.String("llm.model", req.Model),
		attribute.String("llm.path", path),
	))
	defer span.End()

	start := time.Now()
	res, err := a.client.Complete(ctx, req)
	a.metrics.ObserveCompletion(req.Model, path, err, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
	}
	return res, err
}
