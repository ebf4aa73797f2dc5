package analysis

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/finsight-ai/internal/llm"
	"github.com/wolfman30/finsight-ai/internal/observability/metrics"
	"github.com/wolfman30/finsight-ai/pkg/logging"
)

type stubResult struct {
	text string
	err  error
}

// scriptedClient returns results in order; the last one repeats.
type scriptedClient struct {
	mu     sync.Mutex
	script []stubResult
	calls  []llm.CompletionRequest
	onCall func(n int)
}

func (c *scriptedClient) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, req)
	n := len(c.calls)
	if c.onCall != nil {
		c.onCall(n)
	}
	r := c.script[len(c.script)-1]
	if n <= len(c.script) {
		r = c.script[n-1]
	}
	return llm.CompletionResult{Text: r.text}, r.err
}

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func newTestAnalyzer(t *testing.T, client llm.Client, opts ...Option) (*Analyzer, *recordingSleeper) {
	t.Helper()
	sleeper := &recordingSleeper{}
	opts = append([]Option{WithSleeper(sleeper.Sleep)}, opts...)
	a, err := NewAnalyzer(client, DefaultSettings(), logging.Discard(), opts...)
	require.NoError(t, err)
	return a, sleeper
}

func userContent(req llm.CompletionRequest) string {
	return req.Messages[len(req.Messages)-1].Content
}

func TestAnalyzeDocument_PlainTextPrimarySuccess(t *testing.T) {
	client := &scriptedClient{script: []stubResult{{text: "分析結果"}}}
	a, sleeper := newTestAnalyzer(t, client)

	res, err := a.AnalyzeDocument(context.Background(), "分析対象のテキスト")
	require.NoError(t, err)
	assert.Equal(t, "分析結果", res.Text)

	require.Len(t, client.calls, 1)
	req := client.calls[0]
	assert.Equal(t, DefaultPrimaryModel, req.Model)
	assert.Equal(t, float32(0.2), req.Temperature)
	assert.Equal(t, 2048, req.MaxTokens)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, advisorSystemPrompt, req.Messages[0].Content)
	assert.Equal(t, llm.RoleUser, req.Messages[1].Role)
	assert.True(t, strings.HasSuffix(userContent(req), "文書：\n分析対象のテキスト"))
	for _, aspect := range []string{"財務健全性", "収益性", "成長性", "リスク要因", "改善のための具体的なアドバイス"} {
		assert.Contains(t, userContent(req), aspect)
	}
	assert.Empty(t, sleeper.delays)
}

func TestAnalyzeDocument_DecodesBase64(t *testing.T) {
	client := &scriptedClient{script: []stubResult{{text: "ok"}}}
	a, _ := newTestAnalyzer(t, client)

	encoded := base64.StdEncoding.EncodeToString([]byte("売上高は1億円です"))
	_, err := a.AnalyzeDocument(context.Background(), encoded)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(userContent(client.calls[0]), "売上高は1億円です"))
}

func TestAnalyzeDocument_Base64DecodeFailureUsesRaw(t *testing.T) {
	client := &scriptedClient{script: []stubResult{{text: "ok"}}}
	a, _ := newTestAnalyzer(t, client)

	_, err := a.AnalyzeDocument(context.Background(), "abcd")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(userContent(client.calls[0]), "文書：\nabcd"))
}

func TestAnalyzeDocument_Truncation(t *testing.T) {
	t.Run("under limit unchanged", func(t *testing.T) {
		client := &scriptedClient{script: []stubResult{{text: "ok"}}}
		a, _ := newTestAnalyzer(t, client)
		doc := strings.Repeat("資", MaxContentLength-1)

		_, err := a.AnalyzeDocument(context.Background(), doc)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(userContent(client.calls[0]), "\n"+doc))
	})

	t.Run("over limit truncated to exactly the cap", func(t *testing.T) {
		client := &scriptedClient{script: []stubResult{{text: "ok"}}}
		a, _ := newTestAnalyzer(t, client)
		doc := strings.Repeat("資", MaxContentLength) + strings.Repeat("負", 500)

		_, err := a.AnalyzeDocument(context.Background(), doc)
		require.NoError(t, err)
		content := userContent(client.calls[0])
		embedded := content[strings.LastIndex(content, "文書：\n")+len("文書：\n"):]
		assert.Equal(t, MaxContentLength, runeLen(embedded))
		assert.NotContains(t, embedded, "負")
	})
}

func TestAnalyzeDocument_InvalidInputMakesNoCall(t *testing.T) {
	client := &scriptedClient{script: []stubResult{{text: "ok"}}}
	a, _ := newTestAnalyzer(t, client)

	for _, in := range []string{"", "   \n"} {
		_, err := a.AnalyzeDocument(context.Background(), in)
		require.ErrorIs(t, err, ErrInvalidInput)
	}
	assert.Empty(t, client.calls)
}

func TestAnalyzeDocument_AllFallbacksFail(t *testing.T) {
	client := &scriptedClient{script: []stubResult{
		{err: errors.New("Rate limit exceeded, 429")},
		{err: errors.New("still rate limited")},
		{err: errors.New("invalid request body")},
		{err: errors.New("server error")},
	}}
	reg := prometheus.NewRegistry()
	a, sleeper := newTestAnalyzer(t, client, WithMetrics(metrics.NewLLMMetrics(reg)))

	_, err := a.AnalyzeDocument(context.Background(), "分析対象のテキスト")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllModelsExhausted)

	var adv *AdvisoryError
	require.ErrorAs(t, err, &adv)
	assert.Equal(t, KindAPILimit, adv.Kind)
	assert.Equal(t, AdvisoryAPILimit, err.Error())

	// One primary call plus exactly three fallback calls.
	require.Len(t, client.calls, 4)
	for _, req := range client.calls[1:] {
		assert.Equal(t, DefaultFallbackModel, req.Model)
		assert.Equal(t, float32(0.3), req.Temperature)
		assert.Equal(t, 1024, req.MaxTokens)
	}
	assert.Equal(t, []time.Duration{2000 * time.Millisecond, 4000 * time.Millisecond, 8000 * time.Millisecond}, sleeper.delays)
}

func TestAnalyzeDocument_SecondFallbackSucceeds(t *testing.T) {
	client := &scriptedClient{script: []stubResult{
		{err: errors.New("429 Too Many Requests")},
		{err: errors.New("quota exceeded")},
		{text: "簡潔な分析"},
		{text: "never reached"},
	}}
	a, sleeper := newTestAnalyzer(t, client)

	res, err := a.AnalyzeDocument(context.Background(), "分析対象のテキスト")
	require.NoError(t, err)
	assert.Equal(t, "簡潔な分析", res.Text)
	assert.Len(t, client.calls, 3, "primary + 2 fallback calls")
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeper.delays)
}

func TestAnalyzeDocument_OtherFailureSkipsFallback(t *testing.T) {
	client := &scriptedClient{script: []stubResult{{err: errors.New("invalid content part")}}}
	a, sleeper := newTestAnalyzer(t, client)

	_, err := a.AnalyzeDocument(context.Background(), "分析対象のテキスト")
	require.Error(t, err)
	assert.Len(t, client.calls, 1)
	assert.Empty(t, sleeper.delays)

	var adv *AdvisoryError
	require.ErrorAs(t, err, &adv)
	assert.Equal(t, KindContent, adv.Kind)
	assert.EqualError(t, errors.Unwrap(err), "invalid content part")
}

func TestAnalyzeDocument_FallbackUsesShorterWindow(t *testing.T) {
	client := &scriptedClient{script: []stubResult{
		{err: &llm.APIError{Provider: "openai", StatusCode: 429, Err: errors.New("slow down")}},
		{text: "ok"},
	}}
	a, _ := newTestAnalyzer(t, client)

	doc := strings.Repeat("あ", 3000) + strings.Repeat("い", 3000) + strings.Repeat("う", 6000)
	_, err := a.AnalyzeDocument(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, client.calls, 2)

	primary := userContent(client.calls[0])
	fallback := userContent(client.calls[1])
	assert.True(t, strings.HasPrefix(fallback, "以下の財務文書を簡潔に分析してください：\n"))
	excerpt := strings.TrimPrefix(fallback, "以下の財務文書を簡潔に分析してください：\n")
	assert.Equal(t, FallbackContentLength, runeLen(excerpt))
	assert.Equal(t, strings.Repeat("あ", 3000)+strings.Repeat("い", 2000), excerpt)
	assert.Less(t, len(fallback), len(primary))
	assert.NotEqual(t, client.calls[0].Model, client.calls[1].Model)
}

func TestAnalyzeDocument_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &scriptedClient{
		script: []stubResult{{err: errors.New("rate limit")}},
		onCall: func(n int) { cancel() },
	}
	a, sleeper := newTestAnalyzer(t, client)

	_, err := a.AnalyzeDocument(ctx, "分析対象のテキスト")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, client.calls, 1)
	assert.Len(t, sleeper.delays, 1)
	assert.Equal(t, AdvisoryGeneric, err.Error())
}

func TestChat_FormatsTurns(t *testing.T) {
	client := &scriptedClient{script: []stubResult{{text: "回答"}}}
	a, _ := newTestAnalyzer(t, client)

	res, err := a.Chat(context.Background(), []ChatTurn{
		{IsUser: true, Text: "売上を増やすには？"},
		{IsUser: false, Text: "いくつか方法があります"},
		{IsUser: true, Text: "具体的には？"},
	})
	require.NoError(t, err)
	assert.Equal(t, "回答", res.Text)

	req := client.calls[0]
	require.Len(t, req.Messages, 4)
	assert.Equal(t, llm.ChatMessage{Role: llm.RoleSystem, Content: advisorSystemPrompt}, req.Messages[0])
	assert.Equal(t, llm.RoleUser, req.Messages[1].Role)
	assert.Equal(t, llm.RoleAssistant, req.Messages[2].Role)
	assert.Equal(t, "具体的には？", req.Messages[3].Content)
	assert.Equal(t, float32(0.2), req.Temperature)
	assert.Equal(t, 2048, req.MaxTokens)
}

func TestChat_RejectsEmpty(t *testing.T) {
	client := &scriptedClient{script: []stubResult{{text: "x"}}}
	a, _ := newTestAnalyzer(t, client)

	_, err := a.Chat(context.Background(), nil)
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "messages array is required")
	assert.Empty(t, client.calls)
}

func TestChat_FallbackOnRateLimit(t *testing.T) {
	client := &scriptedClient{script: []stubResult{
		{err: errors.New("rate limit")},
		{text: "fallback answer"},
	}}
	a, sleeper := newTestAnalyzer(t, client)

	turns := []ChatTurn{
		{IsUser: true, Text: strings.Repeat("古", 4000)},
		{IsUser: false, Text: strings.Repeat("中", 2000)},
		{IsUser: true, Text: "最新の質問"},
	}
	res, err := a.Chat(context.Background(), turns)
	require.NoError(t, err)
	assert.Equal(t, "fallback answer", res.Text)
	assert.Equal(t, []time.Duration{2 * time.Second}, sleeper.delays)

	require.Len(t, client.calls, 2)
	assert.Len(t, client.calls[0].Messages, 4)
	fallback := client.calls[1]
	assert.Equal(t, DefaultFallbackModel, fallback.Model)
	require.Len(t, fallback.Messages, 3, "oldest turn dropped from the fallback window")
	assert.Equal(t, shortAdvisorSystemPrompt, fallback.Messages[0].Content)
	assert.Equal(t, "最新の質問", fallback.Messages[2].Content)
}

func TestNewAnalyzer_Validation(t *testing.T) {
	client := &scriptedClient{script: []stubResult{{}}}

	_, err := NewAnalyzer(nil, DefaultSettings(), nil)
	assert.Error(t, err)

	_, err = NewAnalyzer(client, Settings{PrimaryModel: "gpt-4.1", FallbackModel: "GPT-4.1"}, nil)
	assert.ErrorContains(t, err, "must differ")

	_, err = NewAnalyzer(client, Settings{PrimaryModel: "gpt-4.1", ExtraFallbackModels: []string{"gpt-4o-mini", " gpt-4.1 "}}, nil)
	assert.ErrorContains(t, err, "must differ")

	_, err = NewAnalyzer(client, Settings{RetryDelay: -time.Second}, nil)
	assert.Error(t, err)

	a, err := NewAnalyzer(client, Settings{}, logging.Discard())
	require.NoError(t, err)
	want := DefaultSettings()
	want.RetryDelay = 0
	assert.Equal(t, want, a.Settings())
}

func TestAnalyzer_CustomRetryBudget(t *testing.T) {
	client := &scriptedClient{script: []stubResult{{err: errors.New("overloaded")}}}
	sleeper := &recordingSleeper{}
	a, err := NewAnalyzer(client, Settings{
		PrimaryModel:  "gemini-2.5-flash",
		FallbackModel: "gemini-2.0-flash-lite",
		MaxRetries:    5,
		RetryDelay:    100 * time.Millisecond,
	}, logging.Discard(), WithSleeper(sleeper.Sleep))
	require.NoError(t, err)

	_, err = a.AnalyzeDocument(context.Background(), "テキスト")
	require.ErrorIs(t, err, ErrAllModelsExhausted)
	assert.Len(t, client.calls, 6)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond,
		800 * time.Millisecond, 1600 * time.Millisecond,
	}, sleeper.delays)
}

func TestAnalyzeDocument_FallbackChainRotatesModels(t *testing.T) {
	client := &scriptedClient{script: []stubResult{{err: errors.New("503 Service Unavailable")}}}
	sleeper := &recordingSleeper{}
	a, err := NewAnalyzer(client, Settings{
		PrimaryModel:        "gemini-2.5-flash",
		FallbackModel:       "gemini-2.0-flash",
		ExtraFallbackModels: []string{"gemini-2.0-flash-lite", "", "gemini-1.5-flash"},
		MaxRetries:          5,
		RetryDelay:          time.Second,
	}, logging.Discard(), WithSleeper(sleeper.Sleep))
	require.NoError(t, err)
	assert.Equal(t, []string{"gemini-2.0-flash-lite", "gemini-1.5-flash"}, a.Settings().ExtraFallbackModels)

	_, err = a.AnalyzeDocument(context.Background(), "テキスト")
	require.ErrorIs(t, err, ErrAllModelsExhausted)

	var models []string
	for _, req := range client.calls {
		models = append(models, req.Model)
	}
	assert.Equal(t, []string{
		"gemini-2.5-flash",
		"gemini-2.0-flash", "gemini-2.0-flash-lite", "gemini-1.5-flash", "gemini-1.5-flash", "gemini-1.5-flash",
	}, models)
	for _, req := range client.calls[1:] {
		assert.Equal(t, 1024, req.MaxTokens)
	}
	assert.Len(t, sleeper.delays, 5)
}

func TestAnalyzer_ConcurrentCallsAreIndependent(t *testing.T) {
	client := llm.ClientFunc(func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResult, error) {
		if req.Model == DefaultPrimaryModel {
			return llm.CompletionResult{}, errors.New("429")
		}
		return llm.CompletionResult{Text: "fallback"}, nil
	})
	a, err := NewAnalyzer(client, Settings{RetryDelay: 0}, logging.Discard())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := a.AnalyzeDocument(context.Background(), "同時実行")
			if err == nil && res.Text != "fallback" {
				err = errors.New("unexpected text " + res.Text)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}
