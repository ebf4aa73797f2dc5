package analysis

import "errors"

// User-facing advisory strings. Callers never see upstream error text.
const (
	AdvisoryAPILimit = "APIの制限に達しました。30分程度時間をおいてから再度お試しください。より小さなファイルを使用すると成功する可能性が高くなります。"
	AdvisoryContent  = "文書の内容を処理できませんでした。別の形式や小さなサイズのファイルをお試しください。"
	AdvisoryGeneric  = "文書の分析中にエラーが発生しました。しばらく時間をおいてから再度お試しください。"
)

var (
	// ErrInvalidInput marks a malformed or missing payload. It is returned
	// before any network call and is never translated.
	ErrInvalidInput = errors.New("invalid request")

	// ErrAllModelsExhausted is the terminal failure after every fallback attempt failed.
	ErrAllModelsExhausted = errors.New("すべてのAPIモデルが制限に達しました。しばらく時間をおいてから再度お試しください。(30分程度後に再試行することをお勧めします)")
)

// exhaustedError reports ErrAllModelsExhausted while keeping the last attempt's error for logs.
type exhaustedError struct {
	attempts int
	last     error
}

func (e *exhaustedError) Error() string { return ErrAllModelsExhausted.Error() }

func (e *exhaustedError) Is(target error) bool { return target == ErrAllModelsExhausted }

func (e *exhaustedError) Unwrap() error { return e.last }

// AdvisoryKind identifies which advisory string was chosen.
type AdvisoryKind string

const (
	KindAPILimit AdvisoryKind = "api_limit"
	KindContent  AdvisoryKind = "content"
	KindGeneric  AdvisoryKind = "generic"
)

// AdvisoryError is what the Analyzer returns for any unrecoverable failure.
// Error() is always one of the fixed advisory strings.
type AdvisoryError struct {
	Kind    AdvisoryKind
	Message string
	cause   error
}

func (e *AdvisoryError) Error() string { return e.Message }

// Unwrap exposes the original failure to errors.Is / errors.As.
func (e *AdvisoryError) Unwrap() error { return e.cause }
