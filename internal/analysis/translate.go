package analysis

import (
	"errors"
	"strings"
)

// Translate maps a terminal failure to exactly one advisory. First match wins:
// API/limit/exhaustion, then "content", then the generic message.
func Translate(err error) *AdvisoryError {
	var adv *AdvisoryError
	if errors.As(err, &adv) {
		return adv
	}

	msg := ""
	if err != nil {
		msg = err.Error()
	}
	switch {
	case errors.Is(err, ErrAllModelsExhausted),
		strings.Contains(msg, "API"),
		strings.Contains(msg, "制限"),
		Classify(err) == QuotaOrRateLimit:
		return &AdvisoryError{Kind: KindAPILimit, Message: AdvisoryAPILimit, cause: err}
	case strings.Contains(msg, "content"):
		return &AdvisoryError{Kind: KindContent, Message: AdvisoryContent, cause: err}
	default:
		return &AdvisoryError{Kind: KindGeneric, Message: AdvisoryGeneric, cause: err}
	}
}
