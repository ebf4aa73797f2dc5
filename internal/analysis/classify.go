package analysis

import (
	"net/http"
	"strings"

	"github.com/wolfman30/finsight-ai/internal/llm"
)

// FailureClass labels an upstream failure for the retry decision.
type FailureClass int

const (
	Other FailureClass = iota
	QuotaOrRateLimit
)

func (c FailureClass) String() string {
	if c == QuotaOrRateLimit {
		return "quota_or_rate_limit"
	}
	return "other"
}

// quotaPatterns is a plain substring union. "limit" alone over-matches on
// purpose so that ambiguous failures get retried.
var quotaPatterns = []string{
	"quota",
	"rate limit",
	"429",
	"too many requests",
	"exceeded",
	"limit",
	"throttle",
	"capacity",
	"overloaded",
	"busy",
	"try again later",
	"temporary",
	"unavailable",
}

// Classify inspects err and reports whether it looks like a quota or
// rate-limit rejection. A carried HTTP status of 429, 503 or 529 wins outright;
// otherwise the lower-cased message is matched against quotaPatterns.
func Classify(err error) FailureClass {
	if err == nil {
		return Other
	}
	switch llm.StatusCode(err) {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, 529:
		return QuotaOrRateLimit
	}
	return ClassifyMessage(err.Error())
}

// ClassifyMessage applies the substring rule to a bare message.
func ClassifyMessage(msg string) FailureClass {
	msg = strings.ToLower(msg)
	for _, pattern := range quotaPatterns {
		if strings.Contains(msg, pattern) {
			return QuotaOrRateLimit
		}
	}
	return Other
}
