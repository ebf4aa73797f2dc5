package analysis

import (
	"fmt"

	"github.com/wolfman30/finsight-ai/internal/llm"
)

const (
	// MaxContentLength caps document text on the primary path.
	MaxContentLength = 10000
	// FallbackContentLength caps document text on fallback attempts.
	FallbackContentLength = 5000

	primaryTemperature  float32 = 0.2
	primaryMaxTokens            = 2048
	fallbackTemperature float32 = 0.3
	fallbackMaxTokens           = 1024
)

const (
	advisorSystemPrompt      = "中小企業向けの財務アドバイザーとして、財務諸表の分析や経営アドバイスを提供します。専門的かつ実用的な回答を心がけてください。"
	shortAdvisorSystemPrompt = "中小企業向けの財務アドバイザーとして、財務諸表の分析や経営アドバイスを提供します。"

	documentAnalysisTemplate = `あなたは財務分析の専門家です。以下の文書を分析し、財務状況、経営状態、改善点などについて詳細に解説してください。
特に以下の点に注目してください：
1. 財務健全性
2. 収益性
3. 成長性
4. リスク要因
5. 改善のための具体的なアドバイス

文書：
%s`

	conciseAnalysisTemplate = "以下の財務文書を簡潔に分析してください：\n%s"
)

// ChatTurn is one message of the chat history as sent by the app.
type ChatTurn struct {
	IsUser bool   `json:"isUser"`
	Text   string `json:"text"`
}

func documentRequest(model, document string) llm.CompletionRequest {
	return llm.NewCompletionRequest(model, []llm.ChatMessage{
		{Role: llm.RoleSystem, Content: advisorSystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf(documentAnalysisTemplate, document)},
	}, primaryTemperature, primaryMaxTokens)
}

// fallbackDocumentRequest re-truncates the already decoded and capped document.
func fallbackDocumentRequest(model, document string) llm.CompletionRequest {
	return llm.NewCompletionRequest(model, []llm.ChatMessage{
		{Role: llm.RoleSystem, Content: shortAdvisorSystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf(conciseAnalysisTemplate, truncateRunes(document, FallbackContentLength))},
	}, fallbackTemperature, fallbackMaxTokens)
}

func chatRequest(model string, turns []ChatTurn) llm.CompletionRequest {
	return llm.NewCompletionRequest(model, chatMessages(advisorSystemPrompt, turns, MaxContentLength), primaryTemperature, primaryMaxTokens)
}

func fallbackChatRequest(model string, turns []ChatTurn) llm.CompletionRequest {
	return llm.NewCompletionRequest(model, chatMessages(shortAdvisorSystemPrompt, turns, FallbackContentLength), fallbackTemperature, fallbackMaxTokens)
}

// chatMessages prepends the system prompt and keeps the most recent turns
// whose combined text fits in budget characters. The newest turn is always
// kept, truncated if it alone exceeds the budget.
func chatMessages(system string, turns []ChatTurn, budget int) []llm.ChatMessage {
	start := len(turns)
	used := 0
	for i := len(turns) - 1; i >= 0; i-- {
		n := runeLen(turns[i].Text)
		if used+n > budget && start < len(turns) {
			break
		}
		used += n
		start = i
		if used >= budget {
			break
		}
	}

	msgs := make([]llm.ChatMessage, 0, len(turns)-start+1)
	msgs = append(msgs, llm.ChatMessage{Role: llm.RoleSystem, Content: system})
	for _, turn := range turns[start:] {
		role := llm.RoleAssistant
		if turn.IsUser {
			role = llm.RoleUser
		}
		text := turn.Text
		if runeLen(text) > budget {
			text = truncateRunes(text, budget)
		}
		msgs = append(msgs, llm.ChatMessage{Role: role, Content: text})
	}
	return msgs
}
