// Package llm answers programming questions through an OpenAI-compatible
// chat completion API.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/ashureev/codetutor/internal/config"
	"github.com/ashureev/codetutor/internal/domain"
)

const (
	defaultTemperature = 0.3
	defaultMaxTokens   = 1000
	historyTurns       = 6
)

// FallbackText is returned, flagged degraded, when the model gives no answer.
const FallbackText = "Не удалось получить ответ от модели. Повтори вопрос через несколько секунд, я уже готов снова помочь."

const systemPrompt = `Ты экспертный помощник по программированию для учеников курса веб-разработки.
Отвечай на русском языке, если пользователь явно не попросит другой.
Давай практические рекомендации с примерами кода и следующими шагами.
Всегда оформляй код в Markdown-блоках с указанием языка.
Если вопрос не про IT, ответь коротко и мягко верни разговор к технологиям.`

var levelInstructions = map[domain.SkillLevel]string{
	domain.SkillBeginner:     "Ответь простыми словами, добавь примеры для новичков",
	domain.SkillIntermediate: "Дай подробный ответ с примерами и лучшими практиками",
	domain.SkillAdvanced:     "Экспертный ответ с глубоким техническим анализом",
}

// Request is one question with the context the model sees.
type Request struct {
	Question    string
	History     []domain.ConversationTurn
	Skill       domain.SkillLevel
	Preferences map[string]string
}

// Answer is the model's reply. Degraded is set when Text is a canned
// fallback rather than a model answer.
type Answer struct {
	Text     string
	Degraded bool
}

// Client calls the chat completion endpoint under an outbound rate limit.
type Client struct {
	api     *openai.Client
	model   string
	limiter *rate.Limiter
	enabled bool
	logger  *slog.Logger
}

// New builds a client from cfg. Without an API key every answer is the
// degraded fallback.
func New(cfg config.LLMConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	burst := max(1, int(cfg.MaxRPS))
	if cfg.APIKey == "" {
		logger.Warn("LLM_API_KEY not set, answers will use the fallback text")
	}
	logger.Info("Initializing LLM client", "base_url", oc.BaseURL, "model", cfg.Model, "max_rps", cfg.MaxRPS)
	return &Client{
		api:     openai.NewClientWithConfig(oc),
		model:   cfg.Model,
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxRPS), burst),
		enabled: cfg.APIKey != "",
		logger:  logger,
	}
}

// Answer asks the model. Upstream failures produce a degraded Answer and a
// nil error; only cancellation or deadline expiry of ctx returns an error.
func (c *Client) Answer(ctx context.Context, req Request) (Answer, error) {
	if !c.enabled {
		return Answer{Text: FallbackText, Degraded: true}, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return Answer{}, ctx.Err()
		}
		return Answer{}, fmt.Errorf("wait for llm rate limit: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    buildMessages(req),
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Answer{}, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return Answer{}, err
		}
		c.logger.Error("LLM API call failed", "model", c.model, "error", err)
		return Answer{Text: FallbackText, Degraded: true}, nil
	}

	if len(resp.Choices) == 0 {
		c.logger.Warn("LLM returned no choices", "model", c.model)
		return Answer{Text: FallbackText, Degraded: true}, nil
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		c.logger.Warn("LLM returned empty content", "model", c.model, "finish_reason", resp.Choices[0].FinishReason)
		return Answer{Text: FallbackText, Degraded: true}, nil
	}
	c.logger.Debug("Received LLM answer", "finish_reason", resp.Choices[0].FinishReason)
	return Answer{Text: text}, nil
}

func buildMessages(req Request) []openai.ChatCompletionMessage {
	msgs := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: systemPrompt}}

	history := req.History
	if len(history) > historyTurns {
		history = history[len(history)-historyTurns:]
	}
	for _, turn := range history {
		role := openai.ChatMessageRoleUser
		if turn.Role == domain.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: turn.Text})
	}

	return append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: buildPrompt(req),
	})
}

func buildPrompt(req Request) string {
	instruction, ok := levelInstructions[req.Skill]
	if !ok {
		instruction = levelInstructions[domain.SkillBeginner]
	}
	var b strings.Builder
	b.WriteString(instruction)
	switch req.Preferences["code_style"] {
	case "concise":
		b.WriteString(". Код давай кратко, без лишних комментариев")
	case "detailed":
		b.WriteString(". Код сопровождай комментариями")
	}
	b.WriteString(":\n\n")
	b.WriteString(req.Question)
	return b.String()
}
