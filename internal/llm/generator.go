// Package llm wraps the language model capability behind a single Generate
// call: system prompt plus conversation history in, answer text out. The
// provider is interchangeable; only the error contract matters to callers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"

	"github.com/bull/docchat/internal/apperr"
	"github.com/bull/docchat/internal/storage"
)

// DefaultModel is the chat model used for answer generation.
const DefaultModel = openai.ChatModelGPT4o

// Generator produces grounded answers via OpenAI chat completions.
type Generator struct {
	client *openai.Client
	model  openai.ChatModel
}

// NewGenerator creates a Generator. An empty model selects DefaultModel.
func NewGenerator(client *openai.Client, model string) *Generator {
	m := openai.ChatModel(model)
	if model == "" {
		m = DefaultModel
	}
	return &Generator{client: client, model: m}
}

// Generate runs one completion over the system prompt, the prior
// conversation turns, and the new question. Generation is never retried
// here: a duplicate call is costly and visibly non-idempotent, so the
// caller decides whether to try again.
func (g *Generator) Generate(ctx context.Context, system string, history []storage.Message, question string) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	messages = append(messages, openai.SystemMessage(system))
	for _, msg := range history {
		switch msg.Role {
		case storage.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}
	messages = append(messages, openai.UserMessage(question))

	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    g.model,
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", apperr.New(apperr.KindModel, "llm.Generate", "model returned no answer")
	}
	return resp.Choices[0].Message.Content, nil
}

// classify maps provider failures onto the error taxonomy. Quota and
// content-policy rejections are model failures the caller can surface;
// transport-level timeouts are transient.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apperr.Wrap(apperr.KindModel, "llm.Generate",
			fmt.Errorf("completion failed (status %d): %w", apiErr.StatusCode, err))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindTransient, "llm.Generate", err)
	}
	return apperr.Wrap(apperr.KindModel, "llm.Generate", err)
}
