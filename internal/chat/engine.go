// Package chat answers one conversation turn grounded in a document:
// load index, load history, retrieve, generate, persist the exchange.
package chat

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bull/docchat/internal/apperr"
	"github.com/bull/docchat/internal/index"
	"github.com/bull/docchat/internal/storage"
)

// HistoryStore is the slice of the conversation memory store the engine uses.
type HistoryStore interface {
	Get(ctx context.Context, conversationID string) ([]storage.Message, error)
	AppendTurn(ctx context.Context, conversationID string, user, assistant storage.Message) error
}

// IndexLoader loads a document's vector index.
type IndexLoader interface {
	Load(ctx context.Context, owner, documentID string, embedder index.Embedder) (*index.Index, error)
}

// Embedder embeds queries and exposes the dimension the index loader checks.
type Embedder interface {
	index.Embedder
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Generator is the language model capability.
type Generator interface {
	Generate(ctx context.Context, system string, history []storage.Message, question string) (string, error)
}

// Engine runs the retrieval + memory protocol for conversation turns.
type Engine struct {
	memory   HistoryStore
	indexes  IndexLoader
	embedder Embedder
	llm      Generator
	prompt   PromptConfig
	topK     int
	logger   *slog.Logger
}

// NewEngine creates an Engine. topK <= 0 selects index.DefaultTopK.
func NewEngine(memory HistoryStore, indexes IndexLoader, embedder Embedder, llm Generator, prompt PromptConfig, topK int, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		memory:   memory,
		indexes:  indexes,
		embedder: embedder,
		llm:      llm,
		prompt:   prompt,
		topK:     topK,
		logger:   logger,
	}
}

// Answer handles one user turn. On success the conversation history has
// grown by exactly two messages, user turn first. Nothing is persisted when
// any step fails, so a failed generation never leaves a dangling user turn.
func (e *Engine) Answer(ctx context.Context, owner, documentID, conversationID, question string) (string, []index.Hit, error) {
	if question == "" {
		return "", nil, apperr.New(apperr.KindValidation, "chat.Answer", "question must not be empty")
	}

	x, err := e.indexes.Load(ctx, owner, documentID, e.embedder)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return "", nil, apperr.Wrap(apperr.KindNotFound, "chat.Answer", err)
		}
		if errors.Is(err, index.ErrDimensionMismatch) {
			return "", nil, apperr.Wrap(apperr.KindConsistency, "chat.Answer", err)
		}
		return "", nil, apperr.Wrap(apperr.KindTransient, "chat.Answer", err)
	}

	history, err := e.memory.Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			return "", nil, apperr.Wrap(apperr.KindNotFound, "chat.Answer", err)
		}
		return "", nil, apperr.Wrap(apperr.KindTransient, "chat.Answer", err)
	}

	queryVec, err := e.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return "", nil, err
	}
	hits, err := x.Search(queryVec, e.topK)
	if err != nil {
		if errors.Is(err, index.ErrDimensionMismatch) {
			return "", nil, apperr.Wrap(apperr.KindConsistency, "chat.Answer", err)
		}
		return "", nil, err
	}

	system := BuildPrompt(e.prompt, hits)
	answer, err := e.llm.Generate(ctx, system, history, question)
	if err != nil {
		return "", nil, err
	}

	err = e.memory.AppendTurn(ctx, conversationID,
		storage.Message{Role: storage.RoleUser, Content: question},
		storage.Message{Role: storage.RoleAssistant, Content: answer},
	)
	if err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			return "", nil, apperr.Wrap(apperr.KindNotFound, "chat.Answer", err)
		}
		return "", nil, apperr.Wrap(apperr.KindTransient, "chat.Answer", err)
	}

	e.logger.Info("Answered turn",
		"conversation", conversationID,
		"document", documentID,
		"retrieved", len(hits),
		"history_len", len(history)+2,
	)
	return answer, hits, nil
}
