package service

import (
	"context"
	"encoding/base64"
	"log/slog"

	"github.com/bull/docchat/internal/index"
	"github.com/bull/docchat/internal/speech"
)

// Answerer runs one grounded conversation turn.
type Answerer interface {
	Answer(ctx context.Context, owner, documentID, conversationID, question string) (string, []index.Hit, error)
}

// Renderer converts answer text to audio with viseme marks.
type Renderer interface {
	Render(ctx context.Context, text string) ([]byte, []speech.Mark, error)
}

// Source cites one retrieved chunk in a turn's response.
type Source struct {
	Ordinal int     `json:"ordinal"`
	Excerpt string  `json:"excerpt"`
	Score   float64 `json:"score"`
}

// TurnResult is the full response to one conversation turn.
type TurnResult struct {
	Text        string        `json:"text"`
	Sources     []Source      `json:"sources"`
	AudioStream string        `json:"audioStream,omitempty"`
	Visemes     []speech.Mark `json:"visemes,omitempty"`
}

// maxExcerptChars caps how much chunk text a citation carries.
const maxExcerptChars = 200

// Responder orchestrates answer generation and optional speech rendering.
type Responder struct {
	engine Answerer
	voice  Renderer
	logger *slog.Logger
}

// NewResponder creates a Responder. voice may be nil to disable audio.
func NewResponder(engine Answerer, voice Renderer, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{engine: engine, voice: voice, logger: logger}
}

// Respond answers one turn and, when asked, renders the spoken version.
// The exchange is already persisted once Answer returns, so a speech
// failure degrades to a text-only response instead of discarding the turn.
func (r *Responder) Respond(ctx context.Context, owner, documentID, conversationID, prompt string, withAudio bool) (*TurnResult, error) {
	text, hits, err := r.engine.Answer(ctx, owner, documentID, conversationID, prompt)
	if err != nil {
		return nil, err
	}

	result := &TurnResult{Text: text, Sources: make([]Source, 0, len(hits))}
	for _, hit := range hits {
		excerpt := hit.Text
		if len(excerpt) > maxExcerptChars {
			excerpt = excerpt[:maxExcerptChars]
		}
		result.Sources = append(result.Sources, Source{
			Ordinal: hit.Ordinal,
			Excerpt: excerpt,
			Score:   hit.Score,
		})
	}

	if withAudio && r.voice != nil {
		audio, visemes, err := r.voice.Render(ctx, text)
		if err != nil {
			r.logger.Warn("Speech rendering failed, returning text only",
				"conversation", conversationID, "error", err)
		} else {
			result.AudioStream = base64.StdEncoding.EncodeToString(audio)
			result.Visemes = visemes
		}
	}
	return result, nil
}
