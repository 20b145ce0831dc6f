package service

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docchat/internal/index"
	"github.com/bull/docchat/internal/speech"
)

type stubAnswerer struct {
	text string
	hits []index.Hit
	err  error
}

func (s *stubAnswerer) Answer(_ context.Context, _, _, _, _ string) (string, []index.Hit, error) {
	return s.text, s.hits, s.err
}

type stubRenderer struct {
	audio []byte
	marks []speech.Mark
	err   error
	calls int
}

func (s *stubRenderer) Render(_ context.Context, _ string) ([]byte, []speech.Mark, error) {
	s.calls++
	return s.audio, s.marks, s.err
}

func TestRespondTextOnly(t *testing.T) {
	engine := &stubAnswerer{
		text: "The warranty lasts two years.",
		hits: []index.Hit{
			{Ordinal: 3, Text: "Warranty: two years from purchase.", Score: 0.91},
			{Ordinal: 0, Text: "Introduction.", Score: 0.40},
		},
	}
	voice := &stubRenderer{}
	r := NewResponder(engine, voice, nil)

	result, err := r.Respond(context.Background(), "alice", "doc-1", "conv-1", "how long is the warranty?", false)
	require.NoError(t, err)

	assert.Equal(t, engine.text, result.Text)
	require.Len(t, result.Sources, 2)
	assert.Equal(t, 3, result.Sources[0].Ordinal)
	assert.Equal(t, 0.91, result.Sources[0].Score)
	assert.Empty(t, result.AudioStream)
	assert.Zero(t, voice.calls, "audio=false must not render speech")
}

func TestRespondTruncatesExcerpts(t *testing.T) {
	long := strings.Repeat("x", maxExcerptChars+50)
	engine := &stubAnswerer{text: "ok", hits: []index.Hit{{Ordinal: 1, Text: long, Score: 0.5}}}
	r := NewResponder(engine, nil, nil)

	result, err := r.Respond(context.Background(), "alice", "doc-1", "conv-1", "q", false)
	require.NoError(t, err)
	assert.Len(t, result.Sources[0].Excerpt, maxExcerptChars)
}

func TestRespondWithAudio(t *testing.T) {
	engine := &stubAnswerer{text: "spoken answer"}
	voice := &stubRenderer{
		audio: []byte("mp3-bytes"),
		marks: []speech.Mark{{Time: 0, Type: "viseme", Value: "s"}},
	}
	r := NewResponder(engine, voice, nil)

	result, err := r.Respond(context.Background(), "alice", "doc-1", "conv-1", "q", true)
	require.NoError(t, err)

	decoded, err := base64.StdEncoding.DecodeString(result.AudioStream)
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3-bytes"), decoded)
	require.Len(t, result.Visemes, 1)
	assert.Equal(t, "s", result.Visemes[0].Value)
}

func TestRespondSpeechFailureDegradesToText(t *testing.T) {
	engine := &stubAnswerer{text: "still useful answer"}
	voice := &stubRenderer{err: errors.New("polly unavailable")}
	r := NewResponder(engine, voice, nil)

	result, err := r.Respond(context.Background(), "alice", "doc-1", "conv-1", "q", true)
	require.NoError(t, err, "speech failure must not discard the persisted turn")
	assert.Equal(t, "still useful answer", result.Text)
	assert.Empty(t, result.AudioStream)
	assert.Empty(t, result.Visemes)
}

func TestRespondAnswerFailurePropagates(t *testing.T) {
	engine := &stubAnswerer{err: errors.New("model outage")}
	voice := &stubRenderer{}
	r := NewResponder(engine, voice, nil)

	_, err := r.Respond(context.Background(), "alice", "doc-1", "conv-1", "q", true)
	require.Error(t, err)
	assert.Zero(t, voice.calls, "no speech rendering for a failed turn")
}
