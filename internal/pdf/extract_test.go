package pdf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunksDropsBlankPages(t *testing.T) {
	chunks := Chunks([]string{"page one", "", "page three"})
	assert.Equal(t, []string{"page one", "page three"}, chunks)
}

func TestChunksStableAcrossRebuilds(t *testing.T) {
	pages := []string{strings.Repeat("alpha beta gamma ", 500), "short page"}
	first := Chunks(pages)
	second := Chunks(pages)
	assert.Equal(t, first, second)
}

func TestSplitPage(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{
			name:  "fits in one chunk",
			text:  "hello world",
			limit: 100,
			want:  []string{"hello world"},
		},
		{
			name:  "splits at whitespace",
			text:  "aaaa bbbb cccc",
			limit: 10,
			want:  []string{"aaaa bbbb", "cccc"},
		},
		{
			name:  "hard split when no whitespace",
			text:  "aaaaaaaaaabbbb",
			limit: 10,
			want:  []string{"aaaaaaaaaa", "bbbb"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitPage(tt.text, tt.limit))
		})
	}
}

func TestSplitPageNeverExceedsLimit(t *testing.T) {
	text := strings.Repeat("lorem ipsum dolor sit amet ", 300)
	for _, part := range splitPage(text, 120) {
		assert.LessOrEqual(t, len(part), 120)
		assert.NotEmpty(t, part)
	}
}
