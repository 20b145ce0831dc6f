package chat

import (
	"fmt"
	"strings"

	"github.com/bull/docchat/internal/index"
)

// DefaultPersona shapes the answer's tone. Operators override it to give
// the assistant a voice.
const DefaultPersona = "You are a helpful assistant answering questions about a document the user uploaded. Answer in the same language as the question."

// DefaultGrounding is the answer-don't-know policy appended to every prompt.
const DefaultGrounding = "Use the following pieces of context to answer the question at the end. If you don't know the answer, just say that you don't know; don't try to make up an answer."

// PromptConfig is the configurable part of the grounding prompt.
type PromptConfig struct {
	Persona              string
	GroundingInstruction string
}

// withDefaults fills empty fields.
func (c PromptConfig) withDefaults() PromptConfig {
	if c.Persona == "" {
		c.Persona = DefaultPersona
	}
	if c.GroundingInstruction == "" {
		c.GroundingInstruction = DefaultGrounding
	}
	return c
}

// BuildPrompt assembles the system prompt: persona, grounding instruction,
// then the retrieved chunks in retrieval order.
func BuildPrompt(cfg PromptConfig, hits []index.Hit) string {
	cfg = cfg.withDefaults()

	var b strings.Builder
	b.WriteString(cfg.Persona)
	b.WriteString("\n\n")
	b.WriteString(cfg.GroundingInstruction)
	b.WriteString("\n\nContext:\n")
	for _, hit := range hits {
		fmt.Fprintf(&b, "\n[chunk %d]\n%s\n", hit.Ordinal, hit.Text)
	}
	return b.String()
}
