// Package config loads process configuration from the environment.
// Both binaries (api and worker) share the same set of variables, so the
// lookup lives here instead of being duplicated in each main.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds everything a worker process needs to reach its collaborators.
// Loaded once per process lifetime; client handles built from it are reused
// across invocations.
type Config struct {
	Region        string
	DocumentTable string
	MemoryTable   string
	Bucket        string
	QueueURL      string

	// SpeechBucket receives asynchronous Polly synthesis output. Defaults to
	// Bucket when unset.
	SpeechBucket string
	VoiceID      string

	// Persona and GroundingInstruction shape the answer prompt. Both have
	// defaults in the chat package; these override them.
	Persona              string
	GroundingInstruction string

	RetrievalK int
	ListenAddr string
}

// Load reads configuration from the environment. DOCUMENT_TABLE,
// MEMORY_TABLE, BUCKET and QUEUE_URL are required; everything else has a
// sensible default.
func Load() (*Config, error) {
	cfg := &Config{
		Region:               getEnv("AWS_REGION", "us-east-1"),
		DocumentTable:        os.Getenv("DOCUMENT_TABLE"),
		MemoryTable:          os.Getenv("MEMORY_TABLE"),
		Bucket:               os.Getenv("BUCKET"),
		QueueURL:             os.Getenv("QUEUE_URL"),
		SpeechBucket:         os.Getenv("SPEECH_BUCKET"),
		VoiceID:              getEnv("VOICE_ID", "Joanna"),
		Persona:              os.Getenv("ANSWER_PERSONA"),
		GroundingInstruction: os.Getenv("ANSWER_GROUNDING"),
		RetrievalK:           getEnvInt("RETRIEVAL_K", 0),
		ListenAddr:           "0.0.0.0:" + getEnv("PORT", "8080"),
	}

	for _, required := range []struct{ name, value string }{
		{"DOCUMENT_TABLE", cfg.DocumentTable},
		{"MEMORY_TABLE", cfg.MemoryTable},
		{"BUCKET", cfg.Bucket},
		{"QUEUE_URL", cfg.QueueURL},
	} {
		if required.value == "" {
			return nil, fmt.Errorf("%s environment variable not set", required.name)
		}
	}

	if cfg.SpeechBucket == "" {
		cfg.SpeechBucket = cfg.Bucket
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}
