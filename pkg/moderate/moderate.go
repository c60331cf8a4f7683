// Package moderate decides whether fetched site text is harmful by asking
// a moderation oracle.
package moderate

import (
	"context"
	"fmt"

	"dns-warden/pkg/config"
	"dns-warden/pkg/logging"

	openai "github.com/sashabaranov/go-openai"
)

// Moderator reports whether text is harmful.
type Moderator interface {
	Moderate(ctx context.Context, text string) (bool, error)
}

// OpenAIModerator calls the OpenAI moderation endpoint. Text is harmful
// only when the result is flagged AND the sexual category fired; other
// flagged categories do not block.
type OpenAIModerator struct {
	client *openai.Client
	model  string
	logger *logging.Logger
}

// NewOpenAIModerator creates a moderator from the configuration. Without an
// API key the moderator runs in pass-through mode and treats everything as
// safe.
func NewOpenAIModerator(cfg *config.ModerationConfig, logger *logging.Logger) *OpenAIModerator {
	m := &OpenAIModerator{
		model:  cfg.Model,
		logger: logger,
	}

	if cfg.APIKey == "" {
		logger.Warn("No moderation API key configured, all content will be treated as safe")
		return m
	}

	m.client = openai.NewClient(cfg.APIKey)
	return m
}

// Moderate classifies text. Empty text is safe without an oracle call.
func (m *OpenAIModerator) Moderate(ctx context.Context, text string) (bool, error) {
	if text == "" {
		return false, nil
	}
	if m.client == nil {
		return false, nil
	}

	resp, err := m.client.Moderations(ctx, openai.ModerationRequest{
		Model: m.model,
		Input: text,
	})
	if err != nil {
		return false, fmt.Errorf("moderation request failed: %w", err)
	}
	if len(resp.Results) == 0 {
		return false, fmt.Errorf("moderation response contained no results")
	}

	result := resp.Results[0]
	harmful := result.Flagged && result.Categories.Sexual

	m.logger.Debug("Moderation verdict",
		"flagged", result.Flagged,
		"sexual", result.Categories.Sexual,
		"harmful", harmful,
	)

	return harmful, nil
}
