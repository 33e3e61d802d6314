// Package summarize asks a generative model to describe file contents.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

const defaultPrompt = "Please summarize and explain the contents of this file. What is it about and what is its purpose?"

// ErrEmptyResponse is returned when the model answers without text.
var ErrEmptyResponse = errors.New("model returned no text")

// Summarizer produces a description for a file's content.
type Summarizer interface {
	Summarize(ctx context.Context, content []byte, mimeType string) (string, error)
}

type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Config struct {
	APIKey  string
	Model   string
	Timeout time.Duration
	Prompt  string
}

// Gemini summarizes content with the Gemini API.
type Gemini struct {
	models generator
	cfg    Config
}

func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return newGemini(client.Models, cfg), nil
}

func newGemini(models generator, cfg Config) *Gemini {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Prompt == "" {
		cfg.Prompt = defaultPrompt
	}
	return &Gemini{models: models, cfg: cfg}
}

// Summarize sends the prompt and the raw content in one user turn. The call
// is bounded by the configured timeout.
func (g *Gemini) Summarize(ctx context.Context, content []byte, mimeType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(g.cfg.Prompt),
			genai.NewPartFromBytes(content, mimeType),
		}, genai.RoleUser),
	}

	resp, err := g.models.GenerateContent(ctx, g.cfg.Model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

var _ Summarizer = (*Gemini)(nil)
