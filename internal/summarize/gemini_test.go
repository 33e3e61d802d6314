package summarize

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeGenerator struct {
	generate func(ctx context.Context, model string, contents []*genai.Content) (*genai.GenerateContentResponse, error)
}

func (f fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return f.generate(ctx, model, contents)
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: text}}, Role: "model"},
		}},
	}
}

func TestSummarize(t *testing.T) {
	var (
		gotModel    string
		gotContents []*genai.Content
	)
	g := newGemini(fakeGenerator{generate: func(_ context.Context, model string, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
		gotModel = model
		gotContents = contents
		return textResponse("  a shopping list  "), nil
	}}, Config{})

	text, err := g.Summarize(context.Background(), []byte("eggs, milk"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "a shopping list", text)
	assert.Equal(t, "gemini-2.0-flash", gotModel)

	require.Len(t, gotContents, 1)
	parts := gotContents[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, defaultPrompt, parts[0].Text)
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, "text/plain", parts[1].InlineData.MIMEType)
	assert.Equal(t, []byte("eggs, milk"), parts[1].InlineData.Data)
}

func TestSummarizeTimeout(t *testing.T) {
	g := newGemini(fakeGenerator{generate: func(ctx context.Context, _ string, _ []*genai.Content) (*genai.GenerateContentResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}, Config{Timeout: 10 * time.Millisecond})

	_, err := g.Summarize(context.Background(), []byte("x"), "text/plain")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSummarizeErrors(t *testing.T) {
	g := newGemini(fakeGenerator{generate: func(context.Context, string, []*genai.Content) (*genai.GenerateContentResponse, error) {
		return nil, errors.New("quota exceeded")
	}}, Config{})
	_, err := g.Summarize(context.Background(), []byte("x"), "text/plain")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")

	empty := newGemini(fakeGenerator{generate: func(context.Context, string, []*genai.Content) (*genai.GenerateContentResponse, error) {
		return textResponse(""), nil
	}}, Config{})
	_, err = empty.Summarize(context.Background(), []byte("x"), "text/plain")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}
