package llmport

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v5"
	genai "google.golang.org/genai"
)

// GenaiCompleter implements Completer against Google's Gemini API via
// google.golang.org/genai. It is a second alternate backend alongside
// AnthropicCompleter: C5/C8/C10/C13 select a provider purely through
// config, never by importing this package's concrete types.
type GenaiCompleter struct {
	client *genai.Client
	model  string
}

// NewGenaiCompleter builds a Completer against the Gemini API.
func NewGenaiCompleter(ctx context.Context, apiKey, model string, httpClient *http.Client) (*GenaiCompleter, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("llmport: init genai client: %w", err)
	}
	return &GenaiCompleter{client: client, model: model}, nil
}

func (c *GenaiCompleter) Complete(ctx context.Context, prompt, system string, kwargs map[string]any) (string, error) {
	model := c.model
	if v, ok := kwargs["model"].(string); ok && v != "" {
		model = v
	}

	text := prompt
	if system != "" {
		text = "[system] " + system + "\n\n" + prompt
	}
	contents := []*genai.Content{genai.NewContentFromParts([]*genai.Part{{Text: text}}, genai.RoleUser)}

	op := func() (string, error) {
		resp, err := c.client.Models.GenerateContent(ctx, model, contents, &genai.GenerateContentConfig{})
		if err != nil {
			return "", err
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return "", backoff.Permanent(fmt.Errorf("llmport: genai: empty response"))
		}
		var sb strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			sb.WriteString(part.Text)
		}
		if sb.Len() == 0 {
			return "", backoff.Permanent(fmt.Errorf("llmport: genai: empty response text"))
		}
		return sb.String(), nil
	}

	return backoff.Retry(ctx, op, backoff.WithMaxTries(3), backoff.WithBackOff(backoff.NewExponentialBackOff()))
}

var _ Completer = (*GenaiCompleter)(nil)
