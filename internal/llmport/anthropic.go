package llmport

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v5"
)

const defaultAnthropicMaxTokens int64 = 4096

// AnthropicCompleter implements Completer against the Anthropic Messages
// API. It is an alternate backend to OpenAICompleter: every consumer of
// this package depends on the narrow Completer interface, so either one
// drops in for C5/C8/C10/C13 without those packages knowing which
// provider answered the call.
type AnthropicCompleter struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicCompleter builds a Completer against the Anthropic API, or
// an Anthropic-compatible endpoint when endpoint is non-empty.
func NewAnthropicCompleter(endpoint, apiKey, model string) *AnthropicCompleter {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if endpoint != "" {
		opts = append(opts, option.WithBaseURL(endpoint))
	}
	return &AnthropicCompleter{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: defaultAnthropicMaxTokens,
	}
}

func (c *AnthropicCompleter) Complete(ctx context.Context, prompt, system string, kwargs map[string]any) (string, error) {
	maxTokens := c.maxTokens
	if v, ok := kwargs["max_tokens"].(int); ok && v > 0 {
		maxTokens = int64(v)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	op := func() (string, error) {
		resp, err := c.client.Messages.New(ctx, params)
		if err != nil {
			return "", err
		}
		var sb strings.Builder
		for _, block := range resp.Content {
			if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
				sb.WriteString(tb.Text)
			}
		}
		if sb.Len() == 0 {
			return "", backoff.Permanent(fmt.Errorf("llmport: anthropic: empty response"))
		}
		return sb.String(), nil
	}

	return backoff.Retry(ctx, op, backoff.WithMaxTries(3), backoff.WithBackOff(backoff.NewExponentialBackOff()))
}

var _ Completer = (*AnthropicCompleter)(nil)
