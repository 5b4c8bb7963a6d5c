package llmport

import (
	"context"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"
	"github.com/openai/openai-go/v2/shared"
)

// OpenAICompleter implements Completer against any OpenAI-compatible
// chat completions endpoint.
type OpenAICompleter struct {
	client      openai.Client
	model       string
	maxTokens   int
	temperature float64
}

// NewOpenAICompleter builds a Completer. endpoint may be empty to use
// the default OpenAI API, or point at a compatible self-hosted server.
func NewOpenAICompleter(endpoint, apiKey, model string) *OpenAICompleter {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if endpoint != "" {
		opts = append(opts, option.WithBaseURL(endpoint))
	}
	return &OpenAICompleter{
		client:      openai.NewClient(opts...),
		model:       model,
		maxTokens:   1024,
		temperature: 0.0,
	}
}

func (c *OpenAICompleter) Complete(ctx context.Context, prompt string, system string, kwargs map[string]any) (string, error) {
	maxTokens := c.maxTokens
	if v, ok := kwargs["max_tokens"].(int); ok && v > 0 {
		maxTokens = v
	}
	temperature := c.temperature
	if v, ok := kwargs["temperature"].(float64); ok {
		temperature = v
	}

	var msgs []openai.ChatCompletionMessageParamUnion
	if system != "" {
		msgs = append(msgs, openai.SystemMessage(system))
	}
	msgs = append(msgs, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.model),
		Messages:    msgs,
		Temperature: param.NewOpt(temperature),
	}
	if isThinkingModel(c.model) {
		params.MaxCompletionTokens = param.NewOpt(int64(maxTokens))
	} else {
		params.MaxTokens = param.NewOpt(int64(maxTokens))
	}

	op := func() (string, error) {
		resp, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", backoff.Permanent(fmt.Errorf("llmport: no choices returned"))
		}
		return resp.Choices[0].Message.Content, nil
	}

	return backoff.Retry(ctx, op, backoff.WithMaxTries(3), backoff.WithBackOff(backoff.NewExponentialBackOff()))
}

// isThinkingModel reports whether model follows the "o<int>-*" naming
// pattern used by reasoning models, which take max_completion_tokens
// instead of max_tokens.
func isThinkingModel(model string) bool {
	model = strings.ToLower(model)
	if !strings.HasPrefix(model, "o") {
		return false
	}
	rest := model[1:]
	i := 0
	for ; i < len(rest) && rest[i] >= '0' && rest[i] <= '9'; i++ {
	}
	return i > 0 && i < len(rest) && rest[i] == '-'
}

var _ Completer = (*OpenAICompleter)(nil)
