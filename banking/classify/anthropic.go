package classify

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClassifier classifies messages with a Claude model. The client
// is safe for concurrent use.
type AnthropicClassifier struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicClassifier creates a classifier against the Anthropic API.
// Empty model defaults to claude-3-5-haiku-latest.
func NewAnthropicClassifier(apiKey, model string) *AnthropicClassifier {
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClassifier{client: &client, model: model}
}

// Classify implements Classifier.
func (c *AnthropicClassifier) Classify(ctx context.Context, message string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(classificationPrompt(message))),
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("Anthropic classification failed: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return Result{}, errors.New("Anthropic returned no text content")
	}

	return parseResult(text)
}
