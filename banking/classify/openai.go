package classify

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIClassifier classifies messages with an OpenAI chat model. The
// client is safe for concurrent use.
//
// Because the SDK speaks the OpenAI wire protocol, the same classifier
// drives any compatible endpoint (Ollama, vLLM, gateways) through
// NewOpenAICompatibleClassifier.
type OpenAIClassifier struct {
	client *openai.Client
	model  string
}

// NewOpenAIClassifier creates a classifier against api.openai.com. Empty
// model defaults to gpt-4o-mini.
func NewOpenAIClassifier(apiKey, model string) *OpenAIClassifier {
	return newOpenAIClassifier(model, option.WithAPIKey(apiKey))
}

// NewOpenAICompatibleClassifier creates a classifier against any
// OpenAI-compatible endpoint, e.g. an Ollama server at
// http://localhost:11434/v1 with model "llama3".
func NewOpenAICompatibleClassifier(baseURL, apiKey, model string) *OpenAIClassifier {
	return newOpenAIClassifier(model,
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
	)
}

func newOpenAIClassifier(model string, opts ...option.RequestOption) *OpenAIClassifier {
	if model == "" {
		model = "gpt-4o-mini"
	}
	client := openai.NewClient(opts...)
	return &OpenAIClassifier{client: &client, model: model}
}

// Classify implements Classifier.
func (c *OpenAIClassifier) Classify(ctx context.Context, message string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(classificationPrompt(message)),
					},
				},
			},
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: openai.Ptr(shared.NewResponseFormatJSONObjectParam()),
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("OpenAI classification failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return Result{}, errors.New("OpenAI returned no choices")
	}

	return parseResult(completion.Choices[0].Message.Content)
}
