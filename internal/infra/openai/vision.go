package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"

	"vision-tutor/internal/domain"
)

// Analyze sends the prompt and the image as a single user turn.
func (c *Client) Analyze(ctx context.Context, prompt string, image domain.EncodedImage) (string, error) {
	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(prompt),
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: image.DataURL(),
		}),
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.opts.VisionModel),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(parts)},
	}
	if c.opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.opts.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty response from vision model")
	}

	return resp.Choices[0].Message.Content, nil
}
