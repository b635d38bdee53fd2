package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/santiagomed/plmgen/logger"
	"github.com/sashabaranov/go-openai"
)

type OpenAIClient struct {
	openAIClient *openai.Client
	config       *LlmConfig
	usage        usageLogger
	logger       logger.Logger
}

func NewOpenAIClient(cfg *LlmConfig, l logger.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if l == nil {
		l = logger.NewNullLogger()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{
		openAIClient: openai.NewClientWithConfig(clientCfg),
		config:       cfg,
		usage:        newUsageLogger(cfg, l),
		logger:       l,
	}, nil
}

// GetCompletion sends a request to the OpenAI API and returns the generated text
func (c *OpenAIClient) GetCompletion(ctx context.Context, prompt, responseType string) (string, error) {
	resp, err := c.openAIClient.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:     c.config.ModelName,
			MaxTokens: c.config.MaxTokens,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: getSystemPrompt(),
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatType(responseType)},
		},
	)

	e := &openai.APIError{}
	if errors.As(err, &e) {
		switch e.HTTPStatusCode {
		case 401:
			return "", fmt.Errorf("unauthorized: invalid OpenAI API key")
		case 429:
			return "", fmt.Errorf("rate limited by OpenAI API")
		case 500:
			return "", fmt.Errorf("OpenAI server error")
		default:
			return "", fmt.Errorf("OpenAI API error: %v", e)
		}
	}
	if err != nil {
		return "", fmt.Errorf("OpenAI request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned from OpenAI")
	}
	res := resp.Choices[0].Message.Content
	c.usage.log(prompt, res, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	return res, nil
}
