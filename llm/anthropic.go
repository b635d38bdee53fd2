package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/santiagomed/plmgen/logger"
)

const anthropicURL = "https://api.anthropic.com/v1/messages"

type AnthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
		Type string `json:"type"`
	} `json:"content"`
	ID         string `json:"id"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type AnthropicErrorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type AnthropicRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system"`
	Messages  []Message `json:"messages"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type AnthropicClient struct {
	config     *LlmConfig
	endpoint   string
	usage      usageLogger
	logger     logger.Logger
	httpClient *http.Client
}

func NewAnthropicClient(cfg *LlmConfig, l logger.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic API key is required")
	}
	if l == nil {
		l = logger.NewNullLogger()
	}
	endpoint := anthropicURL
	if cfg.BaseURL != "" {
		endpoint = cfg.BaseURL
	}
	return &AnthropicClient{
		config:     cfg,
		endpoint:   endpoint,
		usage:      newUsageLogger(cfg, l),
		logger:     l,
		httpClient: &http.Client{},
	}, nil
}

// GetCompletion has no JSON mode on this API; for FormatJSON the prompt is
// suffixed with an instruction and code fences are stripped by the parsers.
func (a *AnthropicClient) GetCompletion(ctx context.Context, prompt, responseType string) (string, error) {
	maxTokens := a.config.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	content := prompt
	if responseType == FormatJSON {
		content += "\n\nRespond with a single valid JSON object and nothing else."
	}
	req := AnthropicRequest{
		Model:     a.config.ModelName,
		MaxTokens: maxTokens,
		System:    getSystemPrompt(),
		Messages: []Message{
			{Role: "user", Content: content},
		},
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("error marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}

	httpReq.Header.Set("x-api-key", a.config.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set("content-type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("error reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp AnthropicErrorResponse
		if err := json.Unmarshal(body, &errResp); err != nil {
			return "", fmt.Errorf("anthropic API error: status %d", resp.StatusCode)
		}
		return "", fmt.Errorf("anthropic API error: %s - %s", errResp.Error.Type, errResp.Error.Message)
	}

	var anthropicResp AnthropicResponse
	if err := json.Unmarshal(body, &anthropicResp); err != nil {
		return "", fmt.Errorf("error unmarshaling response: %w", err)
	}

	if len(anthropicResp.Content) == 0 {
		return "", fmt.Errorf("no content returned from Anthropic")
	}

	res := anthropicResp.Content[0].Text
	a.usage.log(prompt, res, anthropicResp.Usage.InputTokens, anthropicResp.Usage.OutputTokens)
	return res, nil
}
