package llm

import (
	"fmt"
	"strings"

	"github.com/santiagomed/plmgen/logger"
	tellm "github.com/santiagomed/tellm/sdk"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

type LlmConfig struct {
	Provider  string
	APIKey    string
	ModelName string
	BatchID   string
	// BaseURL overrides the provider endpoint. Empty uses the public API.
	BaseURL   string
	MaxTokens int
	// TellmURL enables prompt/response logging to a tellm server.
	TellmURL string
}

// NewClient returns the client for cfg.Provider.
func NewClient(cfg *LlmConfig, l logger.Logger) (LlmClient, error) {
	if l == nil {
		l = logger.NewNullLogger()
	}
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOpenAI:
		c, err := NewOpenAIClient(cfg, l)
		if err != nil {
			return nil, err
		}
		return c, nil
	case ProviderAnthropic:
		c, err := NewAnthropicClient(cfg, l)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

// usageLogger forwards completed calls to tellm when it is configured.
type usageLogger struct {
	tellm  *tellm.Client
	config *LlmConfig
	logger logger.Logger
}

func newUsageLogger(cfg *LlmConfig, l logger.Logger) usageLogger {
	u := usageLogger{config: cfg, logger: l}
	if cfg.TellmURL != "" {
		u.tellm = tellm.NewClient(cfg.TellmURL)
	}
	return u
}

func (u usageLogger) log(prompt, response string, promptTokens, completionTokens int) {
	u.logger.WithField("model", u.config.ModelName).
		WithField("prompt_tokens", promptTokens).
		WithField("completion_tokens", completionTokens).
		Debug("LLM completion received")
	if u.tellm == nil {
		return
	}
	err := u.tellm.Log(u.config.BatchID, prompt, response)
	if err != nil {
		u.logger.WithField("warning", err).Warn("failed to log to tellm")
	}
}
