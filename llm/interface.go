package llm

import "context"

// Response formats accepted by GetCompletion.
const (
	FormatText = "text"
	FormatJSON = "json_object"
)

type LlmClient interface {
	GetCompletion(ctx context.Context, prompt, responseType string) (string, error)
}
