package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/santiagomed/plmgen/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockLLM is a mock implementation of the LLM client
type MockLLM struct {
	mock.Mock
}

func (m *MockLLM) GetCompletion(ctx context.Context, prompt, responseType string) (string, error) {
	args := m.Called(prompt, responseType)
	return args.String(0), args.Error(1)
}

func TestGenerateItems(t *testing.T) {
	mockLLM := new(MockLLM)
	mockLLM.On("GetCompletion", mock.AnythingOfType("string"), FormatJSON).Return(`{"items":[
		{"name":" Hex Bolt M8x40 ","description":"Steel bolt.","type":"Part"},
		{"name":"Flat Washer M8","description":"Steel washer.","children":[{"name":"ignored"}]}
	]}`, nil).Once()

	roots, err := GenerateItems(context.Background(), mockLLM, "fasteners", 2)
	require.NoError(t, err)
	require.Len(t, roots, 2)

	assert.Equal(t, "Hex Bolt M8x40", roots[0].Name)
	assert.Equal(t, "Part", roots[0].ObjectType)
	assert.Equal(t, DefaultItemType, roots[1].ObjectType)
	assert.Empty(t, roots[1].Children)
	assert.True(t, roots[1].Enabled)
	mockLLM.AssertExpectations(t)
}

func TestGenerateBOM(t *testing.T) {
	mockLLM := new(MockLLM)
	mockLLM.On("GetCompletion", mock.AnythingOfType("string"), FormatJSON).Return("```json\n"+`{"bom":{"name":"Gear Pump","children":[
		{"name":"Housing","type":"Part"},
		{"name":"Drive Assembly","children":[{"name":"Shaft","type":"Part"}]}
	]}}`+"\n```", nil).Once()

	roots, err := GenerateBOM(context.Background(), mockLLM, "a gear pump", 3)
	require.NoError(t, err)
	require.Len(t, roots, 1)

	assert.Equal(t, "- Gear Pump [Item]\n  - Housing [Part]\n  - Drive Assembly [Item]\n    - Shaft [Part]\n", tree.Render(roots))
}

func TestGenerateRequirements(t *testing.T) {
	mockLLM := new(MockLLM)
	mockLLM.On("GetCompletion", mock.AnythingOfType("string"), FormatJSON).Return(`{"requirements":[
		{"name":"Performance","children":[{"name":"REQ-PERF-001 Flow","description":"The pump shall deliver 40 l/min."}]}
	]}`, nil).Once()

	roots, err := GenerateRequirements(context.Background(), mockLLM, "a gear pump")
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, DefaultRequirementType, roots[0].ObjectType)
	assert.Equal(t, DefaultRequirementType, roots[0].Children[0].ObjectType)
}

func TestGenerateStructureErrors(t *testing.T) {
	tests := []struct {
		name     string
		kind     tree.Kind
		response string
	}{
		{"items empty", tree.KindItems, `{"items":[]}`},
		{"items invalid", tree.KindItems, `not json`},
		{"bom missing key", tree.KindBOM, `{"assembly":{"name":"x"}}`},
		{"bom nameless", tree.KindBOM, `{"bom":{"name":"  "}}`},
		{"requirements wrong key", tree.KindRequirements, `{"reqs":[{"name":"x"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockLLM := new(MockLLM)
			mockLLM.On("GetCompletion", mock.Anything, FormatJSON).Return(tt.response, nil)
			_, err := GenerateStructure(context.Background(), mockLLM, tt.kind, "details", 3, 3)
			assert.Error(t, err)
		})
	}

	_, err := GenerateStructure(context.Background(), new(MockLLM), tree.Kind("drawings"), "", 0, 0)
	assert.Error(t, err)
}

func TestRefineDescription(t *testing.T) {
	mockLLM := new(MockLLM)
	mockLLM.On("GetCompletion", mock.AnythingOfType("string"), FormatText).Return("A compact pump.", nil).Once()
	mockLLM.On("GetCompletion", mock.AnythingOfType("string"), FormatText).Return("   ", nil).Once()

	brief, err := RefineDescription(context.Background(), mockLLM, "pump", tree.KindBOM)
	require.NoError(t, err)
	assert.Equal(t, "A compact pump.", brief)

	_, err = RefineDescription(context.Background(), mockLLM, "pump", tree.KindBOM)
	assert.Error(t, err)
}

func TestAnthropicClient(t *testing.T) {
	var got AnthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if got.Model == "bad" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"model not found"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"{\"items\":[]}"}],"usage":{"input_tokens":3,"output_tokens":4}}`))
	}))
	defer srv.Close()

	c, err := NewAnthropicClient(&LlmConfig{APIKey: "key", ModelName: "claude", BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	out, err := c.GetCompletion(context.Background(), "list items", FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, `{"items":[]}`, out)
	assert.Equal(t, 4096, got.MaxTokens)
	assert.Contains(t, got.Messages[0].Content, "valid JSON")

	c.config.ModelName = "bad"
	_, err = c.GetCompletion(context.Background(), "list items", FormatText)
	assert.ErrorContains(t, err, "model not found")
}

func TestOpenAIClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt","choices":[{"index":0,"message":{"role":"assistant","content":"brief"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`))
	}))
	defer srv.Close()

	c, err := NewClient(&LlmConfig{Provider: ProviderOpenAI, APIKey: "key", ModelName: "gpt", BaseURL: srv.URL + "/v1"}, nil)
	require.NoError(t, err)

	out, err := c.GetCompletion(context.Background(), "describe", FormatText)
	require.NoError(t, err)
	assert.Equal(t, "brief", out)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(&LlmConfig{Provider: ProviderOpenAI}, nil)
	assert.Error(t, err)
	_, err = NewClient(&LlmConfig{Provider: ProviderAnthropic}, nil)
	assert.Error(t, err)
	_, err = NewClient(&LlmConfig{Provider: "mystery", APIKey: "k"}, nil)
	assert.Error(t, err)
}

func TestBatchID(t *testing.T) {
	id := newBatchIDAt(time.Unix(0x01020304, 0))
	assert.True(t, IsBatchID(id))
	assert.Equal(t, "01020304", id[:8])

	assert.Equal(t, id, EnsureBatchID(id))
	assert.NotEqual(t, "my-batch", EnsureBatchID("my-batch"))
	assert.True(t, IsBatchID(EnsureBatchID("")))
}
