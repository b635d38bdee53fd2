package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/santiagomed/plmgen/llm"
	"github.com/santiagomed/plmgen/tree"
)

const (
	DefaultCount = 10
	DefaultDepth = 3
	MaxCount     = 200
	MaxDepth     = 8
)

// Request indicates the user's request for a new batch.
type Request struct {
	BatchID     string    `mapstructure:"batch_id"`
	Kind        tree.Kind `mapstructure:"kind"`
	Description string    `mapstructure:"description"`
	// Count is the number of items for KindItems.
	Count int `mapstructure:"count"`
	// Depth bounds the levels of a KindBOM tree.
	Depth      int    `mapstructure:"depth"`
	ItemType   string `mapstructure:"item_type"`
	SkipRefine bool   `mapstructure:"skip_refine"`

	Provider  string `mapstructure:"provider"`
	APIKey    string `mapstructure:"api_key"`
	ModelName string `mapstructure:"model_name"`
}

// DefaultRequest returns a Request with default values.
func DefaultRequest(kind tree.Kind) *Request {
	return &Request{
		BatchID:   llm.NewBatchID(),
		Kind:      kind,
		Count:     DefaultCount,
		Depth:     DefaultDepth,
		Provider:  llm.ProviderOpenAI,
		ModelName: "gpt-4o-mini",
	}
}

// Validate fills a missing batch id and checks bounds.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Description) == "" {
		return errors.New("description is required")
	}
	if _, err := tree.ParseKind(string(r.Kind)); err != nil {
		return err
	}
	if r.Count < 1 || r.Count > MaxCount {
		return fmt.Errorf("count must be between 1 and %d", MaxCount)
	}
	if r.Depth < 1 || r.Depth > MaxDepth {
		return fmt.Errorf("depth must be between 1 and %d", MaxDepth)
	}
	r.BatchID = llm.EnsureBatchID(r.BatchID)
	return nil
}

// ItemTypeOr returns the requested object type, or def when none was asked for.
func (r *Request) ItemTypeOr(def string) string {
	if t := strings.TrimSpace(r.ItemType); t != "" {
		return t
	}
	return def
}
