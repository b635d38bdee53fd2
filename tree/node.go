package tree

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Kind identifies what a generated batch describes.
type Kind string

const (
	KindItems        Kind = "items"
	KindBOM          Kind = "bom"
	KindRequirements Kind = "requirements"
)

// ParseKind validates a kind given on the command line or read from storage.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindItems, KindBOM, KindRequirements:
		return k, nil
	default:
		return "", fmt.Errorf("unknown batch kind %q", s)
	}
}

// LabeledNode is one generated element. A disabled node excludes its whole
// subtree from materialization.
type LabeledNode struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	ObjectType  string         `json:"type,omitempty" yaml:"type,omitempty"`
	Enabled     bool           `json:"enabled" yaml:"enabled"`
	Children    []*LabeledNode `json:"children,omitempty" yaml:"children,omitempty"`
}

// NewNode returns an enabled node.
func NewNode(name, description string, children ...*LabeledNode) *LabeledNode {
	return &LabeledNode{
		Name:        name,
		Description: description,
		Enabled:     true,
		Children:    children,
	}
}

// UnmarshalJSON treats a missing "enabled" key as true.
func (n *LabeledNode) UnmarshalJSON(data []byte) error {
	type alias LabeledNode
	a := alias{Enabled: true}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*n = LabeledNode(a)
	return nil
}

// UnmarshalYAML treats a missing "enabled" key as true.
func (n *LabeledNode) UnmarshalYAML(value *yaml.Node) error {
	type alias LabeledNode
	a := alias{Enabled: true}
	if err := value.Decode(&a); err != nil {
		return err
	}
	*n = LabeledNode(a)
	return nil
}

// Batch is one generation result as kept in the local history.
type Batch struct {
	ID        string         `json:"id" yaml:"id"`
	Kind      Kind           `json:"kind" yaml:"kind"`
	Prompt    string         `json:"prompt" yaml:"prompt"`
	Model     string         `json:"model,omitempty" yaml:"model,omitempty"`
	Roots     []*LabeledNode `json:"roots" yaml:"roots"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
}
