package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santiagomed/plmgen/tree"
)

// Object types applied when the model omits one.
const (
	DefaultItemType        = "Item"
	DefaultRequirementType = "Requirement"
)

// generatedNode is the shape the prompts ask for.
type generatedNode struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Type        string          `json:"type"`
	Children    []generatedNode `json:"children"`
}

// RefineDescription expands a one-line request into an engineering brief.
func RefineDescription(ctx context.Context, client LlmClient, description string, kind tree.Kind) (string, error) {
	prompt := getRefinePrompt(description, kind)
	brief, err := client.GetCompletion(ctx, prompt, FormatText)
	if err != nil {
		return "", fmt.Errorf("failed to refine description: %w", err)
	}
	if strings.TrimSpace(brief) == "" {
		return "", fmt.Errorf("generated brief is empty")
	}
	return brief, nil
}

// GenerateItems generates a flat list of items.
func GenerateItems(ctx context.Context, client LlmClient, details string, count int) ([]*tree.LabeledNode, error) {
	response, err := client.GetCompletion(ctx, getItemsPrompt(details, count), FormatJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to generate items: %w", err)
	}

	var items map[string][]generatedNode
	if err := json.Unmarshal([]byte(trimCodeFence(response)), &items); err != nil {
		return nil, fmt.Errorf("error parsing items: %w", err)
	}
	if len(items["items"]) == 0 {
		return nil, fmt.Errorf("no items generated")
	}

	roots := make([]*tree.LabeledNode, 0, len(items["items"]))
	for _, g := range items["items"] {
		g.Children = nil
		roots = append(roots, toNode(g, DefaultItemType))
	}
	return roots, nil
}

// GenerateBOM generates a single-rooted bill of material.
func GenerateBOM(ctx context.Context, client LlmClient, details string, depth int) ([]*tree.LabeledNode, error) {
	response, err := client.GetCompletion(ctx, getBOMPrompt(details, depth), FormatJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to generate BOM: %w", err)
	}

	var bom map[string]*generatedNode
	if err := json.Unmarshal([]byte(trimCodeFence(response)), &bom); err != nil {
		return nil, fmt.Errorf("error parsing BOM: %w", err)
	}
	root := bom["bom"]
	if root == nil || strings.TrimSpace(root.Name) == "" {
		return nil, fmt.Errorf("no BOM generated")
	}
	return []*tree.LabeledNode{toNode(*root, DefaultItemType)}, nil
}

// GenerateRequirements generates a requirement specification grouped under headings.
func GenerateRequirements(ctx context.Context, client LlmClient, details string) ([]*tree.LabeledNode, error) {
	response, err := client.GetCompletion(ctx, getRequirementsPrompt(details), FormatJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to generate requirements: %w", err)
	}

	var reqs map[string][]generatedNode
	if err := json.Unmarshal([]byte(trimCodeFence(response)), &reqs); err != nil {
		return nil, fmt.Errorf("error parsing requirements: %w", err)
	}
	if len(reqs["requirements"]) == 0 {
		return nil, fmt.Errorf("no requirements generated")
	}

	roots := make([]*tree.LabeledNode, 0, len(reqs["requirements"]))
	for _, g := range reqs["requirements"] {
		roots = append(roots, toNode(g, DefaultRequirementType))
	}
	return roots, nil
}

// GenerateStructure dispatches on kind.
func GenerateStructure(ctx context.Context, client LlmClient, kind tree.Kind, details string, count, depth int) ([]*tree.LabeledNode, error) {
	switch kind {
	case tree.KindItems:
		return GenerateItems(ctx, client, details, count)
	case tree.KindBOM:
		return GenerateBOM(ctx, client, details, depth)
	case tree.KindRequirements:
		return GenerateRequirements(ctx, client, details)
	default:
		return nil, fmt.Errorf("unknown batch kind %q", kind)
	}
}

func toNode(g generatedNode, defaultType string) *tree.LabeledNode {
	typ := strings.TrimSpace(g.Type)
	if typ == "" {
		typ = defaultType
	}
	n := &tree.LabeledNode{
		Name:        strings.TrimSpace(g.Name),
		Description: strings.TrimSpace(g.Description),
		ObjectType:  typ,
		Enabled:     true,
	}
	for _, c := range g.Children {
		n.Children = append(n.Children, toNode(c, defaultType))
	}
	return n
}

// trimCodeFence removes a surrounding ``` block some models add despite
// being told not to.
func trimCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
