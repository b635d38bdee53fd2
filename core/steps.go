package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/santiagomed/plmgen/llm"
	"github.com/santiagomed/plmgen/tree"
)

// BatchStore persists finished batches. history.Store implements it.
type BatchStore interface {
	SaveBatch(b *tree.Batch) error
}

type defaultStepManager struct {
	steps map[StepType]Step
	order []StepType
}

// NewDefaultStepManager wires the generation steps. A nil store skips
// persistence; the batch is still available from the pipeline state.
func NewDefaultStepManager(client llm.LlmClient, store BatchStore) StepManager {
	return &defaultStepManager{
		steps: map[StepType]Step{
			RefineDescription:  &RefineDescriptionStep{llm: client},
			GenerateStructure:  &GenerateStructureStep{llm: client},
			NormalizeStructure: &NormalizeStructureStep{},
			SaveBatch:          &SaveBatchStep{store: store},
			Done:               &DoneStep{},
		},
		order: []StepType{RefineDescription, GenerateStructure, NormalizeStructure, SaveBatch, Done},
	}
}

func (m *defaultStepManager) GetSteps() []StepType {
	return m.order
}

func (m *defaultStepManager) GetStep(step StepType) Step {
	return m.steps[step]
}

type RefineDescriptionStep struct {
	llm llm.LlmClient
}

func (s *RefineDescriptionStep) Execute(ctx context.Context, state *State) error {
	if state.Request.SkipRefine {
		state.Logger.Debug("Skipping description refinement.")
		state.Brief = state.Request.Description
		return nil
	}
	state.Logger.Debug("Refining description.")
	brief, err := llm.RefineDescription(ctx, s.llm, state.Request.Description, state.Request.Kind)
	if err != nil {
		return err
	}
	state.Brief = brief
	return nil
}

type GenerateStructureStep struct {
	llm llm.LlmClient
}

func (s *GenerateStructureStep) Execute(ctx context.Context, state *State) error {
	r := state.Request
	state.Logger.Debug(fmt.Sprintf("Generating %s structure.", r.Kind))
	roots, err := llm.GenerateStructure(ctx, s.llm, r.Kind, state.Brief, r.Count, r.Depth)
	if err != nil {
		return err
	}
	state.Roots = roots
	return nil
}

// NormalizeStructureStep trims names, drops nameless nodes with their
// subtrees, cuts a BOM at the requested depth and applies the requested
// object type where the model left the default.
type NormalizeStructureStep struct{}

func (s *NormalizeStructureStep) Execute(ctx context.Context, state *State) error {
	r := state.Request
	defaultType := llm.DefaultItemType
	if r.Kind == tree.KindRequirements {
		defaultType = llm.DefaultRequirementType
	}
	objectType := r.ItemTypeOr(defaultType)

	maxDepth := 0
	if r.Kind == tree.KindBOM {
		maxDepth = r.Depth
	}

	before := tree.Count(state.Roots)
	state.Roots = normalize(state.Roots, 1, maxDepth, defaultType, objectType)
	state.Dropped = before - tree.Count(state.Roots)
	if state.Dropped > 0 {
		state.Logger.Warn(fmt.Sprintf("Dropped %d generated nodes during normalization", state.Dropped))
	}
	if r.Kind == tree.KindItems && len(state.Roots) > r.Count {
		state.Roots = state.Roots[:r.Count]
	}
	if len(state.Roots) == 0 {
		return errors.New("generated structure is empty after normalization")
	}
	return nil
}

func normalize(nodes []*tree.LabeledNode, depth, maxDepth int, defaultType, objectType string) []*tree.LabeledNode {
	out := nodes[:0]
	for _, n := range nodes {
		if n == nil {
			continue
		}
		n.Name = strings.Join(strings.Fields(n.Name), " ")
		if n.Name == "" {
			continue
		}
		n.Description = strings.TrimSpace(n.Description)
		if t := strings.TrimSpace(n.ObjectType); t == "" || t == defaultType {
			n.ObjectType = objectType
		}
		if maxDepth > 0 && depth >= maxDepth {
			n.Children = nil
		} else {
			n.Children = normalize(n.Children, depth+1, maxDepth, defaultType, objectType)
		}
		if len(n.Children) == 0 {
			n.Children = nil
		}
		out = append(out, n)
	}
	return out
}

type SaveBatchStep struct {
	store BatchStore
}

func (s *SaveBatchStep) Execute(ctx context.Context, state *State) error {
	r := state.Request
	state.Batch = &tree.Batch{
		ID:        r.BatchID,
		Kind:      r.Kind,
		Prompt:    r.Description,
		Model:     r.ModelName,
		Roots:     state.Roots,
		CreatedAt: time.Now().UTC(),
	}
	if s.store == nil {
		return nil
	}
	state.Logger.Debug("Saving batch to history.")
	if err := s.store.SaveBatch(state.Batch); err != nil {
		return fmt.Errorf("failed to save batch: %w", err)
	}
	return nil
}

type DoneStep struct{}

func (s *DoneStep) Execute(ctx context.Context, state *State) error {
	state.Logger.Debug(fmt.Sprintf("Batch ready with %d nodes.", tree.Count(state.Roots)))
	return nil
}
