package core

import (
	"context"
	"fmt"
	"time"

	"github.com/santiagomed/plmgen/logger"
	"github.com/santiagomed/plmgen/tree"
)

type Step interface {
	Execute(ctx context.Context, state *State) error
}

type StepType int

const (
	RefineDescription StepType = iota
	GenerateStructure
	NormalizeStructure
	SaveBatch
	Done
)

var stepNames = [...]string{
	RefineDescription:  "Refining description",
	GenerateStructure:  "Generating structure",
	NormalizeStructure: "Normalizing structure",
	SaveBatch:          "Saving batch",
	Done:               "Done",
}

func (s StepType) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return fmt.Sprintf("StepType(%d)", int(s))
	}
	return stepNames[s]
}

type State struct {
	Request *Request
	// Brief is the refined description passed to generation.
	Brief string
	Roots []*tree.LabeledNode
	Batch *tree.Batch
	// Dropped counts nameless nodes removed during normalization.
	Dropped int
	Logger  logger.Logger
}

// StepManager supplies the ordered steps of a pipeline.
type StepManager interface {
	GetSteps() []StepType
	GetStep(step StepType) Step
}

type Pipeline struct {
	stepManager StepManager
	state       *State
	publisher   StepPublisher
}

func NewPipeline(r *Request, sm StepManager, pub StepPublisher, l logger.Logger) (*Pipeline, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if pub == nil {
		pub = &DefaultStepPublisher{}
	}
	if l == nil {
		l = logger.NewNullLogger()
	}
	return &Pipeline{
		state: &State{
			Request: r,
			Logger:  l.WithField("batch_id", r.BatchID),
		},
		publisher:   pub,
		stepManager: sm,
	}, nil
}

// State exposes the pipeline state; read it after Execute returns.
func (p *Pipeline) State() *State {
	return p.state
}

func (p *Pipeline) Execute(ctx context.Context) error {
	steps := p.stepManager.GetSteps()
	p.state.Logger.Info("Starting pipeline execution")
	for i, stepType := range steps {
		if err := ctx.Err(); err != nil {
			p.state.Logger.Info("Pipeline execution cancelled")
			return err
		}

		p.state.Logger.Debug(fmt.Sprintf("Attempting to execute step %d: %v", i, stepType))
		step := p.stepManager.GetStep(stepType)
		if step == nil {
			err := fmt.Errorf("step %v not found", stepType)
			p.state.Logger.Error(err.Error())
			p.publisher.Error(stepType, err)
			return err
		}

		startTime := time.Now()
		if err := step.Execute(ctx, p.state); err != nil {
			logger.WithError(p.state.Logger, err).Error(fmt.Sprintf("Error executing step %v", stepType))
			p.publisher.Error(stepType, err)
			return err
		}
		p.state.Logger.Info(fmt.Sprintf("Step %v completed in %v", stepType, time.Since(startTime)))
		p.publisher.PublishStep(stepType)
	}

	p.state.Logger.Info("Pipeline execution completed")
	return nil
}

type StepPublisher interface {
	PublishStep(step StepType)
	Error(step StepType, err error)
}

type DefaultStepPublisher struct{}

func (p *DefaultStepPublisher) PublishStep(step StepType) {}

func (p *DefaultStepPublisher) Error(step StepType, err error) {}
