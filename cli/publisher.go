package cli

import (
	"fmt"

	"github.com/santiagomed/plmgen/core"
	"github.com/santiagomed/plmgen/logger"
	"github.com/santiagomed/plmgen/plm"
)

type CliStepPublisher struct {
	stepChan  chan core.StepType
	errorChan chan error
	logger    logger.Logger
}

func NewCliStepPublisher(logger logger.Logger) *CliStepPublisher {
	return &CliStepPublisher{
		stepChan:  make(chan core.StepType, 100), // Buffer size of 100
		errorChan: make(chan error, 10),          // Buffer size of 10
		logger:    logger,
	}
}

func (p *CliStepPublisher) PublishStep(step core.StepType) {
	select {
	case p.stepChan <- step:
		p.logger.Debug(fmt.Sprintf("Successfully published step: %v", step))
	default:
		p.logger.Warn(fmt.Sprintf("Failed to publish step: %v. Channel full.", step))
	}
}

func (p *CliStepPublisher) Error(step core.StepType, err error) {
	select {
	case p.errorChan <- err:
		p.logger.Debug(fmt.Sprintf("Successfully published error for step: %v", step))
	default:
		p.logger.Warn(fmt.Sprintf("Failed to publish error for step: %v. Channel full.", step))
	}
}

// CliOutcomePublisher forwards materializer records to the push view. The
// record channel is sized for the whole tree so the run never blocks on a
// slow terminal.
type CliOutcomePublisher struct {
	recordChan chan plm.OutcomeRecord
	errorChan  chan error
	logger     logger.Logger
}

func NewCliOutcomePublisher(logger logger.Logger, expected int) *CliOutcomePublisher {
	return &CliOutcomePublisher{
		recordChan: make(chan plm.OutcomeRecord, expected+1),
		errorChan:  make(chan error, 10),
		logger:     logger,
	}
}

func (p *CliOutcomePublisher) PublishOutcome(rec plm.OutcomeRecord) {
	select {
	case p.recordChan <- rec:
	default:
		p.logger.Warn(fmt.Sprintf("Failed to publish outcome for %s. Channel full.", rec.NodeName))
	}
}

func (p *CliOutcomePublisher) Error(err error) {
	select {
	case p.errorChan <- err:
	default:
		p.logger.Warn(fmt.Sprintf("Failed to publish error: %v. Channel full.", err))
	}
}
