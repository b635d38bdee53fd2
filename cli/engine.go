package cli

import (
	"context"
	"sync"
	"time"

	"github.com/santiagomed/plmgen/core"
	"github.com/santiagomed/plmgen/llm"
	"github.com/santiagomed/plmgen/logger"
	"github.com/santiagomed/plmgen/tree"
)

// ExecutionResult is what a worker sends back for one request.
type ExecutionResult struct {
	Batch *tree.Batch
	Err   error
}

type ExecutionRequest struct {
	Request    *core.Request
	ResultChan chan ExecutionResult
	CreatedAt  time.Time
}

// ClientFactory builds the LLM client for one request.
type ClientFactory func(cfg *llm.LlmConfig, l logger.Logger) (llm.LlmClient, error)

// EngineOptions carries the LLM settings that do not vary per request.
type EngineOptions struct {
	TellmURL  string
	BaseURL   string
	MaxTokens int
	NewClient ClientFactory
}

type Engine struct {
	pub          core.StepPublisher
	logger       logger.Logger
	requests     chan ExecutionRequest
	workers      int
	workerWG     sync.WaitGroup
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	store        core.BatchStore
	opts         EngineOptions
}

func NewGenerationEngine(pub core.StepPublisher, l logger.Logger, workers int, store core.BatchStore, opts EngineOptions) *Engine {
	if l == nil {
		l = logger.NewNullLogger()
	}
	if workers < 1 {
		workers = 1
	}
	if opts.NewClient == nil {
		opts.NewClient = llm.NewClient
	}
	return &Engine{
		pub:          pub,
		logger:       l,
		requests:     make(chan ExecutionRequest, 100), // Buffered channel
		workers:      workers,
		shutdownChan: make(chan struct{}),
		store:        store,
		opts:         opts,
	}
}

func (e *Engine) Start(ctx context.Context) {
	for i := 0; i < e.workers; i++ {
		e.workerWG.Add(1)
		go e.worker(ctx)
	}
}

func (e *Engine) worker(ctx context.Context) {
	defer e.workerWG.Done()
	for {
		select {
		case req := <-e.requests:
			req.ResultChan <- e.execute(ctx, req.Request)
			close(req.ResultChan)
		case <-ctx.Done():
			return
		case <-e.shutdownChan:
			return
		}
	}
}

func (e *Engine) execute(ctx context.Context, r *core.Request) ExecutionResult {
	// Validate first so the tellm batch id matches the stored batch.
	if err := r.Validate(); err != nil {
		return ExecutionResult{Err: err}
	}
	llmCfg := llm.LlmConfig{
		Provider:  r.Provider,
		APIKey:    r.APIKey,
		ModelName: r.ModelName,
		BatchID:   r.BatchID,
		BaseURL:   e.opts.BaseURL,
		MaxTokens: e.opts.MaxTokens,
		TellmURL:  e.opts.TellmURL,
	}
	client, err := e.opts.NewClient(&llmCfg, e.logger)
	if err != nil {
		return ExecutionResult{Err: err}
	}

	stepManager := core.NewDefaultStepManager(client, e.store)
	pipeline, err := core.NewPipeline(r, stepManager, e.pub, e.logger)
	if err != nil {
		return ExecutionResult{Err: err}
	}
	if err := pipeline.Execute(ctx); err != nil {
		return ExecutionResult{Err: err}
	}
	return ExecutionResult{Batch: pipeline.State().Batch}
}

func (e *Engine) AddRequest(request *core.Request) chan ExecutionResult {
	resultChan := make(chan ExecutionResult, 1)
	e.requests <- ExecutionRequest{
		Request:    request,
		ResultChan: resultChan,
		CreatedAt:  time.Now(),
	}
	return resultChan
}

func (e *Engine) Shutdown(timeout time.Duration) {
	e.shutdownOnce.Do(func() { close(e.shutdownChan) })

	done := make(chan struct{})
	go func() {
		e.workerWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("All workers shut down gracefully")
	case <-time.After(timeout):
		e.logger.Warn("Shutdown timed out, some workers may still be running")
	}
}
