package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss/list"
	"github.com/santiagomed/plmgen/core"
	"github.com/santiagomed/plmgen/logger"
	"github.com/santiagomed/plmgen/tree"
	"github.com/spf13/cobra"
)

const generationTimeout = 5 * time.Minute

type genState int

const (
	genInput genState = iota
	genProcessing
	genFinished
)

type genFlags struct {
	description string
	count       int
	depth       int
	profile     string
	model       string
	itemType    string
	skipRefine  bool
	plain       bool
}

var generationSteps = []core.StepType{
	core.RefineDescription,
	core.GenerateStructure,
	core.NormalizeStructure,
	core.SaveBatch,
	core.Done,
}

var stepText = map[core.StepType][2]string{
	core.RefineDescription:  {"Refining description.", "Refined description."},
	core.GenerateStructure:  {"Generating structure.", "Generated structure."},
	core.NormalizeStructure: {"Normalizing structure.", "Normalized structure."},
	core.SaveBatch:          {"Saving batch.", "Saved batch."},
	core.Done:               {"Done.", "Done."},
}

func newGenerateCommand(getApp func() *app) *cobra.Command {
	var f genFlags
	cmd := &cobra.Command{
		Use:       "generate items|bom|requirements",
		Short:     "Generate a batch of items, a BOM or a requirement specification",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(tree.KindItems), string(tree.KindBOM), string(tree.KindRequirements)},
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp()
			kind, err := tree.ParseKind(args[0])
			if err != nil {
				return err
			}
			req, err := a.buildRequest(kind, f, cmd.Flags().Changed)
			if err != nil {
				return err
			}
			if f.plain {
				if req.Description == "" {
					return errors.New("a description is required with --plain")
				}
				_, err := a.generatePlain(cmd.Context(), req, a.out)
				return err
			}
			return a.generateInteractive(req)
		},
	}
	cmd.Flags().StringVarP(&f.description, "description", "d", "", "What to generate. Prompted for when empty")
	cmd.Flags().IntVar(&f.count, "count", core.DefaultCount, "Number of items (items only)")
	cmd.Flags().IntVar(&f.depth, "depth", core.DefaultDepth, "Maximum BOM depth including the top assembly (bom only)")
	cmd.Flags().StringVarP(&f.profile, "profile", "p", "", "Named profile from the profiles section of config.yaml")
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "Model name, overrides the configured one")
	cmd.Flags().StringVar(&f.itemType, "type", "", "Object type for nodes the model leaves untyped")
	cmd.Flags().BoolVar(&f.skipRefine, "no-refine", false, "Send the description to generation without refining it first")
	cmd.Flags().BoolVar(&f.plain, "plain", false, "Print progress as plain lines instead of the interactive view")
	return cmd
}

// buildRequest layers configuration, then the profile, then explicitly set flags.
func (a *app) buildRequest(kind tree.Kind, f genFlags, changed func(string) bool) (*core.Request, error) {
	if err := a.cfg.ValidateLLM(); err != nil {
		return nil, err
	}
	req := core.DefaultRequest(kind)
	req.Provider = a.cfg.LLM.Provider
	req.APIKey = a.cfg.LLM.APIKey
	req.ModelName = a.cfg.LLM.ModelName

	if f.profile != "" {
		p, err := a.cfg.GetProfile(f.profile)
		if err != nil {
			return nil, err
		}
		if p.Kind != "" && tree.Kind(p.Kind) != kind {
			return nil, fmt.Errorf("profile '%s' is for %s, not %s", f.profile, p.Kind, kind)
		}
		if p.Count > 0 {
			req.Count = p.Count
		}
		if p.Depth > 0 {
			req.Depth = p.Depth
		}
		if p.ItemType != "" {
			req.ItemType = p.ItemType
		}
		if p.ModelName != "" {
			req.ModelName = p.ModelName
		}
		req.SkipRefine = p.SkipRefine
	}

	req.Description = strings.TrimSpace(f.description)
	if changed("count") {
		req.Count = f.count
	}
	if changed("depth") {
		req.Depth = f.depth
	}
	if f.model != "" {
		req.ModelName = f.model
	}
	if f.itemType != "" {
		req.ItemType = f.itemType
	}
	if changed("no-refine") {
		req.SkipRefine = f.skipRefine
	}
	return req, nil
}

func (a *app) newEngine(pub core.StepPublisher) *Engine {
	return NewGenerationEngine(pub, a.logger, 1, a.store, EngineOptions{
		TellmURL:  a.cfg.LLM.TellmURL,
		BaseURL:   a.cfg.LLM.BaseURL,
		MaxTokens: a.cfg.LLM.MaxTokens,
		NewClient: a.newClient,
	})
}

// generatePlain runs the pipeline and prints one line per completed step.
func (a *app) generatePlain(ctx context.Context, req *core.Request, out io.Writer) (*tree.Batch, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, generationTimeout)
	defer cancel()

	publisher := NewCliStepPublisher(a.logger)
	engine := a.newEngine(publisher)
	engine.Start(ctx)
	defer engine.Shutdown(5 * time.Second)

	resultChan := engine.AddRequest(req)
	for {
		select {
		case step := <-publisher.stepChan:
			fmt.Fprintf(out, "%s %s\n", checkStyle.Render("✓"), stepText[step][1])
		case err := <-publisher.errorChan:
			a.logger.Error(fmt.Sprintf("Error received during generation: %v", err))
		case res := <-resultChan:
			// drain steps published just before the result
			for len(publisher.stepChan) > 0 {
				fmt.Fprintf(out, "%s %s\n", checkStyle.Render("✓"), stepText[<-publisher.stepChan][1])
			}
			if res.Err != nil {
				return nil, res.Err
			}
			printBatch(out, res.Batch)
			return res.Batch, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func printBatch(out io.Writer, b *tree.Batch) {
	fmt.Fprintf(out, "\nBatch %s (%s, %d nodes)\n\n", nameStyle.Render(b.ID), b.Kind, tree.Count(b.Roots))
	fmt.Fprint(out, tree.Render(b.Roots))
	fmt.Fprintf(out, "\n%s\n", faintStyle.Render(fmt.Sprintf("Push it with: plmgen push %s", b.ID)))
}

func (a *app) generateInteractive(req *core.Request) error {
	m := newGenerateModel(a, req)
	defer m.Shutdown()

	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return fmt.Errorf("error running program: %w", err)
	}
	gm := final.(generateCmdModel)
	if gm.err != nil {
		return gm.err
	}
	if gm.batch != nil {
		printBatch(a.out, gm.batch)
	}
	return nil
}

type stepErrorMsg struct{ err error }

type generationDoneMsg struct{ result ExecutionResult }

type generateCmdModel struct {
	textInput      textinput.Model
	spinner        spinner.Model
	state          genState
	request        *core.Request
	completedSteps []core.StepType
	engine         *Engine
	engineCtx      context.Context
	engineCancel   context.CancelFunc
	publisher      *CliStepPublisher
	logger         logger.Logger
	batch          *tree.Batch
	err            error
}

func newGenerateModel(a *app, req *core.Request) generateCmdModel {
	ti := textinput.New()
	ti.Placeholder = fmt.Sprintf("Describe the %s to generate...", req.Kind)
	ti.Focus()
	ti.CharLimit = 512
	ti.Width = 80

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	publisher := NewCliStepPublisher(a.logger)
	engine := a.newEngine(publisher)
	ctx, cancel := context.WithTimeout(context.Background(), generationTimeout)
	engine.Start(ctx)

	state := genInput
	if req.Description != "" {
		state = genProcessing
	}
	return generateCmdModel{
		textInput:    ti,
		spinner:      s,
		state:        state,
		request:      req,
		engine:       engine,
		engineCtx:    ctx,
		engineCancel: cancel,
		publisher:    publisher,
		logger:       a.logger,
	}
}

func (m generateCmdModel) Init() tea.Cmd {
	if m.state == genProcessing {
		return tea.Batch(m.spinner.Tick, m.startGeneration())
	}
	return textinput.Blink
}

func (m generateCmdModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyEsc {
			m.logger.Debug("User exited the application")
			m.engineCancel()
			if m.state == genProcessing {
				m.err = errors.New("generation interrupted")
			}
			m.state = genFinished
			return m, tea.Quit
		}
		if m.state == genInput && msg.Type == tea.KeyEnter {
			return m.handleKeyEnter()
		}
	case core.StepType:
		m.completedSteps = append(m.completedSteps, msg)
		if msg == core.Done {
			return m, nil
		}
		return m, tea.Batch(m.spinner.Tick, m.listenForNextStep)
	case stepErrorMsg:
		m.logger.Error(fmt.Sprintf("Error received during generation: %v", msg.err))
		return m, nil
	case generationDoneMsg:
		m.state = genFinished
		m.err = msg.result.Err
		m.batch = msg.result.Batch
		return m, tea.Quit
	case spinner.TickMsg:
		if m.state == genProcessing {
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	if m.state == genInput {
		m.textInput, cmd = m.textInput.Update(msg)
	}
	return m, cmd
}

func (m generateCmdModel) View() string {
	switch m.state {
	case genInput:
		return fmt.Sprintf("%s\n\n%s\n", m.textInput.View(), faintStyle.Render("(press enter to generate or esc to quit)"))
	case genProcessing:
		enumerator := func(l list.Items, i int) string {
			if i < len(m.completedSteps) {
				return checkStyle.Render("✓")
			}
			return m.spinner.View()
		}
		l := list.New().Enumerator(enumerator)
		for i, step := range generationSteps {
			if i < len(m.completedSteps) {
				l.Item(stepText[step][1])
			} else if i == len(m.completedSteps) {
				l.Item(stepText[step][0])
			}
		}
		return fmt.Sprintln(l)
	default:
		return ""
	}
}

func (m *generateCmdModel) Shutdown() {
	m.engineCancel()                   // Cancel the engine context
	m.engine.Shutdown(5 * time.Second) // Give 5 seconds for graceful shutdown
}

func (m generateCmdModel) handleKeyEnter() (tea.Model, tea.Cmd) {
	v := strings.TrimSpace(m.textInput.Value())
	if v == "" {
		message := faintStyle.Render("No description entered. Exiting...")
		m.state = genFinished
		return m, tea.Sequence(tea.Printf("%s", message), tea.Quit)
	}
	m.request.Description = v
	m.state = genProcessing
	echo := faintStyle.Width(80).Render(fmt.Sprintf("> %s", v))
	return m, tea.Sequence(tea.Printf("%s", echo), tea.Batch(m.spinner.Tick, m.startGeneration()))
}

func (m generateCmdModel) listenForNextStep() tea.Msg {
	select {
	case step := <-m.publisher.stepChan:
		return step
	case err := <-m.publisher.errorChan:
		return stepErrorMsg{err}
	}
}

func (m generateCmdModel) startGeneration() tea.Cmd {
	resultChan := m.engine.AddRequest(m.request)
	waitForResult := func() tea.Msg {
		select {
		case res := <-resultChan:
			return generationDoneMsg{res}
		case <-m.engineCtx.Done():
			return generationDoneMsg{ExecutionResult{Err: m.engineCtx.Err()}}
		}
	}
	return tea.Batch(m.listenForNextStep, waitForResult)
}
