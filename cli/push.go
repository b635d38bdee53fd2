package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/santiagomed/plmgen/llm"
	"github.com/santiagomed/plmgen/plm"
	"github.com/santiagomed/plmgen/teamcenter"
	"github.com/santiagomed/plmgen/tree"
	"github.com/spf13/cobra"
)

var helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262")).Render

const (
	padding  = 2
	maxWidth = 80
	// recent outcomes shown under the progress bar
	visibleOutcomes = 8
)

type pushFlags struct {
	file   string
	skip   []string
	folder string
	flat   bool
	dryRun bool
	plain  bool
}

func newPushCommand(getApp func() *app) *cobra.Command {
	var f pushFlags
	cmd := &cobra.Command{
		Use:   "push <batch-id>",
		Short: "Create a batch as linked objects in Teamcenter",
		Long: `Push logs in to Teamcenter, creates a folder for the run and creates every enabled node as an item.
BOM and requirement batches are linked into a structure under each root; items batches are created flat.
Use --skip with a slash separated path (e.g. "Gear Pump/Drive Assembly") to leave a subtree out.
Repeated sibling names take a 1-based index ("Gear Pump/Bolt[2]"); write "\/" for a slash inside a name.`,
		Args: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			if file == "" && len(args) != 1 {
				return errors.New("requires a batch id or --file")
			}
			if file != "" && len(args) != 0 {
				return errors.New("give either a batch id or --file, not both")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp()
			batch, err := a.loadPushBatch(args, f.file)
			if err != nil {
				return err
			}
			roots, err := selectRoots(batch, f.skip)
			if err != nil {
				return err
			}
			if f.dryRun {
				fmt.Fprint(a.out, tree.Render(roots))
				fmt.Fprintf(a.out, "\n%d of %d nodes would be created\n", tree.CountEnabled(roots), tree.Count(roots))
				return nil
			}

			req := plm.Request{
				Roots:             roots,
				FolderName:        f.folder,
				FolderDescription: folderDescription(batch),
				Structure:         !f.flat && batch.Kind != tree.KindItems,
			}

			var report *plm.Report
			if f.plain {
				report, err = a.push(cmd.Context(), batch.ID, req, &linePublisher{out: a.out})
			} else {
				report, err = a.pushInteractive(batch.ID, req)
			}
			if err != nil {
				return err
			}
			printReport(a.out, report)
			if report.HasFailures() {
				return errPushFailures
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "Push a tree from a .json, .yaml or .yml file instead of the history")
	cmd.Flags().StringArrayVarP(&f.skip, "skip", "s", nil, "Path of a node to leave out with its subtree (repeatable)")
	cmd.Flags().StringVar(&f.folder, "folder", "", "Name of the folder created for this run (default: first root's name)")
	cmd.Flags().BoolVar(&f.flat, "flat", false, "Create items without structure windows or links")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Print the nodes that would be created and exit")
	cmd.Flags().BoolVar(&f.plain, "plain", false, "Print outcomes as plain lines instead of the interactive view")
	return cmd
}

// loadPushBatch reads the batch from history, or from a file which is then
// added to the history so its pushes can be listed.
func (a *app) loadPushBatch(args []string, file string) (*tree.Batch, error) {
	if file == "" {
		return a.store.GetBatch(args[0])
	}

	batch, err := a.fs.LoadBatch(file)
	if err != nil {
		roots, treeErr := a.fs.LoadTree(file)
		if treeErr != nil {
			return nil, treeErr
		}
		batch = &tree.Batch{
			Kind:   guessKind(roots),
			Prompt: fmt.Sprintf("imported from %s", file),
			Roots:  roots,
		}
	}
	batch.ID = llm.EnsureBatchID(batch.ID)
	if _, err := tree.ParseKind(string(batch.Kind)); err != nil {
		batch.Kind = guessKind(batch.Roots)
	}
	if err := a.store.SaveBatch(batch); err != nil {
		return nil, fmt.Errorf("error saving imported batch: %w", err)
	}
	return batch, nil
}

func guessKind(roots []*tree.LabeledNode) tree.Kind {
	for _, r := range roots {
		if len(r.Children) > 0 {
			return tree.KindBOM
		}
	}
	return tree.KindItems
}

// selectRoots copies the batch tree and disables the skipped subtrees.
func selectRoots(batch *tree.Batch, skip []string) ([]*tree.LabeledNode, error) {
	roots := tree.Clone(batch.Roots)
	for _, path := range skip {
		if err := tree.SetEnabled(roots, path, false); err != nil {
			return nil, err
		}
	}
	if tree.CountEnabled(roots) == 0 {
		return nil, errors.New("nothing to push: every node is disabled")
	}
	return roots, nil
}

func folderDescription(b *tree.Batch) string {
	prompt := strings.Join(strings.Fields(b.Prompt), " ")
	if len(prompt) > 160 {
		prompt = prompt[:157] + "..."
	}
	return fmt.Sprintf("plmgen %s batch %s: %s", b.Kind, b.ID, prompt)
}

// push runs one materialization and records it in the history.
func (a *app) push(ctx context.Context, batchID string, req plm.Request, pub plm.OutcomePublisher) (*plm.Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := a.cfg.ValidateTeamcenter(); err != nil {
		return nil, err
	}
	if a.cfg.Teamcenter.Password == "" {
		return nil, errors.New("no Teamcenter password: set TC_PASSWORD or teamcenter.password")
	}

	client, err := teamcenter.NewClient(teamcenter.Options{
		BaseURL:    a.cfg.Teamcenter.URL,
		CookieName: a.cfg.Teamcenter.CookieName,
		Timeout:    a.cfg.Teamcenter.Timeout,
	}, a.logger)
	if err != nil {
		return nil, err
	}

	// Windows an earlier push could not close are released by this run's cleanup.
	server := a.cfg.Teamcenter.URL
	if stale, err := a.store.OpenWindows(server); err != nil {
		a.logger.Warn(fmt.Sprintf("Failed to read open windows: %v", err))
	} else if len(stale) > 0 {
		client.TrackWindows(stale)
	}

	m := plm.NewMaterializer(client.Collaborators(), a.cfg.MaterializerConfig(), pub, a.logger.WithField("batch_id", batchID))
	report, err := m.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := a.store.SetOpenWindows(server, client.OpenWindows()); err != nil {
		a.logger.Warn(fmt.Sprintf("Failed to record open windows: %v", err))
	}

	if _, err := a.store.RecordPush(batchID, report); err != nil {
		a.logger.Warn(fmt.Sprintf("Failed to record push of batch %s: %v", batchID, err))
	}
	return report, nil
}

// linePublisher prints one line per outcome.
type linePublisher struct {
	out io.Writer
}

func (p *linePublisher) PublishOutcome(rec plm.OutcomeRecord) {
	fmt.Fprintln(p.out, formatOutcome(rec))
}

func (p *linePublisher) Error(err error) {
	fmt.Fprintln(p.out, warnStyle.Render(fmt.Sprintf("! %v", err)))
}

func formatOutcome(rec plm.OutcomeRecord) string {
	switch {
	case !rec.Success:
		return fmt.Sprintf("%s %s: %v", failStyle.Render("✗"), rec.NodeName, rec.Err)
	case rec.Orphaned():
		return fmt.Sprintf("%s %s %s: not linked: %v", warnStyle.Render("!"), rec.NodeName, faintStyle.Render(rec.ObjectUID), rec.Err)
	default:
		return fmt.Sprintf("%s %s %s", checkStyle.Render("✓"), rec.NodeName, faintStyle.Render(rec.ObjectUID))
	}
}

func printReport(out io.Writer, r *plm.Report) {
	fmt.Fprintln(out)
	if r.Folder != nil {
		fmt.Fprintf(out, "Folder: %s\n", nameStyle.Render(r.Folder.UID))
	}
	summary := r.Summary()
	if r.HasFailures() {
		fmt.Fprintln(out, errorStyle.Render(summary))
	} else {
		fmt.Fprintln(out, checkStyle.Render(summary))
	}
	for _, err := range r.WindowErrors {
		fmt.Fprintln(out, warnStyle.Render(fmt.Sprintf("  window: %v", err)))
	}
	if r.Err == nil {
		for _, rec := range r.Failed() {
			fmt.Fprintf(out, "  failed: %s: %v\n", rec.NodeName, rec.Err)
		}
	}
	for _, rec := range r.Orphaned() {
		fmt.Fprintf(out, "  not linked: %s (%s)\n", rec.NodeName, rec.ObjectUID)
	}
}

func (a *app) pushInteractive(batchID string, req plm.Request) (*plm.Report, error) {
	total := tree.CountEnabled(req.Roots)
	pub := NewCliOutcomePublisher(a.logger, total)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result := &pushDoneMsg{}
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		result.report, result.err = a.push(ctx, batchID, req, pub)
	}()

	m := newPushCmdModel(pub, finished, result, total, cancel)
	if _, err := tea.NewProgram(m).Run(); err != nil {
		cancel()
		<-finished
		return nil, fmt.Errorf("error running program: %w", err)
	}
	// after esc the run stops at the next node and reports the rest
	<-finished
	return result.report, result.err
}

type outcomeMsg plm.OutcomeRecord

type pushErrMsg struct{ err error }

type pushDoneMsg struct {
	report *plm.Report
	err    error
}

type pushCmdModel struct {
	progress  progress.Model
	publisher *CliOutcomePublisher
	finished  <-chan struct{}
	result    *pushDoneMsg
	cancel    context.CancelFunc
	total     int
	received  int
	recent    []string
	done      bool
}

func newPushCmdModel(pub *CliOutcomePublisher, finished <-chan struct{}, result *pushDoneMsg, total int, cancel context.CancelFunc) pushCmdModel {
	return pushCmdModel{
		progress:  progress.New(progress.WithGradient("#FFBA08", "#F48C06")),
		publisher: pub,
		finished:  finished,
		result:    result,
		cancel:    cancel,
		total:     total,
	}
}

func (m pushCmdModel) Init() tea.Cmd {
	return m.listen
}

func (m pushCmdModel) listen() tea.Msg {
	select {
	case rec := <-m.publisher.recordChan:
		return outcomeMsg(rec)
	case err := <-m.publisher.errorChan:
		return pushErrMsg{err}
	case <-m.finished:
		return *m.result
	}
}

func finalPause() tea.Cmd {
	return tea.Tick(time.Millisecond*750, func(_ time.Time) tea.Msg {
		return nil
	})
}

func (m pushCmdModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyEscape || msg.Type == tea.KeyCtrlC {
			m.cancel()
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.progress.Width = msg.Width - padding*2 - 4
		if m.progress.Width > maxWidth {
			m.progress.Width = maxWidth
		}
		return m, nil

	case outcomeMsg:
		m.received++
		m.recent = append(m.recent, formatOutcome(plm.OutcomeRecord(msg)))
		if len(m.recent) > visibleOutcomes {
			m.recent = m.recent[len(m.recent)-visibleOutcomes:]
		}
		return m, tea.Batch(m.progress.SetPercent(m.ratio()), m.listen)

	case pushErrMsg:
		m.recent = append(m.recent, warnStyle.Render(fmt.Sprintf("! %v", msg.err)))
		return m, m.listen

	case pushDoneMsg:
		// records published before the result may still be queued
		for len(m.publisher.recordChan) > 0 {
			m.received++
			m.recent = append(m.recent, formatOutcome(<-m.publisher.recordChan))
		}
		if len(m.recent) > visibleOutcomes {
			m.recent = m.recent[len(m.recent)-visibleOutcomes:]
		}
		m.done = true
		return m, tea.Sequence(m.progress.SetPercent(1.0), finalPause(), tea.Quit)

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m pushCmdModel) ratio() float64 {
	if m.total == 0 {
		return 1
	}
	return float64(m.received) / float64(m.total)
}

func (m pushCmdModel) View() string {
	pad := strings.Repeat(" ", padding)
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(pad + m.progress.View() + "\n")
	b.WriteString(pad + faintStyle.Render(fmt.Sprintf("%d/%d nodes", m.received, m.total)) + "\n\n")
	for _, line := range m.recent {
		b.WriteString(pad + line + "\n")
	}
	b.WriteString("\n" + pad + helpStyle("Press esc to stop after the current node"))
	return b.String()
}
