package plm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/santiagomed/plmgen/logger"
	"github.com/santiagomed/plmgen/tree"
)

// windowTeardownTimeout bounds the save and close calls that end a run.
const windowTeardownTimeout = 30 * time.Second

// Config holds the per-installation settings a run needs.
type Config struct {
	Credentials       Credentials
	ParentFolder      Container
	Rule              RuleParams
	DefaultObjectType string
}

// Request is one materialization run.
type Request struct {
	Roots             []*tree.LabeledNode
	FolderName        string
	FolderDescription string
	// Structure opens a window per root and links children as lines. When
	// false every enabled node is created as a standalone item.
	Structure bool
}

// Materializer creates a tree of remote objects, one run at a time.
type Materializer struct {
	remote    Collaborators
	cfg       Config
	publisher OutcomePublisher
	logger    logger.Logger
	running   atomic.Bool
}

func NewMaterializer(remote Collaborators, cfg Config, pub OutcomePublisher, l logger.Logger) *Materializer {
	if pub == nil {
		pub = DefaultOutcomePublisher{}
	}
	if l == nil {
		l = logger.NewNullLogger()
	}
	if cfg.DefaultObjectType == "" {
		cfg.DefaultObjectType = DefaultObjectType
	}
	return &Materializer{
		remote:    remote,
		cfg:       cfg,
		publisher: pub,
		logger:    l,
	}
}

// Run materializes req.Roots and always returns a report for a started run.
// The error result is reserved for runs that could not start (ErrRunInProgress);
// login and container failures are reported through Report.Err with every
// enabled node recorded as failed.
func (m *Materializer) Run(ctx context.Context, req Request) (*Report, error) {
	if !m.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer m.running.Store(false)

	start := time.Now()
	report := &Report{}
	log := m.logger.WithField("roots", len(req.Roots))
	log.Info(fmt.Sprintf("Starting materialization of %d nodes", tree.CountEnabled(req.Roots)))

	session, err := m.remote.Sessions.Login(ctx, m.cfg.Credentials)
	if err == nil && session == nil {
		err = errors.New("no session returned")
	}
	if err != nil {
		m.abort(report, req.Roots, wrap(ErrAuth, err, ""))
		logger.WithError(log, report.Err).Error("Login failed, nothing was created")
		return report, nil
	}

	// A window left open by an earlier run would otherwise leak server-side.
	if closed, err := m.remote.Windows.Close(ctx, session); err != nil {
		logger.WithError(log, err).Debug("Pre-run window cleanup failed")
	} else if len(closed) > 0 {
		log.Debug(fmt.Sprintf("Closed %d stale windows", len(closed)))
	}

	folder, err := m.remote.Containers.CreateContainer(ctx, session, ContainerRequest{
		Name:        m.folderName(req),
		Description: req.FolderDescription,
		Parent:      m.cfg.ParentFolder,
	})
	if err == nil && (folder == nil || folder.UID == "") {
		err = errors.New("no folder returned")
	}
	if err != nil {
		m.abort(report, req.Roots, wrap(ErrContainer, err, ""))
		logger.WithError(log, report.Err).Error("Folder creation failed, nothing was created")
		return report, nil
	}
	report.Folder = folder

	r := &run{
		m:         m,
		session:   session,
		folder:    folder,
		report:    report,
		structure: req.Structure,
		log:       log,
	}
	r.process(ctx, req.Roots)

	// Windows opened before a cancel must still be saved and released.
	tailCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), windowTeardownTimeout)
	defer cancel()
	for _, w := range r.windows {
		if _, err := m.remote.Windows.Save(tailCtx, session, w.ID); err != nil {
			m.windowError(report, wrap(ErrWindow, err, ""), fmt.Sprintf("save window %s", w.ID))
		}
	}
	if _, err := m.remote.Windows.Close(tailCtx, session); err != nil {
		m.windowError(report, wrap(ErrWindow, err, ""), "close windows")
	}

	log.Info(fmt.Sprintf("Materialization finished in %v: %s", time.Since(start), report.Summary()))
	return report, nil
}

// Running reports whether a run is in flight.
func (m *Materializer) Running() bool {
	return m.running.Load()
}

func (m *Materializer) folderName(req Request) string {
	if req.FolderName != "" {
		return req.FolderName
	}
	for _, r := range req.Roots {
		if r != nil && r.Name != "" {
			return r.Name
		}
	}
	return "plmgen"
}

// abort records every enabled node as failed without touching the remote side.
func (m *Materializer) abort(report *Report, roots []*tree.LabeledNode, err error) {
	report.Err = err
	m.publisher.Error(err)
	tree.WalkEnabled(roots, func(n *tree.LabeledNode, _ int) {
		m.record(report, OutcomeRecord{NodeName: n.Name, Err: err})
	})
}

func (m *Materializer) windowError(report *Report, err error, action string) {
	err = fmt.Errorf("%s: %w", action, err)
	report.WindowErrors = append(report.WindowErrors, err)
	m.publisher.Error(err)
	logger.WithError(m.logger, err).Warn("Structure window operation failed")
}

func (m *Materializer) record(report *Report, rec OutcomeRecord) {
	report.add(rec)
	m.publisher.PublishOutcome(rec)
}

// frame is a pending node. root frames have no parent line; parentLine may
// also be empty for a child whose parent failed to link.
type frame struct {
	node       *tree.LabeledNode
	parentLine string
	root       bool
}

type run struct {
	m         *Materializer
	session   *Session
	folder    *Container
	report    *Report
	structure bool
	windows   []*Window
	log       logger.Logger
}

// process walks roots depth-first in pre-order over an explicit stack.
func (r *run) process(ctx context.Context, roots []*tree.LabeledNode) {
	stack := make([]frame, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{node: roots[i], root: true})
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.node == nil || !f.node.Enabled {
			continue
		}

		var lineID string
		if err := ctx.Err(); err != nil {
			r.m.record(r.report, OutcomeRecord{NodeName: f.node.Name, Err: err})
		} else {
			var descend bool
			lineID, descend = r.visit(ctx, f)
			if !descend {
				continue
			}
		}

		children := f.node.Children
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: children[i], parentLine: lineID})
		}
	}
}

// visit creates one node and places it in the structure. It returns the
// node's line and whether its children should be processed.
func (r *run) visit(ctx context.Context, f frame) (string, bool) {
	n := f.node
	log := r.log.WithField("node", n.Name)

	objectType := n.ObjectType
	if objectType == "" {
		objectType = r.m.cfg.DefaultObjectType
	}
	obj, err := r.m.remote.Objects.CreateItem(ctx, r.session, r.folder, ItemSpec{
		Name:        n.Name,
		ObjectType:  objectType,
		Description: n.Description,
	})
	if err == nil && !obj.Complete() {
		err = errors.New("incomplete identifiers returned")
	}
	rec := OutcomeRecord{NodeName: n.Name}
	if err != nil {
		rec.Err = wrap(ErrCreate, err, "")
		logger.WithError(log, rec.Err).Warn("Item creation failed, skipping subtree")
		r.m.record(r.report, rec)
		return "", false
	}
	rec.Success = true
	rec.ObjectUID = obj.ObjectUID
	rec.RevisionUID = obj.RevisionUID

	if !r.structure {
		r.m.record(r.report, rec)
		return "", true
	}

	if f.root {
		w, err := r.m.remote.Windows.Open(ctx, r.session, obj.ObjectUID, obj.RevisionUID, r.m.cfg.Rule)
		if err == nil && (w == nil || w.RootLineID == "") {
			if w != nil {
				r.windows = append(r.windows, w)
			}
			err = errors.New("no root line returned")
		}
		if err != nil {
			rec.Err = wrap(ErrWindow, err, "")
			logger.WithError(log, rec.Err).Warn("Could not open structure window, children skipped")
			r.m.record(r.report, rec)
			return "", false
		}
		r.windows = append(r.windows, w)
		rec.Linked = true
		rec.LineID = w.RootLineID
		r.m.record(r.report, rec)
		return w.RootLineID, true
	}

	lineID, err := r.m.remote.Windows.AttachChild(ctx, r.session, f.parentLine, obj.RevisionUID)
	if err == nil && lineID == "" {
		err = errors.New("no line returned")
	}
	if err != nil {
		// The node exists remotely; its children still try to attach and
		// fail in turn because they have no parent line.
		rec.Err = wrap(ErrLink, err, "")
		logger.WithError(log, rec.Err).Warn("Item created but not linked")
		r.m.record(r.report, rec)
		return "", true
	}
	rec.Linked = true
	rec.LineID = lineID
	r.m.record(r.report, rec)
	log.Debug("Item created and linked")
	return lineID, true
}
