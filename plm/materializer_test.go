package plm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/santiagomed/plmgen/logger"
	"github.com/santiagomed/plmgen/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRemote implements every collaborator. Calls are recorded with the
// identifying arguments only so expectations stay readable.
type MockRemote struct {
	mock.Mock
}

func (m *MockRemote) Login(ctx context.Context, creds Credentials) (*Session, error) {
	args := m.Called(creds.Username)
	s, _ := args.Get(0).(*Session)
	return s, args.Error(1)
}

func (m *MockRemote) CreateContainer(ctx context.Context, s *Session, req ContainerRequest) (*Container, error) {
	args := m.Called(req.Name)
	c, _ := args.Get(0).(*Container)
	return c, args.Error(1)
}

func (m *MockRemote) CreateItem(ctx context.Context, s *Session, container *Container, spec ItemSpec) (*CreatedObject, error) {
	args := m.Called(spec.Name)
	o, _ := args.Get(0).(*CreatedObject)
	return o, args.Error(1)
}

func (m *MockRemote) Open(ctx context.Context, s *Session, objectUID, revisionUID string, rule RuleParams) (*Window, error) {
	args := m.Called(objectUID, revisionUID)
	w, _ := args.Get(0).(*Window)
	return w, args.Error(1)
}

func (m *MockRemote) AttachChild(ctx context.Context, s *Session, parentLineID, childRevisionUID string) (string, error) {
	args := m.Called(parentLineID, childRevisionUID)
	return args.String(0), args.Error(1)
}

func (m *MockRemote) Save(ctx context.Context, s *Session, windowID string) ([]string, error) {
	args := m.Called(windowID)
	return nil, args.Error(0)
}

func (m *MockRemote) Close(ctx context.Context, s *Session) ([]string, error) {
	args := m.Called()
	closed, _ := args.Get(0).([]string)
	return closed, args.Error(1)
}

func (m *MockRemote) collaborators() Collaborators {
	return Collaborators{Sessions: m, Containers: m, Objects: m, Windows: m}
}

// recordingPublisher keeps everything it is sent.
type recordingPublisher struct {
	outcomes []OutcomeRecord
	errs     []error
}

func (p *recordingPublisher) PublishOutcome(rec OutcomeRecord) { p.outcomes = append(p.outcomes, rec) }
func (p *recordingPublisher) Error(err error)                  { p.errs = append(p.errs, err) }

var folder = &Container{UID: "fld", ClassName: "Folder", ObjectType: "Folder"}

func newRemote() *MockRemote {
	m := new(MockRemote)
	m.On("Login", "alice").Return(&Session{Token: "tok", Username: "alice"}, nil)
	return m
}

func expectItem(m *MockRemote, name string) {
	m.On("CreateItem", name).Return(&CreatedObject{ObjectUID: "obj-" + name, RevisionUID: "rev-" + name}, nil).Once()
}

func newMaterializer(m *MockRemote, pub OutcomePublisher) *Materializer {
	return NewMaterializer(m.collaborators(), Config{
		Credentials:  Credentials{Username: "alice", Password: "secret"},
		ParentFolder: Container{UID: "home", ClassName: "Folder", ObjectType: "Folder"},
		Rule:         DefaultRuleParams(),
	}, pub, logger.NewNullLogger())
}

func outcomes(r *Report) []struct {
	Name    string
	Success bool
} {
	var out []struct {
		Name    string
		Success bool
	}
	for _, rec := range r.Records {
		out = append(out, struct {
			Name    string
			Success bool
		}{rec.NodeName, rec.Success})
	}
	return out
}

func names(r *Report) []string {
	var out []string
	for _, rec := range r.Records {
		out = append(out, rec.NodeName)
	}
	return out
}

func TestMaterializer_WidgetAllSucceed(t *testing.T) {
	m := newRemote()
	m.On("Close").Return([]string{}, nil).Twice()
	m.On("CreateContainer", "Widget").Return(folder, nil).Once()
	expectItem(m, "Widget")
	expectItem(m, "A")
	expectItem(m, "B")
	m.On("Open", "obj-Widget", "rev-Widget").Return(&Window{ID: "win", RootLineID: "line-root"}, nil).Once()
	m.On("AttachChild", "line-root", "rev-A").Return("line-A", nil).Once()
	m.On("AttachChild", "line-root", "rev-B").Return("line-B", nil).Once()
	m.On("Save", "win").Return(nil).Once()

	pub := &recordingPublisher{}
	roots := []*tree.LabeledNode{tree.NewNode("Widget", "", tree.NewNode("A", ""), tree.NewNode("B", ""))}
	report, err := newMaterializer(m, pub).Run(context.Background(), Request{Roots: roots, Structure: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"Widget", "A", "B"}, names(report))
	for _, rec := range report.Records {
		assert.True(t, rec.Success)
		assert.True(t, rec.Linked)
		assert.NoError(t, rec.Err)
	}
	assert.Equal(t, "line-A", report.Records[1].LineID)
	assert.False(t, report.HasFailures())
	assert.Equal(t, folder, report.Folder)
	assert.Equal(t, report.Records, pub.outcomes)

	m.AssertNumberOfCalls(t, "Open", 1)
	m.AssertNumberOfCalls(t, "AttachChild", 2)
	m.AssertExpectations(t)
}

func TestMaterializer_DisabledChildIsNeverTouched(t *testing.T) {
	m := newRemote()
	m.On("Close").Return([]string{}, nil).Twice()
	m.On("CreateContainer", "Root").Return(folder, nil)
	expectItem(m, "Root")
	m.On("Open", "obj-Root", "rev-Root").Return(&Window{ID: "win", RootLineID: "line-root"}, nil)
	m.On("Save", "win").Return(nil)

	a := tree.NewNode("A", "", tree.NewNode("A1", ""))
	a.Enabled = false
	roots := []*tree.LabeledNode{tree.NewNode("Root", "", a)}

	report, err := newMaterializer(m, nil).Run(context.Background(), Request{Roots: roots, Structure: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"Root"}, names(report))
	m.AssertNotCalled(t, "CreateItem", "A")
	m.AssertNotCalled(t, "CreateItem", "A1")
	m.AssertNumberOfCalls(t, "AttachChild", 0)
}

func TestMaterializer_ContainerFailureFailsEveryEnabledNode(t *testing.T) {
	m := newRemote()
	m.On("Close").Return([]string{}, nil).Once()
	m.On("CreateContainer", "batch").Return(nil, errors.New("403")).Once()

	b := tree.NewNode("B", "")
	b.Enabled = false
	roots := []*tree.LabeledNode{tree.NewNode("Root", "", tree.NewNode("A", ""), b)}

	pub := &recordingPublisher{}
	report, err := newMaterializer(m, pub).Run(context.Background(), Request{Roots: roots, FolderName: "batch", Structure: true})
	require.NoError(t, err)

	assert.ErrorIs(t, report.Err, ErrContainer)
	assert.Equal(t, []string{"Root", "A"}, names(report))
	for _, rec := range report.Records {
		assert.False(t, rec.Success)
		assert.ErrorIs(t, rec.Err, ErrContainer)
	}
	assert.Nil(t, report.Folder)
	assert.Len(t, pub.errs, 1)
	m.AssertNumberOfCalls(t, "CreateItem", 0)
	m.AssertNumberOfCalls(t, "Close", 1)
}

func TestMaterializer_NilContainerIsAFailure(t *testing.T) {
	m := newRemote()
	m.On("Close").Return([]string{}, nil)
	m.On("CreateContainer", "Root").Return(nil, nil)

	report, err := newMaterializer(m, nil).Run(context.Background(), Request{Roots: []*tree.LabeledNode{tree.NewNode("Root", "")}})
	require.NoError(t, err)

	assert.ErrorIs(t, report.Err, ErrContainer)
	assert.Len(t, report.Failed(), 1)
	m.AssertNumberOfCalls(t, "CreateItem", 0)
}

func TestMaterializer_AuthFailureStopsEverything(t *testing.T) {
	m := new(MockRemote)
	m.On("Login", "alice").Return(nil, errors.New("bad password"))

	roots := []*tree.LabeledNode{tree.NewNode("Root", "", tree.NewNode("A", ""))}
	report, err := newMaterializer(m, nil).Run(context.Background(), Request{Roots: roots, Structure: true})
	require.NoError(t, err)

	assert.ErrorIs(t, report.Err, ErrAuth)
	assert.Len(t, report.Failed(), 2)
	assert.True(t, report.HasFailures())
	m.AssertNotCalled(t, "Close")
	m.AssertNumberOfCalls(t, "CreateContainer", 0)
	m.AssertNumberOfCalls(t, "CreateItem", 0)
}

func TestMaterializer_CreationFailurePrunesSubtree(t *testing.T) {
	m := newRemote()
	m.On("Close").Return([]string{}, nil)
	m.On("CreateContainer", "Root").Return(folder, nil)
	expectItem(m, "Root")
	m.On("CreateItem", "A").Return(nil, errors.New("duplicate")).Once()
	expectItem(m, "B")
	m.On("Open", "obj-Root", "rev-Root").Return(&Window{ID: "win", RootLineID: "line-root"}, nil)
	m.On("AttachChild", "line-root", "rev-B").Return("line-B", nil)
	m.On("Save", "win").Return(nil)

	roots := []*tree.LabeledNode{tree.NewNode("Root", "",
		tree.NewNode("A", "", tree.NewNode("A1", ""), tree.NewNode("A2", "")),
		tree.NewNode("B", ""),
	)}
	report, err := newMaterializer(m, nil).Run(context.Background(), Request{Roots: roots, Structure: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"Root", "A", "B"}, names(report))
	assert.False(t, report.Records[1].Success)
	assert.ErrorIs(t, report.Records[1].Err, ErrCreate)
	assert.True(t, report.Records[2].Success)
	m.AssertNotCalled(t, "CreateItem", "A1")
	m.AssertNotCalled(t, "CreateItem", "A2")
}

func TestMaterializer_PartialIdentifiersAreAFailure(t *testing.T) {
	m := newRemote()
	m.On("Close").Return([]string{}, nil)
	m.On("CreateContainer", "Root").Return(folder, nil)
	m.On("CreateItem", "Root").Return(&CreatedObject{ObjectUID: "obj"}, nil)

	roots := []*tree.LabeledNode{tree.NewNode("Root", "", tree.NewNode("A", ""))}
	report, err := newMaterializer(m, nil).Run(context.Background(), Request{Roots: roots, Structure: true})
	require.NoError(t, err)

	require.Len(t, report.Records, 1)
	assert.False(t, report.Records[0].Success)
	assert.ErrorIs(t, report.Records[0].Err, ErrCreate)
	m.AssertNotCalled(t, "Open", mock.Anything, mock.Anything)
}

func TestMaterializer_LinkFailureKeepsCreationSuccessAndCascades(t *testing.T) {
	m := newRemote()
	m.On("Close").Return([]string{}, nil)
	m.On("CreateContainer", "Root").Return(folder, nil)
	expectItem(m, "Root")
	expectItem(m, "A")
	expectItem(m, "A1")
	m.On("Open", "obj-Root", "rev-Root").Return(&Window{ID: "win", RootLineID: "line-root"}, nil)
	m.On("AttachChild", "line-root", "rev-A").Return("", errors.New("not allowed")).Once()
	m.On("AttachChild", "", "rev-A1").Return("", errors.New("no parent line")).Once()
	m.On("Save", "win").Return(nil)

	roots := []*tree.LabeledNode{tree.NewNode("Root", "", tree.NewNode("A", "", tree.NewNode("A1", "")))}
	report, err := newMaterializer(m, nil).Run(context.Background(), Request{Roots: roots, Structure: true})
	require.NoError(t, err)

	require.Equal(t, []string{"Root", "A", "A1"}, names(report))
	for _, rec := range report.Records[1:] {
		assert.True(t, rec.Success, rec.NodeName)
		assert.False(t, rec.Linked, rec.NodeName)
		assert.ErrorIs(t, rec.Err, ErrLink)
		assert.True(t, rec.Orphaned())
	}
	assert.Empty(t, report.Failed())
	assert.Len(t, report.Orphaned(), 2)
	assert.True(t, report.HasFailures())
	m.AssertExpectations(t)
}

func TestMaterializer_RootWindowFailureSkipsChildren(t *testing.T) {
	m := newRemote()
	m.On("Close").Return([]string{}, nil)
	m.On("CreateContainer", "Root").Return(folder, nil)
	expectItem(m, "Root")
	m.On("Open", "obj-Root", "rev-Root").Return(nil, errors.New("no bom view"))

	roots := []*tree.LabeledNode{tree.NewNode("Root", "", tree.NewNode("A", ""))}
	report, err := newMaterializer(m, nil).Run(context.Background(), Request{Roots: roots, Structure: true})
	require.NoError(t, err)

	require.Len(t, report.Records, 1)
	assert.True(t, report.Records[0].Success)
	assert.False(t, report.Records[0].Linked)
	assert.ErrorIs(t, report.Records[0].Err, ErrWindow)
	m.AssertNotCalled(t, "CreateItem", "A")
	m.AssertNotCalled(t, "Save", mock.Anything)
}

func TestMaterializer_OneWindowPerRoot(t *testing.T) {
	m := newRemote()
	m.On("Close").Return([]string{}, nil).Twice()
	m.On("CreateContainer", "P").Return(folder, nil)
	for _, n := range []string{"P", "P1", "P2", "P21", "Q", "Q1"} {
		expectItem(m, n)
	}
	m.On("Open", "obj-P", "rev-P").Return(&Window{ID: "win-P", RootLineID: "line-P"}, nil).Once()
	m.On("Open", "obj-Q", "rev-Q").Return(&Window{ID: "win-Q", RootLineID: "line-Q"}, nil).Once()
	m.On("AttachChild", "line-P", "rev-P1").Return("line-P1", nil)
	m.On("AttachChild", "line-P", "rev-P2").Return("line-P2", nil)
	m.On("AttachChild", "line-P2", "rev-P21").Return("line-P21", nil)
	m.On("AttachChild", "line-Q", "rev-Q1").Return("line-Q1", nil)
	m.On("Save", "win-P").Return(nil).Once()
	m.On("Save", "win-Q").Return(nil).Once()

	roots := []*tree.LabeledNode{
		tree.NewNode("P", "", tree.NewNode("P1", ""), tree.NewNode("P2", "", tree.NewNode("P21", ""))),
		tree.NewNode("Q", "", tree.NewNode("Q1", "")),
	}
	report, err := newMaterializer(m, nil).Run(context.Background(), Request{Roots: roots, Structure: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"P", "P1", "P2", "P21", "Q", "Q1"}, names(report))
	assert.Equal(t, tree.CountEnabled(roots), len(report.Records))
	m.AssertNumberOfCalls(t, "Open", 2)
	m.AssertExpectations(t)
}

func TestMaterializer_FlatModeOpensNoWindows(t *testing.T) {
	m := newRemote()
	m.On("Close").Return([]string{}, nil).Twice()
	m.On("CreateContainer", "items").Return(folder, nil)
	expectItem(m, "Bolt")
	expectItem(m, "Nut")

	roots := []*tree.LabeledNode{tree.NewNode("Bolt", ""), tree.NewNode("Nut", "")}
	report, err := newMaterializer(m, nil).Run(context.Background(), Request{Roots: roots, FolderName: "items"})
	require.NoError(t, err)

	assert.Equal(t, []string{"Bolt", "Nut"}, names(report))
	assert.False(t, report.HasFailures())
	m.AssertNotCalled(t, "Open", mock.Anything, mock.Anything)
	m.AssertNumberOfCalls(t, "AttachChild", 0)
}

func TestMaterializer_WindowErrorsDoNotChangeRecords(t *testing.T) {
	m := new(MockRemote)
	m.On("Login", "alice").Return(&Session{Token: "tok"}, nil)
	m.On("Close").Return(nil, errors.New("stale session")).Once()
	m.On("Close").Return(nil, errors.New("gone")).Once()
	m.On("CreateContainer", "Root").Return(folder, nil)
	expectItem(m, "Root")
	m.On("Open", "obj-Root", "rev-Root").Return(&Window{ID: "win", RootLineID: "line-root"}, nil)
	m.On("Save", "win").Return(errors.New("locked"))

	report, err := newMaterializer(m, nil).Run(context.Background(), Request{Roots: []*tree.LabeledNode{tree.NewNode("Root", "")}, Structure: true})
	require.NoError(t, err)

	require.Len(t, report.Records, 1)
	assert.True(t, report.Records[0].Success)
	assert.NoError(t, report.Err)
	require.Len(t, report.WindowErrors, 2)
	for _, e := range report.WindowErrors {
		assert.ErrorIs(t, e, ErrWindow)
	}
	assert.False(t, report.HasFailures())
	assert.Contains(t, report.Summary(), "2 window errors")
}

func TestMaterializer_CancelledContextRecordsRemainingAsFailed(t *testing.T) {
	m := newRemote()
	m.On("Close").Return([]string{}, nil)
	m.On("CreateContainer", "Root").Return(folder, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	roots := []*tree.LabeledNode{tree.NewNode("Root", "", tree.NewNode("A", ""))}
	report, err := newMaterializer(m, nil).Run(ctx, Request{Roots: roots, Structure: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"Root", "A"}, names(report))
	for _, rec := range report.Records {
		assert.False(t, rec.Success)
		assert.ErrorIs(t, rec.Err, context.Canceled)
	}
	m.AssertNumberOfCalls(t, "CreateItem", 0)
}

// ctxWindows fails window calls made on a done context, like a real transport.
type ctxWindows struct {
	*MockRemote
}

func (w ctxWindows) Save(ctx context.Context, s *Session, windowID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return w.MockRemote.Save(ctx, s, windowID)
}

func (w ctxWindows) Close(ctx context.Context, s *Session) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return w.MockRemote.Close(ctx, s)
}

func TestMaterializer_CancelMidRunStillSavesAndClosesWindows(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := newRemote()
	m.On("Close").Return([]string{"win"}, nil).Twice()
	m.On("CreateContainer", "Root").Return(folder, nil)
	expectItem(m, "Root")
	m.On("CreateItem", "A").Run(func(mock.Arguments) { cancel() }).
		Return(&CreatedObject{ObjectUID: "obj-A", RevisionUID: "rev-A"}, nil).Once()
	m.On("Open", "obj-Root", "rev-Root").Return(&Window{ID: "win", RootLineID: "line-root"}, nil)
	m.On("AttachChild", "line-root", "rev-A").Return("line-A", nil)
	m.On("Save", "win").Return(nil).Once()

	windows := ctxWindows{m}
	mat := NewMaterializer(Collaborators{Sessions: m, Containers: m, Objects: m, Windows: windows}, Config{
		Credentials:  Credentials{Username: "alice", Password: "secret"},
		ParentFolder: Container{UID: "home"},
	}, nil, nil)
	assert.IsType(t, DefaultOutcomePublisher{}, mat.publisher)

	roots := []*tree.LabeledNode{tree.NewNode("Root", "", tree.NewNode("A", ""), tree.NewNode("B", ""))}
	report, err := mat.Run(ctx, Request{Roots: roots, Structure: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"Root", "A", "B"}, names(report))
	assert.False(t, report.Records[2].Success)
	assert.ErrorIs(t, report.Records[2].Err, context.Canceled)
	assert.Empty(t, report.WindowErrors)
	m.AssertNumberOfCalls(t, "Save", 1)
	m.AssertNumberOfCalls(t, "Close", 2)
	m.AssertNotCalled(t, "CreateItem", "B")
}

func TestMaterializer_RejectsConcurrentRun(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	m := new(MockRemote)
	m.On("Login", "alice").Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(nil, errors.New("down"))

	mat := newMaterializer(m, nil)
	done := make(chan *Report)
	go func() {
		r, _ := mat.Run(context.Background(), Request{Roots: []*tree.LabeledNode{tree.NewNode("Root", "")}})
		done <- r
	}()

	<-started
	assert.True(t, mat.Running())
	_, err := mat.Run(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(release)
	select {
	case r := <-done:
		assert.ErrorIs(t, r.Err, ErrAuth)
	case <-time.After(5 * time.Second):
		t.Fatal("first run did not finish")
	}
	assert.False(t, mat.Running())
}

func TestMaterializer_DefaultObjectTypeAndOrderedOutcomes(t *testing.T) {
	var specs []ItemSpec
	m := newRemote()
	m.On("Close").Return([]string{}, nil)
	m.On("CreateContainer", "Root").Return(folder, nil)
	objects := &specRecorder{MockRemote: m, specs: &specs}
	expectItem(m, "Root")
	expectItem(m, "Gear")

	gear := tree.NewNode("Gear", "spur gear")
	gear.ObjectType = "Part"
	roots := []*tree.LabeledNode{tree.NewNode("Root", ""), gear}

	mat := NewMaterializer(Collaborators{Sessions: m, Containers: m, Objects: objects, Windows: m}, Config{
		Credentials: Credentials{Username: "alice"},
	}, nil, nil)
	report, err := mat.Run(context.Background(), Request{Roots: roots})
	require.NoError(t, err)

	assert.Equal(t, []struct {
		Name    string
		Success bool
	}{{"Root", true}, {"Gear", true}}, outcomes(report))
	require.Len(t, specs, 2)
	assert.Equal(t, DefaultObjectType, specs[0].ObjectType)
	assert.Equal(t, "Part", specs[1].ObjectType)
	assert.Equal(t, "spur gear", specs[1].Description)
}

type specRecorder struct {
	*MockRemote
	specs *[]ItemSpec
}

func (s *specRecorder) CreateItem(ctx context.Context, sess *Session, c *Container, spec ItemSpec) (*CreatedObject, error) {
	*s.specs = append(*s.specs, spec)
	return s.MockRemote.CreateItem(ctx, sess, c, spec)
}
