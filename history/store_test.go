package history

import (
	"errors"
	"testing"
	"time"

	"github.com/santiagomed/plmgen/plm"
	"github.com/santiagomed/plmgen/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func widgetBatch(id string, created time.Time) *tree.Batch {
	bolt := tree.NewNode("Bolt", "M8 bolt")
	bolt.Enabled = false
	return &tree.Batch{
		ID:     id,
		Kind:   tree.KindBOM,
		Prompt: "a widget",
		Model:  "gpt-4o-mini",
		Roots: []*tree.LabeledNode{
			tree.NewNode("Widget", "", tree.NewNode("Housing", ""), bolt),
		},
		CreatedAt: created,
	}
}

func TestSaveAndGetBatch(t *testing.T) {
	s := newTestStore(t)
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveBatch(widgetBatch("b1", created)))

	got, err := s.GetBatch("b1")
	require.NoError(t, err)
	assert.Equal(t, tree.KindBOM, got.Kind)
	assert.Equal(t, "a widget", got.Prompt)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.True(t, created.Equal(got.CreatedAt))
	require.Len(t, got.Roots, 1)
	require.Len(t, got.Roots[0].Children, 2)
	assert.True(t, got.Roots[0].Enabled)
	assert.False(t, got.Roots[0].Children[1].Enabled)

	_, err = s.GetBatch("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSaveBatchRequiresID(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.SaveBatch(&tree.Batch{Kind: tree.KindItems}))
}

func TestListBatches(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveBatch(widgetBatch("b1", base)))
	require.NoError(t, s.SaveBatch(widgetBatch("b2", base.Add(time.Hour))))
	require.NoError(t, s.SaveBatch(&tree.Batch{
		ID:        "i1",
		Kind:      tree.KindItems,
		Prompt:    "fasteners",
		Roots:     []*tree.LabeledNode{tree.NewNode("Washer", "")},
		CreatedAt: base.Add(2 * time.Hour),
	}))

	all, err := s.ListBatches("", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"i1", "b2", "b1"}, []string{all[0].ID, all[1].ID, all[2].ID})
	assert.Equal(t, 3, all[1].Nodes)

	boms, err := s.ListBatches(tree.KindBOM, 1)
	require.NoError(t, err)
	require.Len(t, boms, 1)
	assert.Equal(t, "b2", boms[0].ID)
}

func TestDeleteBatch(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveBatch(widgetBatch("b1", time.Now())))
	_, err := s.RecordPush("b1", &plm.Report{})
	require.NoError(t, err)

	require.NoError(t, s.DeleteBatch("b1"))

	_, err = s.GetBatch("b1")
	assert.True(t, errors.Is(err, ErrNotFound))
	pushes, err := s.ListPushes("b1")
	require.NoError(t, err)
	assert.Empty(t, pushes)

	assert.True(t, errors.Is(s.DeleteBatch("b1"), ErrNotFound))
}

func TestRecordPush(t *testing.T) {
	s := newTestStore(t)

	report := &plm.Report{
		Folder: &plm.Container{UID: "F1"},
		Records: []plm.OutcomeRecord{
			{NodeName: "Widget", Success: true, Linked: true, ObjectUID: "I1", RevisionUID: "R1"},
			{NodeName: "Housing", Success: true, ObjectUID: "I2", RevisionUID: "R2", Err: plm.ErrLink},
			{NodeName: "Shaft", Err: plm.ErrCreate},
		},
	}
	id, err := s.RecordPush("b1", report)
	require.NoError(t, err)
	assert.NotZero(t, id)

	_, err = s.RecordPush("b1", &plm.Report{Err: plm.ErrAuth})
	require.NoError(t, err)

	pushes, err := s.ListPushes("b1")
	require.NoError(t, err)
	require.Len(t, pushes, 2)

	assert.Equal(t, plm.ErrAuth.Error(), pushes[0].Error)
	assert.Empty(t, pushes[0].FolderUID)

	p := pushes[1]
	assert.Equal(t, id, p.ID)
	assert.Equal(t, "F1", p.FolderUID)
	assert.Equal(t, 3, p.Total)
	assert.Equal(t, 1, p.Failed)
	assert.Equal(t, 1, p.Orphaned)
	require.Len(t, p.Outcomes, 3)
	assert.Equal(t, "I1", p.Outcomes[0].ObjectUID)
	assert.Equal(t, plm.ErrLink.Error(), p.Outcomes[1].Error)
	assert.False(t, p.Outcomes[2].Success)
}

func TestStoreReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.SaveBatch(widgetBatch("b1", time.Now())))
	require.NoError(t, s.Close())

	s, err = NewStore(dir)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.GetBatch("b1")
	assert.NoError(t, err)
}

func TestOpenWindows(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	ids, err := s.OpenWindows("http://plm/tc")
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, s.SetOpenWindows("http://plm/tc", []string{"w1", "w2", "w1"}))
	require.NoError(t, s.SetOpenWindows("http://other/tc", []string{"w9"}))

	ids, err = s.OpenWindows("http://plm/tc")
	require.NoError(t, err)
	assert.Equal(t, []string{"w1", "w2"}, ids)

	require.NoError(t, s.SetOpenWindows("http://plm/tc", nil))
	ids, err = s.OpenWindows("http://plm/tc")
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = s.OpenWindows("http://other/tc")
	require.NoError(t, err)
	assert.Equal(t, []string{"w9"}, ids)
}
