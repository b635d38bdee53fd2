package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/santiagomed/plmgen/plm"
	"github.com/santiagomed/plmgen/tree"
)

// ErrNotFound is returned when a batch id is unknown.
var ErrNotFound = errors.New("batch not found")

// Store keeps generated batches and push results in a sqlite database.
type Store struct {
	db      *sql.DB
	dataDir string
}

// Summary is a batch without its tree, for listings.
type Summary struct {
	ID        string
	Kind      tree.Kind
	Prompt    string
	Model     string
	Nodes     int
	CreatedAt time.Time
}

// PushOutcome is the stored form of plm.OutcomeRecord.
type PushOutcome struct {
	Node        string `json:"node"`
	Success     bool   `json:"success"`
	Linked      bool   `json:"linked"`
	ObjectUID   string `json:"object_uid,omitempty"`
	RevisionUID string `json:"revision_uid,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Push is one recorded materialization of a batch.
type Push struct {
	ID        int64
	BatchID   string
	PushedAt  time.Time
	FolderUID string
	Total     int
	Failed    int
	Orphaned  int
	Error     string
	Outcomes  []PushOutcome
}

// NewStore opens (and creates if needed) dataDir/history.db.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dataDir, "history.db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, dataDir: dataDir}
	if err := s.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize history: %w", err)
	}
	return s, nil
}

func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		prompt TEXT NOT NULL,
		model TEXT,
		nodes INTEGER NOT NULL DEFAULT 0,
		payload TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_batches_kind ON batches(kind, created_at);

	CREATE TABLE IF NOT EXISTS pushes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_id TEXT NOT NULL,
		pushed_at TIMESTAMP NOT NULL,
		folder_uid TEXT,
		total INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		orphaned INTEGER NOT NULL,
		error TEXT,
		outcomes TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pushes_batch ON pushes(batch_id);

	CREATE TABLE IF NOT EXISTS open_windows (
		server TEXT NOT NULL,
		window_uid TEXT NOT NULL,
		opened_at TIMESTAMP NOT NULL,
		PRIMARY KEY (server, window_uid)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveBatch inserts or replaces a batch.
func (s *Store) SaveBatch(b *tree.Batch) error {
	if b.ID == "" {
		return errors.New("batch id is required")
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}

	payload, err := json.Marshal(b.Roots)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	query := `
	INSERT OR REPLACE INTO batches (id, kind, prompt, model, nodes, payload, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.Exec(query, b.ID, string(b.Kind), b.Prompt, b.Model, tree.Count(b.Roots), string(payload), b.CreatedAt.UTC())
	return err
}

// GetBatch loads a batch with its tree.
func (s *Store) GetBatch(id string) (*tree.Batch, error) {
	query := `
	SELECT id, kind, prompt, model, payload, created_at
	FROM batches WHERE id = ?
	`

	b := &tree.Batch{}
	var kind, payload string
	var model sql.NullString
	err := s.db.QueryRow(query, id).Scan(&b.ID, &kind, &b.Prompt, &model, &payload, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	b.Kind = tree.Kind(kind)
	b.Model = model.String

	if err := json.Unmarshal([]byte(payload), &b.Roots); err != nil {
		return nil, fmt.Errorf("unmarshal batch %s: %w", id, err)
	}
	return b, nil
}

// ListBatches returns summaries newest first. An empty kind lists all kinds
// and a limit of zero or less means no limit.
func (s *Store) ListBatches(kind tree.Kind, limit int) ([]Summary, error) {
	query := `SELECT id, kind, prompt, model, nodes, created_at FROM batches`
	var args []interface{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var k string
		var model sql.NullString
		if err := rows.Scan(&sum.ID, &k, &sum.Prompt, &model, &sum.Nodes, &sum.CreatedAt); err != nil {
			return nil, err
		}
		sum.Kind = tree.Kind(k)
		sum.Model = model.String
		out = append(out, sum)
	}
	return out, rows.Err()
}

// DeleteBatch removes a batch and its push records.
func (s *Store) DeleteBatch(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM batches WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if _, err := tx.Exec(`DELETE FROM pushes WHERE batch_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordPush stores the outcome of materializing batchID.
func (s *Store) RecordPush(batchID string, r *plm.Report) (int64, error) {
	outcomes := make([]PushOutcome, 0, len(r.Records))
	for _, rec := range r.Records {
		o := PushOutcome{
			Node:        rec.NodeName,
			Success:     rec.Success,
			Linked:      rec.Linked,
			ObjectUID:   rec.ObjectUID,
			RevisionUID: rec.RevisionUID,
		}
		if rec.Err != nil {
			o.Error = rec.Err.Error()
		}
		outcomes = append(outcomes, o)
	}
	payload, err := json.Marshal(outcomes)
	if err != nil {
		return 0, fmt.Errorf("marshal outcomes: %w", err)
	}

	var folderUID, runErr string
	if r.Folder != nil {
		folderUID = r.Folder.UID
	}
	if r.Err != nil {
		runErr = r.Err.Error()
	}

	query := `
	INSERT INTO pushes (batch_id, pushed_at, folder_uid, total, failed, orphaned, error, outcomes)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := s.db.Exec(query, batchID, time.Now().UTC(), folderUID, len(r.Records),
		len(r.Failed()), len(r.Orphaned()), runErr, string(payload))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListPushes returns the pushes of batchID, newest first.
func (s *Store) ListPushes(batchID string) ([]Push, error) {
	query := `
	SELECT id, batch_id, pushed_at, folder_uid, total, failed, orphaned, error, outcomes
	FROM pushes WHERE batch_id = ? ORDER BY id DESC
	`

	rows, err := s.db.Query(query, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Push
	for rows.Next() {
		var p Push
		var folderUID, runErr sql.NullString
		var outcomes string
		err := rows.Scan(&p.ID, &p.BatchID, &p.PushedAt, &folderUID,
			&p.Total, &p.Failed, &p.Orphaned, &runErr, &outcomes)
		if err != nil {
			return nil, err
		}
		p.FolderUID = folderUID.String
		p.Error = runErr.String
		if err := json.Unmarshal([]byte(outcomes), &p.Outcomes); err != nil {
			return nil, fmt.Errorf("unmarshal outcomes: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// OpenWindows returns the structure windows a push left open on server,
// oldest first.
func (s *Store) OpenWindows(server string) ([]string, error) {
	rows, err := s.db.Query(`SELECT window_uid FROM open_windows WHERE server = ? ORDER BY opened_at, window_uid`, server)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetOpenWindows replaces the windows recorded as open on server.
func (s *Store) SetOpenWindows(server string, ids []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM open_windows WHERE server = ?`, server); err != nil {
		return err
	}
	now := time.Now()
	for _, id := range ids {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO open_windows (server, window_uid, opened_at) VALUES (?, ?, ?)`, server, id, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}
