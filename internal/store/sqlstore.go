package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"codescribe/internal/facts"

	_ "modernc.org/sqlite"
)

// nowUTC returns the current UTC time as an ISO 8601 string.
func nowUTC() string { return time.Now().UTC().Format(time.RFC3339) }

// SqlStore implements Store with SQLite.
type SqlStore struct {
	db *sql.DB
}

// Open opens or creates a SQLite DB at path and runs migrations.
// Creates the parent directory (e.g. .codescribe) if it does not exist.
func Open(path string) (*SqlStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SqlStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqlStore) migrate() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}
	if count == 0 {
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *SqlStore) Close() error { return s.db.Close() }

// --- Projects ---

func (s *SqlStore) CreateProject(p *Project) error {
	if p == nil || p.ID == "" {
		return errors.New("project id is required")
	}
	if p.CreatedAt == "" {
		p.CreatedAt = nowUTC()
	}
	_, err := s.db.Exec(
		"INSERT INTO projects(id, name, root, ref, created_at) VALUES(?, ?, ?, ?, ?)",
		p.ID, p.Name, p.Root, p.Ref, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *SqlStore) GetProject(id string) (*Project, error) {
	return s.scanProject(s.db.QueryRow(
		"SELECT id, name, root, ref, created_at FROM projects WHERE id = ?", id))
}

func (s *SqlStore) GetProjectByName(name string) (*Project, error) {
	return s.scanProject(s.db.QueryRow(
		"SELECT id, name, root, ref, created_at FROM projects WHERE name = ?", name))
}

func (s *SqlStore) scanProject(row *sql.Row) (*Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.Name, &p.Root, &p.Ref, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

func (s *SqlStore) ListProjects() ([]*Project, error) {
	rows, err := s.db.Query("SELECT id, name, root, ref, created_at FROM projects ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()
	var out []*Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Root, &p.Ref, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// --- Manifest ---

func (s *SqlStore) GetManifest(projectID string) ([]ManifestEntry, error) {
	rows, err := s.db.Query(
		"SELECT path, content_hash, role FROM manifest_entries WHERE project_id = ? ORDER BY path",
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("get manifest: %w", err)
	}
	defer rows.Close()
	var out []ManifestEntry
	for rows.Next() {
		var e ManifestEntry
		if err := rows.Scan(&e.Path, &e.ContentHash, &e.Role); err != nil {
			return nil, fmt.Errorf("scan manifest entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Aggregate ---

func (s *SqlStore) GetAggregate(projectID string) (*facts.Aggregate, error) {
	var payload []byte
	err := s.db.QueryRow(
		"SELECT payload FROM aggregates WHERE project_id = ?", projectID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get aggregate: %w", err)
	}
	var agg facts.Aggregate
	if err := json.Unmarshal(payload, &agg); err != nil {
		return nil, fmt.Errorf("decode aggregate: %w", err)
	}
	return &agg, nil
}

// --- Sections ---

func (s *SqlStore) GetSections(projectID string) ([]DerivedSection, error) {
	rows, err := s.db.Query(
		"SELECT key, content, commit_marker, updated_at FROM sections WHERE project_id = ? ORDER BY key",
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("get sections: %w", err)
	}
	defer rows.Close()
	var out []DerivedSection
	for rows.Next() {
		var d DerivedSection
		if err := rows.Scan(&d.Key, &d.Content, &d.CommitMarker, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SqlStore) GetSection(projectID string, key SectionKey) (*DerivedSection, error) {
	var d DerivedSection
	err := s.db.QueryRow(
		"SELECT key, content, commit_marker, updated_at FROM sections WHERE project_id = ? AND key = ?",
		projectID, key,
	).Scan(&d.Key, &d.Content, &d.CommitMarker, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get section: %w", err)
	}
	return &d, nil
}

// --- Overrides ---

func (s *SqlStore) GetOverrides(projectID string) ([]UserOverride, error) {
	rows, err := s.db.Query(
		"SELECT key, content, edited_at, stale FROM overrides WHERE project_id = ? ORDER BY key",
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("get overrides: %w", err)
	}
	defer rows.Close()
	var out []UserOverride
	for rows.Next() {
		var o UserOverride
		var stale int
		if err := rows.Scan(&o.Key, &o.Content, &o.EditedAt, &stale); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		o.Stale = stale != 0
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *SqlStore) PutOverride(projectID string, o *UserOverride) error {
	if o == nil {
		return errors.New("override is nil")
	}
	if o.EditedAt == "" {
		o.EditedAt = nowUTC()
	}
	stale := 0
	if o.Stale {
		stale = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO overrides(project_id, key, content, edited_at, stale) VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(project_id, key) DO UPDATE SET content=excluded.content, edited_at=excluded.edited_at, stale=excluded.stale`,
		projectID, o.Key, o.Content, o.EditedAt, stale,
	)
	if err != nil {
		return fmt.Errorf("put override: %w", err)
	}
	return nil
}

// --- Cycle commit ---

// CommitCycle applies one completed cycle in a single transaction: the
// manifest and aggregate are replaced, regenerated sections upserted, and
// shadowing overrides flagged stale. A failed cycle never reaches here.
func (s *SqlStore) CommitCycle(projectID string, c *Cycle) error {
	if c == nil {
		return errors.New("cycle is nil")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM manifest_entries WHERE project_id = ?", projectID); err != nil {
		return fmt.Errorf("clear manifest: %w", err)
	}
	for _, e := range c.Manifest {
		if _, err := tx.Exec(
			"INSERT INTO manifest_entries(project_id, path, content_hash, role) VALUES(?, ?, ?, ?)",
			projectID, e.Path, e.ContentHash, e.Role,
		); err != nil {
			return fmt.Errorf("insert manifest entry %s: %w", e.Path, err)
		}
	}

	payload, err := json.Marshal(c.Aggregate)
	if err != nil {
		return fmt.Errorf("encode aggregate: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO aggregates(project_id, payload) VALUES(?, ?)
		 ON CONFLICT(project_id) DO UPDATE SET payload=excluded.payload`,
		projectID, payload,
	); err != nil {
		return fmt.Errorf("put aggregate: %w", err)
	}

	now := nowUTC()
	for _, d := range c.Sections {
		if _, err := tx.Exec(
			`INSERT INTO sections(project_id, key, content, commit_marker, updated_at) VALUES(?, ?, ?, ?, ?)
			 ON CONFLICT(project_id, key) DO UPDATE SET content=excluded.content, commit_marker=excluded.commit_marker, updated_at=excluded.updated_at`,
			projectID, d.Key, d.Content, c.CommitMarker, now,
		); err != nil {
			return fmt.Errorf("put section %s: %w", d.Key, err)
		}
	}

	for _, key := range c.StaleOverrides {
		if _, err := tx.Exec(
			"UPDATE overrides SET stale = 1 WHERE project_id = ? AND key = ?",
			projectID, key,
		); err != nil {
			return fmt.Errorf("flag override %s stale: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cycle: %w", err)
	}
	return nil
}

// --- Events ---

func (s *SqlStore) AppendEvent(projectID string, e Event) error {
	if e.At == "" {
		e.At = nowUTC()
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin event append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var maxSeq sql.NullInt64
	if err := tx.QueryRow(
		"SELECT MAX(seq) FROM events WHERE project_id = ?", projectID,
	).Scan(&maxSeq); err != nil {
		return fmt.Errorf("next event seq: %w", err)
	}
	seq := maxSeq.Int64 + 1

	if _, err := tx.Exec(
		"INSERT INTO events(project_id, seq, stage, status, message, detail, at) VALUES(?, ?, ?, ?, ?, ?, ?)",
		projectID, seq, e.Stage, e.Status, e.Message, e.Detail, e.At,
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	// Bounded log: drop rows older than the cap.
	if _, err := tx.Exec(
		"DELETE FROM events WHERE project_id = ? AND seq <= ?",
		projectID, seq-maxEventsPerProject,
	); err != nil {
		return fmt.Errorf("trim events: %w", err)
	}

	return tx.Commit()
}

func (s *SqlStore) ListEvents(projectID string, sinceSeq int64, limit int) ([]Event, error) {
	q := "SELECT seq, stage, status, message, detail, at FROM events WHERE project_id = ? AND seq > ? ORDER BY seq"
	args := []any{projectID, sinceSeq}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		var msg, detail sql.NullString
		if err := rows.Scan(&e.Seq, &e.Stage, &e.Status, &msg, &detail, &e.At); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Message = msg.String
		e.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ Store = (*SqlStore)(nil)
