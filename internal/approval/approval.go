// Package approval records promotion proposals for human review.
package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Status is a proposal's review state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// KindPatches is the proposal kind for a validated patch set.
const KindPatches = "ACE_PATCHES"

// Gateway registers proposals. Review happens outside the pipeline.
type Gateway interface {
	RegisterProposal(ctx context.Context, kind string, content any) (string, error)
}

// Proposal is one stored proposal.
type Proposal struct {
	ID         string          `json:"id" yaml:"id"`
	Kind       string          `json:"kind" yaml:"kind"`
	Content    json.RawMessage `json:"content" yaml:"-"`
	Status     Status          `json:"status" yaml:"status"`
	CreatedAt  time.Time       `json:"created_at" yaml:"created_at"`
	Reviewer   string          `json:"reviewer,omitempty" yaml:"reviewer,omitempty"`
	ReviewedAt *time.Time      `json:"reviewed_at,omitempty" yaml:"reviewed_at,omitempty"`
	Note       string          `json:"note,omitempty" yaml:"note,omitempty"`
}

// Event is one entry of the audit trail.
type Event struct {
	ProposalID string    `json:"proposal_id" yaml:"proposal_id"`
	Operation  string    `json:"operation" yaml:"operation"`
	FromStatus Status    `json:"from_status,omitempty" yaml:"from_status,omitempty"`
	ToStatus   Status    `json:"to_status" yaml:"to_status"`
	Reviewer   string    `json:"reviewer,omitempty" yaml:"reviewer,omitempty"`
	Note       string    `json:"note,omitempty" yaml:"note,omitempty"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS proposals (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	content     TEXT NOT NULL,
	status      TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	reviewer    TEXT NOT NULL DEFAULT '',
	reviewed_at INTEGER,
	note        TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS proposals_status ON proposals(status, created_at);

CREATE TABLE IF NOT EXISTS proposal_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	proposal_id TEXT NOT NULL,
	operation   TEXT NOT NULL,
	from_status TEXT NOT NULL DEFAULT '',
	to_status   TEXT NOT NULL,
	reviewer    TEXT NOT NULL DEFAULT '',
	note        TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	FOREIGN KEY (proposal_id) REFERENCES proposals(id)
);
`

// SQLiteStore is a durable Gateway backed by SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the store at path.
func Open(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("approval store path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection keeps :memory: databases and pragmas consistent.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RegisterProposal stores a pending proposal and returns its id.
func (s *SQLiteStore) RegisterProposal(ctx context.Context, kind string, content any) (string, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return "", ErrEmptyKind
	}
	data, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("encode proposal content: %w", err)
	}

	id := uuid.NewString()
	now := s.now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO proposals (id, kind, content, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, kind, string(data), string(StatusPending), now.UnixMilli(),
	); err != nil {
		return "", fmt.Errorf("insert proposal: %w", err)
	}
	if err := insertEvent(ctx, tx, Event{
		ProposalID: id,
		Operation:  "register",
		ToStatus:   StatusPending,
		CreatedAt:  now,
	}); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// Get returns a proposal by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Proposal, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, kind, content, status, created_at, reviewer, reviewed_at, note
FROM proposals WHERE id = ?`, strings.TrimSpace(id))
	p, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrProposalNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get proposal: %w", err)
	}
	return p, nil
}

// List returns proposals oldest first, optionally filtered by status.
func (s *SQLiteStore) List(ctx context.Context, status Status) ([]Proposal, error) {
	query := `
SELECT id, kind, content, status, created_at, reviewer, reviewed_at, note
FROM proposals`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only

	var out []Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Approve marks a pending proposal approved.
func (s *SQLiteStore) Approve(ctx context.Context, id, reviewer, note string) error {
	return s.transition(ctx, id, "approve", StatusApproved, reviewer, note)
}

// Reject marks a pending proposal rejected.
func (s *SQLiteStore) Reject(ctx context.Context, id, reviewer, reason string) error {
	return s.transition(ctx, id, "reject", StatusRejected, reviewer, reason)
}

func (s *SQLiteStore) transition(ctx context.Context, id, op string, to Status, reviewer, note string) error {
	if len(note) > MaxNoteLength {
		return ErrNoteTooLong
	}
	id = strings.TrimSpace(id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM proposals WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrProposalNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("read proposal status: %w", err)
	}
	if Status(current) != StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrNotPending, id, current)
	}

	now := s.now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE proposals SET status = ?, reviewer = ?, reviewed_at = ?, note = ? WHERE id = ?`,
		string(to), reviewer, now.UnixMilli(), note, id,
	); err != nil {
		return fmt.Errorf("update proposal: %w", err)
	}
	if err := insertEvent(ctx, tx, Event{
		ProposalID: id,
		Operation:  op,
		FromStatus: StatusPending,
		ToStatus:   to,
		Reviewer:   reviewer,
		Note:       note,
		CreatedAt:  now,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Events returns the audit trail of a proposal, oldest first.
func (s *SQLiteStore) Events(ctx context.Context, id string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT proposal_id, operation, from_status, to_status, reviewer, note, created_at
FROM proposal_events WHERE proposal_id = ? ORDER BY id`, strings.TrimSpace(id))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only

	var out []Event
	for rows.Next() {
		var (
			e          Event
			from, to   string
			createdAtM int64
		)
		if err := rows.Scan(&e.ProposalID, &e.Operation, &from, &to, &e.Reviewer, &e.Note, &createdAtM); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.FromStatus, e.ToStatus = Status(from), Status(to)
		e.CreatedAt = time.UnixMilli(createdAtM).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func insertEvent(ctx context.Context, tx *sql.Tx, e Event) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO proposal_events (proposal_id, operation, from_status, to_status, reviewer, note, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ProposalID, e.Operation, string(e.FromStatus), string(e.ToStatus), e.Reviewer, e.Note, e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProposal(row scanner) (*Proposal, error) {
	var (
		p          Proposal
		content    string
		status     string
		createdAtM int64
		reviewedAt sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.Kind, &content, &status, &createdAtM, &p.Reviewer, &reviewedAt, &p.Note); err != nil {
		return nil, err
	}
	p.Content = json.RawMessage(content)
	p.Status = Status(status)
	p.CreatedAt = time.UnixMilli(createdAtM).UTC()
	if reviewedAt.Valid {
		t := time.UnixMilli(reviewedAt.Int64).UTC()
		p.ReviewedAt = &t
	}
	return &p, nil
}
