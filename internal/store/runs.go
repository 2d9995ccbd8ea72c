package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("research run not found")

type RunKind string

const (
	KindResearch RunKind = "research"
	KindMulti    RunKind = "multi"
	KindPipeline RunKind = "pipeline"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS research_runs (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  query TEXT NOT NULL,
  total_nodes INTEGER NOT NULL DEFAULT 0,
  max_depth INTEGER NOT NULL DEFAULT 0,
  result_json TEXT NOT NULL,
  created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);`,
	`CREATE INDEX IF NOT EXISTS idx_research_runs_created_at ON research_runs(created_at DESC);`,
}

// Run is one stored research result. Result is left empty in listings.
type Run struct {
	ID         string          `json:"id"`
	Kind       RunKind         `json:"kind"`
	Query      string          `json:"query"`
	TotalNodes int             `json:"totalNodes"`
	MaxDepth   int             `json:"maxDepth"`
	CreatedAt  string          `json:"createdAt"`
	Result     json.RawMessage `json:"result,omitempty"`
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) Store {
	return Store{db: db}
}

func (s Store) Migrate(ctx context.Context) error {
	for _, statement := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return errors.Wrap(err, "migrate research_runs")
		}
	}
	return nil
}

func (s Store) SaveRun(ctx context.Context, kind RunKind, query string, totalNodes, maxDepth int, result any) (Run, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return Run{}, errors.Wrap(err, "marshal research result")
	}

	out := Run{
		ID:         uuid.NewString(),
		Kind:       kind,
		Query:      strings.TrimSpace(query),
		TotalNodes: totalNodes,
		MaxDepth:   maxDepth,
		Result:     payload,
	}
	const insert = `
INSERT INTO research_runs (id, kind, query, total_nodes, max_depth, result_json)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING created_at;
`
	if err := s.db.QueryRowContext(ctx, insert, out.ID, string(out.Kind), out.Query, totalNodes, maxDepth, string(payload)).Scan(&out.CreatedAt); err != nil {
		return Run{}, errors.Wrap(err, "insert research run")
	}
	return out, nil
}

func (s Store) GetRun(ctx context.Context, id string) (Run, error) {
	const query = `
SELECT id, kind, query, total_nodes, max_depth, created_at, result_json
FROM research_runs
WHERE id = ?;
`
	var (
		out    Run
		kind   string
		result string
	)
	err := s.db.QueryRowContext(ctx, query, strings.TrimSpace(id)).Scan(
		&out.ID,
		&kind,
		&out.Query,
		&out.TotalNodes,
		&out.MaxDepth,
		&out.CreatedAt,
		&result,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, errors.Wrap(err, "get research run")
	}
	out.Kind = RunKind(kind)
	out.Result = json.RawMessage(result)
	return out, nil
}

// ListRuns returns the newest runs first, without their results.
func (s Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	const query = `
SELECT id, kind, query, total_nodes, max_depth, created_at
FROM research_runs
ORDER BY created_at DESC, rowid DESC
LIMIT ?;
`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list research runs")
	}
	defer rows.Close()

	runs := make([]Run, 0, limit)
	for rows.Next() {
		var (
			run  Run
			kind string
		)
		if err := rows.Scan(&run.ID, &kind, &run.Query, &run.TotalNodes, &run.MaxDepth, &run.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan research run")
		}
		run.Kind = RunKind(kind)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate research runs")
	}
	return runs, nil
}

func (s Store) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM research_runs WHERE id = ?;`, strings.TrimSpace(id))
	if err != nil {
		return errors.Wrap(err, "delete research run")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "delete research run")
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
