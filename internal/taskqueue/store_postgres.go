package taskqueue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initWorkItemSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initWorkItemSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS work_items (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			priority_key BIGINT NOT NULL DEFAULT 0,
			context_id TEXT NOT NULL DEFAULT '',
			requires_review BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ NULL,
			ended_at TIMESTAMPTZ NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_work_items_context_key ON work_items (context_id, priority_key ASC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init work item schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveItem(ctx context.Context, item WorkItem) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO work_items (
			id, title, description, status, priority_key, context_id, requires_review,
			created_at, updated_at, started_at, ended_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
		)
		ON CONFLICT (id) DO UPDATE SET
			title=EXCLUDED.title,
			description=EXCLUDED.description,
			status=EXCLUDED.status,
			priority_key=EXCLUDED.priority_key,
			context_id=EXCLUDED.context_id,
			requires_review=EXCLUDED.requires_review,
			created_at=EXCLUDED.created_at,
			updated_at=EXCLUDED.updated_at,
			started_at=EXCLUDED.started_at,
			ended_at=EXCLUDED.ended_at`,
		item.ID,
		item.Title,
		item.Description,
		string(item.Status),
		item.PriorityKey,
		item.ContextID,
		item.RequiresReview,
		item.CreatedAt,
		item.UpdatedAt,
		item.StartedAt,
		item.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert work item: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetItem(ctx context.Context, workItemID string) (WorkItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, title, description, status, priority_key, context_id, requires_review,
		        created_at, updated_at, started_at, ended_at
		   FROM work_items WHERE id=$1`,
		workItemID,
	)
	item, err := scanItemRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return WorkItem{}, ErrStoreNotFound
		}
		return WorkItem{}, fmt.Errorf("get work item: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListItemsByContext(ctx context.Context, contextID string, limit int) ([]WorkItem, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, description, status, priority_key, context_id, requires_review,
		        created_at, updated_at, started_at, ended_at
		   FROM work_items WHERE context_id=$1 ORDER BY priority_key ASC LIMIT $2`,
		contextID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	defer rows.Close()

	out := make([]WorkItem, 0, limit)
	for rows.Next() {
		item, err := scanItemRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan work item row: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate work item rows: %w", err)
	}
	return out, nil
}

func scanItemRow(row pgx.Row) (WorkItem, error) {
	var (
		item            WorkItem
		status          string
		startedNullable *time.Time
		endedNullable   *time.Time
	)
	if err := row.Scan(
		&item.ID,
		&item.Title,
		&item.Description,
		&status,
		&item.PriorityKey,
		&item.ContextID,
		&item.RequiresReview,
		&item.CreatedAt,
		&item.UpdatedAt,
		&startedNullable,
		&endedNullable,
	); err != nil {
		return WorkItem{}, err
	}
	item.Status = ItemStatus(status)
	item.StartedAt = startedNullable
	item.EndedAt = endedNullable
	return item, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
