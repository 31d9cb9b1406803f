package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

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
	if err := initInboxSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initInboxSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS inbox_events (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			context_id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			tool_name TEXT NOT NULL DEFAULT '',
			tool_input JSONB NULL,
			cwd TEXT NOT NULL DEFAULT '',
			permission_options JSONB NULL,
			resolved BOOLEAN NOT NULL DEFAULT FALSE,
			emitted_at TIMESTAMPTZ NOT NULL,
			received_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_inbox_events_received ON inbox_events (received_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init inbox schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveEvent(ctx context.Context, evt Event) error {
	toolInput, err := marshalNullable(evt.ToolInput)
	if err != nil {
		return fmt.Errorf("encode tool input: %w", err)
	}
	options, err := marshalNullable(evt.Options)
	if err != nil {
		return fmt.Errorf("encode permission options: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO inbox_events (
			id, kind, context_id, session_id, tool_name, tool_input, cwd,
			permission_options, resolved, emitted_at, received_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
		)
		ON CONFLICT (id) DO UPDATE SET
			kind=EXCLUDED.kind,
			context_id=EXCLUDED.context_id,
			session_id=EXCLUDED.session_id,
			tool_name=EXCLUDED.tool_name,
			tool_input=EXCLUDED.tool_input,
			cwd=EXCLUDED.cwd,
			permission_options=EXCLUDED.permission_options,
			resolved=EXCLUDED.resolved,
			emitted_at=EXCLUDED.emitted_at,
			received_at=EXCLUDED.received_at`,
		evt.ID,
		string(evt.Kind),
		evt.ContextID,
		evt.SessionID,
		evt.ToolName,
		toolInput,
		evt.CWD,
		options,
		evt.Resolved,
		evt.EmittedAt,
		evt.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert inbox event: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkResolved(ctx context.Context, eventID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE inbox_events SET resolved=TRUE WHERE id=$1`, eventID)
	if err != nil {
		return fmt.Errorf("mark event resolved: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStoreNotFound
	}
	return nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, eventID string) (Event, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, kind, context_id, session_id, tool_name, tool_input, cwd,
		        permission_options, resolved, emitted_at, received_at
		   FROM inbox_events WHERE id=$1`,
		eventID,
	)
	evt, err := scanEventRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Event{}, ErrStoreNotFound
		}
		return Event{}, fmt.Errorf("get inbox event: %w", err)
	}
	return evt, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, context_id, session_id, tool_name, tool_input, cwd,
		        permission_options, resolved, emitted_at, received_at
		   FROM inbox_events ORDER BY received_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list inbox events: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0, limit)
	for rows.Next() {
		evt, err := scanEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inbox event row: %w", err)
		}
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inbox event rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteEvent(ctx context.Context, eventID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM inbox_events WHERE id=$1`, eventID); err != nil {
		return fmt.Errorf("delete inbox event: %w", err)
	}
	return nil
}

func scanEventRow(row pgx.Row) (Event, error) {
	var (
		evt      Event
		kind     string
		rawInput []byte
		rawOpts  []byte
	)
	if err := row.Scan(
		&evt.ID,
		&kind,
		&evt.ContextID,
		&evt.SessionID,
		&evt.ToolName,
		&rawInput,
		&evt.CWD,
		&rawOpts,
		&evt.Resolved,
		&evt.EmittedAt,
		&evt.ReceivedAt,
	); err != nil {
		return Event{}, err
	}
	evt.Kind = EventKind(kind)
	if len(rawInput) > 0 {
		if err := json.Unmarshal(rawInput, &evt.ToolInput); err != nil {
			return Event{}, fmt.Errorf("decode tool input: %w", err)
		}
	}
	if len(rawOpts) > 0 {
		if err := json.Unmarshal(rawOpts, &evt.Options); err != nil {
			return Event{}, fmt.Errorf("decode permission options: %w", err)
		}
	}
	return evt, nil
}

func marshalNullable(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return nil, nil
		}
	case []PermissionOption:
		if val == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
