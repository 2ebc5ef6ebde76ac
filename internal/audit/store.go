package audit

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrInvalidCursor is returned by List for a cursor it did not issue.
var ErrInvalidCursor = errors.New("invalid audit cursor")

// Store persists audit events in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// BatchInsert writes events in a single multi-row INSERT. It is a no-op when
// events is empty.
func (s *Store) BatchInsert(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	query, args, err := buildInsert(events)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("batch inserting audit events: %w", err)
	}
	return nil
}

const insertCols = 10

// MaxBatchSize is the largest batch one INSERT can carry within
// PostgreSQL's 65535 bind parameter limit.
const MaxBatchSize = 65535 / insertCols

func buildInsert(events []Event) (string, []any, error) {
	args := make([]any, 0, len(events)*insertCols)
	rows := make([]string, 0, len(events))

	for i, e := range events {
		base := i * insertCols
		ph := make([]string, insertCols)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", base+j+1)
		}
		rows = append(rows, "("+strings.Join(ph, ", ")+")")

		detail := e.Detail
		if detail == nil {
			detail = map[string]string{}
		}
		detailJSON, err := json.Marshal(detail)
		if err != nil {
			return "", nil, fmt.Errorf("marshaling audit detail: %w", err)
		}
		args = append(args,
			e.ID, e.Timestamp, e.Actor, e.Action, e.TargetType,
			e.TargetID, e.TenantID, e.IP, e.RequestID, detailJSON,
		)
	}

	query := `INSERT INTO audit_events
		(id, occurred_at, actor, action, target_type, target_id, tenant_id, ip, request_id, detail)
		VALUES ` + strings.Join(rows, ", ")
	return query, args, nil
}

// Query filters and pages audit events.
type Query struct {
	TenantID string
	Actor    string
	Action   string
	Cursor   string
	Limit    int
}

// List returns a page of events ordered newest first with cursor-based
// pagination, plus the cursor for the next page.
func (s *Store) List(ctx context.Context, q Query) ([]Event, string, error) {
	limit := q.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var where []string
	var args []any
	argIdx := 1

	if q.Cursor != "" {
		ts, id, err := decodeCursor(q.Cursor)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
		}
		where = append(where, fmt.Sprintf("(occurred_at, id) < ($%d, $%d)", argIdx, argIdx+1))
		args = append(args, ts, id)
		argIdx += 2
	}
	if q.TenantID != "" {
		where = append(where, fmt.Sprintf("tenant_id = $%d", argIdx))
		args = append(args, q.TenantID)
		argIdx++
	}
	if q.Actor != "" {
		where = append(where, fmt.Sprintf("actor = $%d", argIdx))
		args = append(args, q.Actor)
		argIdx++
	}
	if q.Action != "" {
		where = append(where, fmt.Sprintf("action = $%d", argIdx))
		args = append(args, q.Action)
		argIdx++
	}

	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}
	query := fmt.Sprintf(`SELECT id, occurred_at, actor, action, target_type, target_id,
		tenant_id, ip, request_id, detail
		FROM audit_events %s ORDER BY occurred_at DESC, id DESC LIMIT $%d`, clause, argIdx)
	args = append(args, limit+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("listing audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var detail []byte
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Actor, &e.Action, &e.TargetType,
			&e.TargetID, &e.TenantID, &e.IP, &e.RequestID, &detail); err != nil {
			return nil, "", fmt.Errorf("scanning audit event: %w", err)
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, "", fmt.Errorf("unmarshaling audit detail: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterating audit events: %w", err)
	}

	var next string
	if len(events) > limit {
		last := events[limit-1]
		next = encodeCursor(last.Timestamp, last.ID)
		events = events[:limit]
	}
	return events, next, nil
}

func encodeCursor(ts time.Time, id string) string {
	raw := fmt.Sprintf("%s|%s", ts.Format(time.RFC3339Nano), id)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	data, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("decoding cursor: %w", err)
	}
	parts := strings.SplitN(string(data), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return time.Time{}, "", fmt.Errorf("invalid cursor format")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("parsing cursor timestamp: %w", err)
	}
	return ts, parts[1], nil
}
