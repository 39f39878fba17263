package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"voice-platform/internal/sessions"
	"voice-platform/pkg/utils"
)

var ErrNotFound = errors.New("not found")

// Repository is append-only; no Update/Delete methods are provided.
type Repository interface {
	// Append stores e only while its session is ACTIVE. It returns
	// ErrSessionNotActive otherwise and ErrNotFound for an unknown session.
	Append(ctx context.Context, e Event) error
	ListBySession(ctx context.Context, sessionID string) ([]Event, error)
	ListByUser(ctx context.Context, userID string, q Query) ([]Event, error)
}

/* ===================== MEMORY ===================== */

// SessionStatusFunc reports the current status of a session.
type SessionStatusFunc func(ctx context.Context, sessionID string) (sessions.Status, error)

// StoreStatus reads session status from a sessions.Store.
func StoreStatus(store sessions.Store) SessionStatusFunc {
	return func(ctx context.Context, sessionID string) (sessions.Status, error) {
		s, err := store.Get(ctx, sessionID)
		if err != nil {
			return "", err
		}
		return s.Status, nil
	}
}

type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
	status SessionStatusFunc
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

// WithSessionStatus makes Append check the session status under the repo lock.
// Settlement reads through the same lock, so an event is either visible to
// settlement or rejected.
func (r *MemoryRepo) WithSessionStatus(fn SessionStatusFunc) *MemoryRepo {
	r.status = fn
	return r
}

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != nil {
		st, err := r.status(ctx, e.SessionID)
		if errors.Is(err, sessions.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if st != sessions.StatusActive {
			return ErrSessionNotActive
		}
	}
	r.events = append(r.events, e)
	return nil
}

func (r *MemoryRepo) ListBySession(ctx context.Context, sessionID string) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Event{}
	for _, e := range r.events {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *MemoryRepo) ListByUser(ctx context.Context, userID string, q Query) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Event{}
	for _, e := range r.events {
		if e.UserID != userID {
			continue
		}
		if !q.From.IsZero() && e.CreatedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && e.CreatedAt.After(q.To) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

/* ===================== POSTGRES ===================== */

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const eventColumns = `id, session_id, user_id, agent_id, provider, event_type, quantity, unit_cost, total_cost, created_at`

// Append inserts only when the session row is ACTIVE. FOR SHARE blocks a
// concurrent end until this insert commits, and a committed end makes the
// SELECT return no row.
func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	q := `INSERT INTO usage_events (` + eventColumns + `)
		SELECT $1::uuid, s.id, $3::text, $4::text, $5::text, $6::text, $7::numeric, $8::numeric, $9::numeric, $10::timestamptz
		FROM call_sessions s
		WHERE s.id = $2::uuid AND s.status = 'ACTIVE'
		FOR SHARE`
	res, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.SessionID,
		e.UserID,
		utils.NullString(e.AgentID),
		e.Provider,
		e.EventType,
		e.Quantity,
		e.UnitCost,
		e.TotalCost,
		e.CreatedAt,
	)
	if err != nil {
		if utils.IsForeignKeyViolation(err) {
			return ErrNotFound
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return r.missingOrInactive(ctx, e.SessionID)
	}
	return nil
}

func (r *PostgresRepo) missingOrInactive(ctx context.Context, sessionID string) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM call_sessions WHERE id = $1)`, sessionID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrSessionNotActive
}

func (r *PostgresRepo) ListBySession(ctx context.Context, sessionID string) ([]Event, error) {
	q := `SELECT ` + eventColumns + ` FROM usage_events WHERE session_id = $1 ORDER BY created_at ASC`
	return r.query(ctx, q, sessionID)
}

func (r *PostgresRepo) ListByUser(ctx context.Context, userID string, uq Query) ([]Event, error) {
	where := []string{"user_id = $1"}
	args := []any{userID}
	if !uq.From.IsZero() {
		args = append(args, uq.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !uq.To.IsZero() {
		args = append(args, uq.To)
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	q := `SELECT ` + eventColumns + ` FROM usage_events WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at ASC`
	return r.query(ctx, q, args...)
}

func (r *PostgresRepo) query(ctx context.Context, q string, args ...any) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Event{}
	for rows.Next() {
		var (
			e       Event
			agentID sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &e.SessionID, &e.UserID, &agentID, &e.Provider, &e.EventType,
			&e.Quantity, &e.UnitCost, &e.TotalCost, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.AgentID = agentID.String
		out = append(out, e)
	}
	return out, rows.Err()
}
