package agents

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"voice-platform/pkg/utils"
)

// Repository is the persistence contract for agents.
type Repository interface {
	Create(ctx context.Context, a Agent) (Agent, error)
	Get(ctx context.Context, id string) (Agent, error)
	ListByUser(ctx context.Context, userID string) ([]Agent, error)
	// ListActiveWithNumber returns active agents that have a phone number assigned.
	ListActiveWithNumber(ctx context.Context) ([]Agent, error)
	// SetPhoneNumber writes the number; "" releases it.
	SetPhoneNumber(ctx context.Context, id, phone string, now time.Time) (Agent, error)
}

/* ===================== MEMORY ===================== */

type MemoryRepo struct {
	mu   sync.Mutex
	byID map[string]Agent
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{byID: map[string]Agent{}} }

func (r *MemoryRepo) Create(ctx context.Context, a Agent) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[a.ID]; ok {
		return Agent{}, ErrConflict
	}
	r.byID[a.ID] = a
	return a, nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return Agent{}, ErrNotFound
	}
	return a, nil
}

func (r *MemoryRepo) ListByUser(ctx context.Context, userID string) ([]Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Agent{}
	for _, a := range r.byID {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepo) ListActiveWithNumber(ctx context.Context) ([]Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Agent{}
	for _, a := range r.byID {
		if a.IsActive && a.PhoneNumber != "" {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepo) SetPhoneNumber(ctx context.Context, id, phone string, now time.Time) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return Agent{}, ErrNotFound
	}
	a.PhoneNumber = phone
	a.UpdatedAt = now
	r.byID[id] = a
	return a, nil
}

/* ===================== POSTGRES ===================== */

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const agentColumns = `id, user_id, name, description, type, config, is_active, phone_number, created_at, updated_at`

func scanAgent(row interface{ Scan(...any) error }) (Agent, error) {
	var (
		a           Agent
		desc, phone sql.NullString
		config      []byte
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.Name, &desc, &a.Type, &config, &a.IsActive, &phone, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Agent{}, ErrNotFound
		}
		return Agent{}, err
	}
	a.Description = desc.String
	a.PhoneNumber = phone.String
	a.Config = config
	return a, nil
}

func (r *PostgresRepo) Create(ctx context.Context, a Agent) (Agent, error) {
	config := a.Config
	if len(config) == 0 {
		config = []byte("{}")
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO agents (id, user_id, name, description, type, config, is_active, phone_number, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6::jsonb,$7,$8,$9,$10)
		RETURNING `+agentColumns,
		a.ID, a.UserID, a.Name, utils.NullString(a.Description), string(a.Type), string(config),
		a.IsActive, utils.NullString(a.PhoneNumber), a.CreatedAt, a.UpdatedAt)
	out, err := scanAgent(row)
	if err != nil && utils.IsUniqueViolation(err) {
		return Agent{}, ErrConflict
	}
	return out, err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Agent, error) {
	return scanAgent(r.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
}

func (r *PostgresRepo) ListByUser(ctx context.Context, userID string) ([]Agent, error) {
	return r.list(ctx, `SELECT `+agentColumns+` FROM agents WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

func (r *PostgresRepo) ListActiveWithNumber(ctx context.Context) ([]Agent, error) {
	return r.list(ctx, `SELECT `+agentColumns+` FROM agents WHERE is_active AND phone_number IS NOT NULL ORDER BY created_at`)
}

func (r *PostgresRepo) SetPhoneNumber(ctx context.Context, id, phone string, now time.Time) (Agent, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE agents SET phone_number = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+agentColumns, id, utils.NullString(phone), now)
	a, err := scanAgent(row)
	if err != nil && utils.IsUniqueViolation(err) {
		return Agent{}, ErrNumberInUse
	}
	return a, err
}

func (r *PostgresRepo) list(ctx context.Context, q string, args ...any) ([]Agent, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
