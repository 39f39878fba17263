package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"voice-platform/pkg/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PostgresRepo stores sessions in call_sessions and transcripts in session_transcripts.
//
// Guarded transitions are a single conditional UPDATE ... RETURNING, so two writers
// racing on the same row cannot both win.
type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

const sessionColumns = `id, user_id, agent_id, room_name, direction, status, call_status,
       phone_number, callback_url, metadata, started_at, ended_at, duration_seconds,
       transferred_to, transfer_type, transfer_timestamp, total_cost, cost_breakdown,
       created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		s                                    Session
		agentID, callStatus, phone, callback sql.NullString
		transferredTo, transferType          sql.NullString
		metadata, breakdown                  []byte
		startedAt, endedAt, transferredAt    sql.NullTime
		duration                             sql.NullInt64
		total                                decimal.NullDecimal
	)
	if err := row.Scan(
		&s.ID, &s.UserID, &agentID, &s.RoomName, &s.Direction, &s.Status, &callStatus,
		&phone, &callback, &metadata, &startedAt, &endedAt, &duration,
		&transferredTo, &transferType, &transferredAt, &total, &breakdown,
		&s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}

	s.AgentID = agentID.String
	s.CallStatus = CallStatus(callStatus.String)
	s.PhoneNumber = phone.String
	s.CallbackURL = callback.String
	s.TransferredTo = transferredTo.String
	s.TransferType = TransferType(transferType.String)
	s.StartedAt = timePtr(startedAt)
	s.EndedAt = timePtr(endedAt)
	s.TransferredAt = timePtr(transferredAt)
	if duration.Valid {
		d := int(duration.Int64)
		s.DurationSeconds = &d
	}
	if total.Valid {
		t := total.Decimal
		s.TotalCost = &t
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &s.Metadata); err != nil {
			return Session{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	if len(breakdown) > 0 {
		var b CostBreakdown
		if err := json.Unmarshal(breakdown, &b); err != nil {
			return Session{}, fmt.Errorf("decode cost_breakdown: %w", err)
		}
		s.CostBreakdown = &b
	}
	return s, nil
}

func (r *PostgresRepo) Create(ctx context.Context, s Session) (Session, error) {
	if s.UserID == "" || s.RoomName == "" {
		return Session{}, ErrInvalidArgument
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := r.clock().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	var metadata []byte
	if s.Metadata != nil {
		b, err := json.Marshal(s.Metadata)
		if err != nil {
			return Session{}, fmt.Errorf("encode metadata: %w", err)
		}
		metadata = b
	}

	q := `
INSERT INTO call_sessions (
  id, user_id, agent_id, room_name, direction, status, call_status,
  phone_number, callback_url, metadata, started_at, ended_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
RETURNING ` + sessionColumns

	out, err := scanSession(r.db.QueryRowContext(ctx, q,
		s.ID,
		s.UserID,
		utils.NullString(s.AgentID),
		s.RoomName,
		s.Direction,
		s.Status,
		utils.NullString(string(s.CallStatus)),
		utils.NullString(s.PhoneNumber),
		utils.NullString(s.CallbackURL),
		metadata,
		s.StartedAt,
		s.EndedAt,
		s.CreatedAt,
		s.UpdatedAt,
	))
	if err != nil {
		if utils.IsUniqueViolation(err) {
			return Session{}, ErrConflict
		}
		return Session{}, err
	}
	return out, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE id = $1`
	return scanSession(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) GetByRoom(ctx context.Context, roomName string) (Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE room_name = $1`
	return scanSession(r.db.QueryRowContext(ctx, q, roomName))
}

func (r *PostgresRepo) List(ctx context.Context, userID string, f ListFilter) ([]Session, int, error) {
	f = f.normalized()

	where := []string{"user_id = $1"}
	args := []any{userID}
	if !f.From.IsZero() {
		args = append(args, f.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM call_sessions WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, f.Limit, f.offset())
	q := fmt.Sprintf(`SELECT %s FROM call_sessions WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		sessionColumns, cond, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (r *PostgresRepo) CompareAndUpdate(ctx context.Context, id string, t Transition) (Session, error) {
	if err := t.Validate(); err != nil {
		return Session{}, err
	}

	args := []any{id}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sets := []string{"updated_at = " + arg(r.clock().UTC())}
	p := t.Patch
	if p.Status != nil {
		sets = append(sets, "status = "+arg(string(*p.Status)))
	}
	if p.CallStatus != nil {
		sets = append(sets, "call_status = "+arg(utils.NullString(string(*p.CallStatus))))
	}
	if p.EndedAt != nil {
		sets = append(sets, "ended_at = "+arg(*p.EndedAt))
	}
	if p.DurationSeconds != nil {
		sets = append(sets, "duration_seconds = "+arg(*p.DurationSeconds))
	}
	if p.TransferredTo != nil {
		sets = append(sets, "transferred_to = "+arg(*p.TransferredTo))
	}
	if p.TransferType != nil {
		sets = append(sets, "transfer_type = "+arg(string(*p.TransferType)))
	}
	if p.TransferredAt != nil {
		sets = append(sets, "transfer_timestamp = "+arg(*p.TransferredAt))
	}

	where := []string{"id = $1"}
	g := t.Guard
	if len(g.Statuses) > 0 {
		vals := make([]string, 0, len(g.Statuses))
		for _, s := range g.Statuses {
			vals = append(vals, string(s))
		}
		where = append(where, "status = ANY("+arg(vals)+")")
	}
	if len(g.CallStatuses) > 0 {
		vals := []string{}
		allowNull := false
		for _, s := range g.CallStatuses {
			if s == CallStatusNone {
				allowNull = true
				continue
			}
			vals = append(vals, string(s))
		}
		switch {
		case allowNull && len(vals) == 0:
			where = append(where, "call_status IS NULL")
		case allowNull:
			where = append(where, "(call_status IS NULL OR call_status = ANY("+arg(vals)+"))")
		default:
			where = append(where, "call_status = ANY("+arg(vals)+")")
		}
	}
	if g.NotTransferred {
		where = append(where, "transferred_to IS NULL")
	}

	q := fmt.Sprintf(`UPDATE call_sessions SET %s WHERE %s RETURNING %s`,
		strings.Join(sets, ", "), strings.Join(where, " AND "), sessionColumns)

	s, err := scanSession(r.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, ErrNotFound) {
		// Distinguish a lost race from a missing row.
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return Session{}, getErr
		}
		return Session{}, ErrConflict
	}
	return s, err
}

func (r *PostgresRepo) SaveCost(ctx context.Context, id string, total decimal.Decimal, b CostBreakdown) (Session, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return Session{}, fmt.Errorf("encode cost_breakdown: %w", err)
	}
	q := `
UPDATE call_sessions
SET total_cost = $2, cost_breakdown = $3, updated_at = $4
WHERE id = $1
RETURNING ` + sessionColumns
	return scanSession(r.db.QueryRowContext(ctx, q, id, total, raw, r.clock().UTC()))
}

func (r *PostgresRepo) AppendTranscript(ctx context.Context, t Transcript) (Transcript, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = r.clock().UTC()
	}
	const q = `
INSERT INTO session_transcripts (id, session_id, speaker, content, timestamp)
VALUES ($1,$2,$3,$4,$5)
`
	if _, err := r.db.ExecContext(ctx, q, t.ID, t.SessionID, t.Speaker, t.Content, t.Timestamp); err != nil {
		if utils.IsForeignKeyViolation(err) {
			return Transcript{}, ErrNotFound
		}
		return Transcript{}, err
	}
	return t, nil
}

func (r *PostgresRepo) Transcripts(ctx context.Context, sessionID string) ([]Transcript, error) {
	const q = `
SELECT id, session_id, speaker, content, timestamp
FROM session_transcripts
WHERE session_id = $1
ORDER BY timestamp ASC
`
	rows, err := r.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Transcript{}
	for rows.Next() {
		var t Transcript
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Speaker, &t.Content, &t.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
