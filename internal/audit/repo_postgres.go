package audit

import (
	"context"
	"database/sql"

	"voice-platform/pkg/utils"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	var metadata any
	if e.Metadata != "" {
		metadata = e.Metadata
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events
			(id, user_id, type, actor_user_id, actor_role, ip_address, wallet_id, session_id, message, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::jsonb,$11)
	`, e.ID, e.UserID, string(e.Type),
		utils.NullString(e.ActorUserID), utils.NullString(e.ActorRole), utils.NullString(e.IPAddress),
		utils.NullString(e.WalletID), utils.NullString(e.SessionID), utils.NullString(e.Message),
		metadata, e.CreatedAt)
	return err
}
