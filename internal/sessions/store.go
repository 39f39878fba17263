package sessions

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store is the persistence contract for sessions. It holds no business logic:
// every status change goes through CompareAndUpdate with a Transition built in state.go.
type Store interface {
	Create(ctx context.Context, s Session) (Session, error)
	Get(ctx context.Context, id string) (Session, error)
	GetByRoom(ctx context.Context, roomName string) (Session, error)
	List(ctx context.Context, userID string, f ListFilter) ([]Session, int, error)

	// CompareAndUpdate applies t only if the stored row still matches t.Guard.
	// It returns ErrConflict when the guard fails and ErrNotFound when the row is missing.
	CompareAndUpdate(ctx context.Context, id string, t Transition) (Session, error)

	// SaveCost overwrites the settled totals. Settlement recomputes from the full
	// event set, so overwriting is idempotent.
	SaveCost(ctx context.Context, id string, total decimal.Decimal, b CostBreakdown) (Session, error)

	AppendTranscript(ctx context.Context, t Transcript) (Transcript, error)
	Transcripts(ctx context.Context, sessionID string) ([]Transcript, error)
}
