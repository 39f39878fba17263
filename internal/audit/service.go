package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.UserID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.IPAddress == "" {
		e.IPAddress = ClientIP(ctx)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogAdminAction records an admin wallet action.
func (s *Service) LogAdminAction(ctx context.Context, userID, actorUserID, actorRole, message, walletID, metadata string) error {
	return s.Append(ctx, Event{
		UserID:      userID,
		Type:        EventTypeAdminAction,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		WalletID:    walletID,
		Message:     message,
		Metadata:    metadata,
	})
}

// LogTransfer records a completed cold or warm transfer.
func (s *Service) LogTransfer(ctx context.Context, userID, actorUserID, sessionID, message, metadata string) error {
	return s.Append(ctx, Event{
		UserID:      userID,
		Type:        EventTypeTransfer,
		ActorUserID: actorUserID,
		SessionID:   sessionID,
		Message:     message,
		Metadata:    metadata,
	})
}

// LogSettlement records a cost settlement posted against a session.
func (s *Service) LogSettlement(ctx context.Context, userID, sessionID, walletID, message, metadata string) error {
	return s.Append(ctx, Event{
		UserID:    userID,
		Type:      EventTypeSettlement,
		SessionID: sessionID,
		WalletID:  walletID,
		Message:   message,
		Metadata:  metadata,
	})
}
