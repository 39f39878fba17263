package calls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"voice-platform/internal/sessions"
	"voice-platform/internal/transfer"
	"voice-platform/pkg/logger"
	"voice-platform/pkg/metrics"
	"voice-platform/pkg/utils"
)

const transferLockTTL = 45 * time.Second

type TransferAuditor interface {
	LogTransfer(ctx context.Context, userID, actorUserID, sessionID, message, metadata string) error
}

// TransferError carries a failed transfer result. It unwraps to ErrTransferFailed.
type TransferError struct {
	Result transfer.Result
}

func (e *TransferError) Error() string { return e.Result.Message }
func (e *TransferError) Unwrap() error { return ErrTransferFailed }

// Transfers hands live sessions to another number. The session row is written
// only after the provider reports success, and only once per session.
type Transfers struct {
	store   sessions.Store
	client  *transfer.Client
	trunkID string
	locker  Locker
	audit   TransferAuditor
	events  Publisher
	now     func() time.Time
}

func NewTransfers(store sessions.Store, client *transfer.Client, trunkID string) *Transfers {
	return &Transfers{store: store, client: client, trunkID: trunkID, locker: NewLocalLocker(), now: time.Now}
}

func (t *Transfers) WithLocker(l Locker) *Transfers {
	t.locker = l
	return t
}

func (t *Transfers) WithAuditor(a TransferAuditor) *Transfers {
	t.audit = a
	return t
}

func (t *Transfers) WithPublisher(p Publisher) *Transfers {
	t.events = p
	return t
}

func (t *Transfers) WithClock(now func() time.Time) *Transfers {
	t.now = now
	return t
}

func (t *Transfers) Transfer(ctx context.Context, actor Actor, sessionID string, req TransferRequest) (TransferResponse, error) {
	target := req.PhoneNumber
	if !utils.IsE164(target) {
		return TransferResponse{}, ErrInvalidNumber
	}
	typ, ok := parseTransferType(req.Type)
	if !ok {
		return TransferResponse{}, ErrInvalidTransferType
	}

	s, err := t.load(ctx, actor, sessionID)
	if err != nil {
		return TransferResponse{}, err
	}
	if t.trunkID == "" {
		return TransferResponse{}, ErrNotConfigured
	}

	unlock, err := t.locker.Lock(ctx, "transfer:"+s.ID, transferLockTTL)
	if err != nil {
		if errors.Is(err, utils.ErrLockHeld) {
			return TransferResponse{}, ErrTransferInProgress
		}
		return TransferResponse{}, fmt.Errorf("transfer lock: %w", err)
	}
	defer unlock()

	// A transfer that finished while we waited for the lock must not be repeated.
	if s, err = t.load(ctx, actor, sessionID); err != nil {
		return TransferResponse{}, err
	}

	ctx = logger.WithAttrs(ctx, "session_id", s.ID, "room_name", s.RoomName, "transfer_type", string(typ))
	var res transfer.Result
	if typ == sessions.TransferCold {
		res = t.client.Cold(ctx, s.RoomName, target, t.trunkID)
	} else {
		res = t.client.Warm(ctx, s.RoomName, target, t.trunkID)
	}
	typeLabel := strings.ToLower(string(typ))
	if !res.Success {
		metrics.Transfers.WithLabelValues(typeLabel, string(res.Failure)).Inc()
		logger.From(ctx).Warn("transfer failed", "failure", string(res.Failure), "reason", res.Reason)
		return TransferResponse{}, &TransferError{Result: res}
	}

	next, err := t.store.CompareAndUpdate(ctx, s.ID, sessions.Transfer(target, typ, t.now().UTC()))
	if err != nil {
		if errors.Is(err, sessions.ErrConflict) {
			logger.From(ctx).Warn("transfer executed but session changed before it was recorded")
			if cur, gerr := t.store.Get(ctx, s.ID); gerr == nil && cur.TransferredTo != "" {
				return TransferResponse{}, ErrAlreadyTransferred
			}
			return TransferResponse{}, ErrSessionNotActive
		}
		return TransferResponse{}, fmt.Errorf("record transfer: %w", err)
	}
	metrics.Transfers.WithLabelValues(typeLabel, "ok").Inc()

	if t.audit != nil {
		meta, _ := json.Marshal(map[string]string{"type": string(typ), "to": target, "room_name": s.RoomName})
		if err := t.audit.LogTransfer(ctx, s.UserID, actor.UserID, s.ID, res.Message, string(meta)); err != nil {
			logger.From(ctx).Error("audit transfer failed", "error", err)
		}
	}
	if t.events != nil {
		t.events.SessionChanged(next)
	}

	status := "initiated"
	if typ == sessions.TransferCold {
		status = "completed"
	}
	return TransferResponse{
		SessionID:     next.ID,
		TransferType:  typ,
		TransferredTo: target,
		Status:        status,
		Message:       res.Message,
	}, nil
}

func (t *Transfers) load(ctx context.Context, actor Actor, id string) (sessions.Session, error) {
	s, err := t.store.Get(ctx, id)
	if err != nil {
		return sessions.Session{}, mapStoreErr(err)
	}
	if !actor.canAccess(s) {
		return sessions.Session{}, ErrSessionNotFound
	}
	if s.Status != sessions.StatusActive {
		return sessions.Session{}, ErrSessionNotActive
	}
	if s.TransferredTo != "" {
		return sessions.Session{}, ErrAlreadyTransferred
	}
	return s, nil
}
