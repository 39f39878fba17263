package calls

import (
	"context"
	"errors"
	"testing"
	"time"

	"voice-platform/internal/sessions"
	"voice-platform/internal/transfer"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSignaling struct{ mock.Mock }

func (m *mockSignaling) ListParticipants(ctx context.Context, room string) ([]transfer.Participant, error) {
	args := m.Called(ctx, room)
	ps, _ := args.Get(0).([]transfer.Participant)
	return ps, args.Error(1)
}

func (m *mockSignaling) RemoveParticipant(ctx context.Context, room, identity string) error {
	return m.Called(ctx, room, identity).Error(0)
}

func (m *mockSignaling) MoveSIPParticipant(ctx context.Context, room, identity, to string, playDialtone bool) error {
	return m.Called(ctx, room, identity, to, playDialtone).Error(0)
}

func (m *mockSignaling) DialSIPParticipant(ctx context.Context, d transfer.Dial) error {
	return m.Called(ctx, d).Error(0)
}

type countingAuditor struct{ sessions []string }

func (a *countingAuditor) LogTransfer(ctx context.Context, userID, actorUserID, sessionID, message, metadata string) error {
	a.sessions = append(a.sessions, sessionID)
	return nil
}

var liveRoom = []transfer.Participant{
	{Identity: "phone-+15551234567", Metadata: transfer.RoleMetadata(transfer.RolePhoneLeg), JoinedAt: 20},
	{Identity: "agent-worker", Metadata: transfer.RoleMetadata(transfer.RoleAgentLeg), JoinedAt: 10},
}

var owner = Actor{UserID: "u1", Role: "owner"}

func seedActive(t *testing.T) (*sessions.MemoryRepo, sessions.Session) {
	t.Helper()
	store := sessions.NewMemoryRepo()
	now := time.Now().UTC()
	s, err := store.Create(context.Background(), sessions.Session{
		UserID: "u1", RoomName: "room-t", Direction: sessions.DirectionInbound,
		Status: sessions.StatusActive, CallStatus: sessions.CallStatusAnswered, StartedAt: &now,
	})
	require.NoError(t, err)
	return store, s
}

func TestTransfer_ValidatesBeforeSignaling(t *testing.T) {
	store, s := seedActive(t)
	sig := &mockSignaling{}
	tr := NewTransfers(store, transfer.NewClient(sig), "trunk")

	_, err := tr.Transfer(context.Background(), owner, s.ID, TransferRequest{PhoneNumber: "555", Type: "COLD"})
	require.ErrorIs(t, err, ErrInvalidNumber)

	_, err = tr.Transfer(context.Background(), owner, s.ID, TransferRequest{PhoneNumber: " +15550001111 ", Type: "COLD"})
	require.ErrorIs(t, err, ErrInvalidNumber)

	_, err = tr.Transfer(context.Background(), owner, s.ID, TransferRequest{PhoneNumber: "+15550001111", Type: "blind"})
	require.ErrorIs(t, err, ErrInvalidTransferType)

	_, err = tr.Transfer(context.Background(), Actor{UserID: "u2"}, s.ID, TransferRequest{PhoneNumber: "+15550001111", Type: "COLD"})
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = NewTransfers(store, transfer.NewClient(sig), "").
		Transfer(context.Background(), owner, s.ID, TransferRequest{PhoneNumber: "+15550001111", Type: "COLD"})
	require.ErrorIs(t, err, ErrNotConfigured)

	sig.AssertNotCalled(t, "ListParticipants", mock.Anything, mock.Anything)
}

func TestTransfer_EndedSessionIsNotActive(t *testing.T) {
	store, s := seedActive(t)
	_, err := store.CompareAndUpdate(context.Background(), s.ID, sessions.End(s, time.Now().UTC()))
	require.NoError(t, err)

	tr := NewTransfers(store, transfer.NewClient(&mockSignaling{}), "trunk")
	_, err = tr.Transfer(context.Background(), owner, s.ID, TransferRequest{PhoneNumber: "+15550001111", Type: "COLD"})
	require.ErrorIs(t, err, ErrSessionNotActive)
}

func TestTransfer_ColdRecordsOnce(t *testing.T) {
	store, s := seedActive(t)
	sig := &mockSignaling{}
	sig.On("ListParticipants", mock.Anything, "room-t").Return(liveRoom, nil)
	sig.On("MoveSIPParticipant", mock.Anything, "room-t", "phone-+15551234567", "+15550001111", true).Return(nil)
	sig.On("RemoveParticipant", mock.Anything, "room-t", "agent-worker").Return(nil)
	aud := &countingAuditor{}
	pub := &recordingPublisher{}

	tr := NewTransfers(store, transfer.NewClient(sig), "trunk").WithAuditor(aud).WithPublisher(pub)
	res, err := tr.Transfer(context.Background(), owner, s.ID, TransferRequest{PhoneNumber: "+15550001111", Type: "cold"})
	require.NoError(t, err)
	require.Equal(t, "completed", res.Status)
	require.Equal(t, sessions.TransferCold, res.TransferType)
	require.Equal(t, "Cold transfer completed successfully", res.Message)

	got, err := store.Get(context.Background(), s.ID)
	require.NoError(t, err)
	require.Equal(t, "+15550001111", got.TransferredTo)
	require.Equal(t, sessions.TransferCold, got.TransferType)
	require.NotNil(t, got.TransferredAt)
	require.Equal(t, []string{s.ID}, aud.sessions)
	require.Len(t, pub.got, 1)

	_, err = tr.Transfer(context.Background(), owner, s.ID, TransferRequest{PhoneNumber: "+15550002222", Type: "COLD"})
	require.ErrorIs(t, err, ErrAlreadyTransferred)
	sig.AssertNumberOfCalls(t, "MoveSIPParticipant", 1)
}

func TestTransfer_WarmDialsTarget(t *testing.T) {
	store, s := seedActive(t)
	sig := &mockSignaling{}
	sig.On("ListParticipants", mock.Anything, "room-t").Return(liveRoom, nil)
	sig.On("DialSIPParticipant", mock.Anything, mock.MatchedBy(func(d transfer.Dial) bool {
		return d.Identity == "transfer_+15550001111" && d.TrunkID == "trunk" && d.Room == "room-t"
	})).Return(nil)

	res, err := NewTransfers(store, transfer.NewClient(sig), "trunk").
		Transfer(context.Background(), owner, s.ID, TransferRequest{PhoneNumber: "+15550001111", Type: "WARM"})
	require.NoError(t, err)
	require.Equal(t, "initiated", res.Status)
	sig.AssertNotCalled(t, "RemoveParticipant", mock.Anything, mock.Anything, mock.Anything)
}

func TestTransfer_SignalingFailureLeavesSessionUntouched(t *testing.T) {
	store, s := seedActive(t)
	sig := &mockSignaling{}
	sig.On("ListParticipants", mock.Anything, "room-t").Return(liveRoom, nil)
	sig.On("MoveSIPParticipant", mock.Anything, "room-t", mock.Anything, mock.Anything, true).Return(errors.New("486 busy"))

	_, err := NewTransfers(store, transfer.NewClient(sig), "trunk").
		Transfer(context.Background(), owner, s.ID, TransferRequest{PhoneNumber: "+15550001111", Type: "COLD"})
	require.ErrorIs(t, err, ErrTransferFailed)
	var te *TransferError
	require.True(t, errors.As(err, &te))
	require.Equal(t, transfer.FailureSignalingFailed, te.Result.Failure)

	got, err := store.Get(context.Background(), s.ID)
	require.NoError(t, err)
	require.Empty(t, got.TransferredTo)
}

func TestTransfer_ConcurrentTransferIsRejected(t *testing.T) {
	store, s := seedActive(t)
	locker := NewLocalLocker()
	unlock, err := locker.Lock(context.Background(), "transfer:"+s.ID, time.Minute)
	require.NoError(t, err)
	defer unlock()

	_, err = NewTransfers(store, transfer.NewClient(&mockSignaling{}), "trunk").WithLocker(locker).
		Transfer(context.Background(), owner, s.ID, TransferRequest{PhoneNumber: "+15550001111", Type: "COLD"})
	require.ErrorIs(t, err, ErrTransferInProgress)
}

func TestMemoryLimiter(t *testing.T) {
	l := NewMemoryLimiter(1)
	ok, _ := l.Acquire(context.Background(), "u1")
	require.True(t, ok)
	ok, _ = l.Acquire(context.Background(), "u1")
	require.False(t, ok)
	ok, _ = l.Acquire(context.Background(), "u2")
	require.True(t, ok)
	l.Release(context.Background(), "u1")
	require.Zero(t, l.InUse("u1"))

	unlimited := NewMemoryLimiter(0)
	for i := 0; i < 5; i++ {
		ok, _ := unlimited.Acquire(context.Background(), "u1")
		require.True(t, ok)
	}
}
