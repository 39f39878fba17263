package transfer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSignaling struct{ mock.Mock }

func (m *mockSignaling) ListParticipants(ctx context.Context, room string) ([]Participant, error) {
	args := m.Called(ctx, room)
	ps, _ := args.Get(0).([]Participant)
	return ps, args.Error(1)
}

func (m *mockSignaling) RemoveParticipant(ctx context.Context, room, identity string) error {
	return m.Called(ctx, room, identity).Error(0)
}

func (m *mockSignaling) MoveSIPParticipant(ctx context.Context, room, identity, to string, playDialtone bool) error {
	return m.Called(ctx, room, identity, to, playDialtone).Error(0)
}

func (m *mockSignaling) DialSIPParticipant(ctx context.Context, req Dial) error {
	return m.Called(ctx, req).Error(0)
}

var room = []Participant{
	{Identity: "phone-+15551234567", Metadata: RoleMetadata(RolePhoneLeg), JoinedAt: 10},
	{Identity: "agent-1", Metadata: RoleMetadata(RoleAgentLeg), JoinedAt: 5},
}

func TestCold_MovesPhoneLegThenRemovesAgent(t *testing.T) {
	sig := &mockSignaling{}
	sig.On("ListParticipants", mock.Anything, "r1").Return(room, nil)
	sig.On("MoveSIPParticipant", mock.Anything, "r1", "phone-+15551234567", "+15550001111", true).Return(nil)
	sig.On("RemoveParticipant", mock.Anything, "r1", "agent-1").Return(nil)

	res := NewClient(sig).Cold(context.Background(), "r1", "+15550001111", "trunk")
	require.True(t, res.Success)
	require.Equal(t, "Cold transfer completed successfully", res.Message)
	sig.AssertExpectations(t)
}

func TestCold_AgentRemovalFailureStillSucceeds(t *testing.T) {
	sig := &mockSignaling{}
	sig.On("ListParticipants", mock.Anything, "r1").Return(room, nil)
	sig.On("MoveSIPParticipant", mock.Anything, "r1", "phone-+15551234567", "+15550001111", true).Return(nil)
	sig.On("RemoveParticipant", mock.Anything, "r1", "agent-1").Return(errors.New("gone"))

	res := NewClient(sig).Cold(context.Background(), "r1", "+15550001111", "trunk")
	require.True(t, res.Success)
	require.Equal(t, FailureNone, res.Failure)
}

func TestCold_NoPhoneLegMakesNoSignalingCall(t *testing.T) {
	sig := &mockSignaling{}
	sig.On("ListParticipants", mock.Anything, "r1").Return([]Participant{{Identity: "agent-1"}}, nil)

	res := NewClient(sig).Cold(context.Background(), "r1", "+15550001111", "trunk")
	require.False(t, res.Success)
	require.Equal(t, FailureNoPartyFound, res.Failure)
	require.Equal(t, "No SIP participant found in room", res.Message)
	sig.AssertNotCalled(t, "MoveSIPParticipant", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	sig.AssertNotCalled(t, "RemoveParticipant", mock.Anything, mock.Anything, mock.Anything)
}

func TestCold_SignalingFailure(t *testing.T) {
	sig := &mockSignaling{}
	sig.On("ListParticipants", mock.Anything, "r1").Return(room, nil)
	sig.On("MoveSIPParticipant", mock.Anything, "r1", mock.Anything, mock.Anything, true).Return(errors.New("486 busy"))

	res := NewClient(sig).Cold(context.Background(), "r1", "+15550001111", "trunk")
	require.False(t, res.Success)
	require.Equal(t, FailureSignalingFailed, res.Failure)
	require.Equal(t, "Transfer failed: target may be unreachable (486 busy)", res.Message)
	sig.AssertNotCalled(t, "RemoveParticipant", mock.Anything, mock.Anything, mock.Anything)
}

func TestWarm_DialsTargetWithoutRemovingAnyone(t *testing.T) {
	sig := &mockSignaling{}
	sig.On("ListParticipants", mock.Anything, "r1").Return(room, nil)
	sig.On("DialSIPParticipant", mock.Anything, mock.MatchedBy(func(d Dial) bool {
		return d.Identity == "transfer_+15550001111" && d.TrunkID == "trunk" && d.Room == "r1" && d.PlayDialtone
	})).Return(nil)

	res := NewClient(sig).Warm(context.Background(), "r1", "+15550001111", "trunk")
	require.True(t, res.Success)
	sig.AssertExpectations(t)
	sig.AssertNotCalled(t, "RemoveParticipant", mock.Anything, mock.Anything, mock.Anything)
}

func TestNotConfigured_BothTypesRequireTrunk(t *testing.T) {
	sig := &mockSignaling{}

	res := NewClient(sig).Warm(context.Background(), "r1", "+15550001111", "")
	require.Equal(t, FailureNotConfigured, res.Failure)

	res = NewClient(sig).Cold(context.Background(), "r1", "+15550001111", "")
	require.Equal(t, FailureNotConfigured, res.Failure)
	require.Equal(t, "Transfer provider not configured", res.Message)
	sig.AssertNotCalled(t, "ListParticipants", mock.Anything, mock.Anything)

	res = NewClient(nil).Cold(context.Background(), "r1", "+15550001111", "trunk")
	require.Equal(t, FailureNotConfigured, res.Failure)
}
