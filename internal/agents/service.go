package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"voice-platform/pkg/utils"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("agent not found")
	ErrConflict        = errors.New("agent conflict")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNumberAssigned  = errors.New("agent already has a phone number")
	ErrNoNumber        = errors.New("agent has no assigned phone number")
	ErrNumberInUse     = errors.New("phone number assigned to another agent")
)

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

func (s *Service) Create(ctx context.Context, userID string, req CreateRequest) (Agent, error) {
	name := strings.TrimSpace(req.Name)
	if userID == "" || name == "" || len(name) > 100 {
		return Agent{}, ErrInvalidArgument
	}
	if req.Type == "" {
		req.Type = TypePipeline
	}
	if !req.Type.Valid() {
		return Agent{}, ErrInvalidArgument
	}
	now := s.clock().UTC()
	return s.repo.Create(ctx, Agent{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        name,
		Description: req.Description,
		Type:        req.Type,
		Config:      req.Config,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (s *Service) List(ctx context.Context, userID string) ([]Agent, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	return s.repo.ListByUser(ctx, userID)
}

// GetOwned returns the agent only if userID owns it. Another user's agent is
// reported as ErrNotFound so ids cannot be probed.
func (s *Service) GetOwned(ctx context.Context, userID, agentID string) (Agent, error) {
	if userID == "" || agentID == "" {
		return Agent{}, ErrNotFound
	}
	a, err := s.repo.Get(ctx, agentID)
	if err != nil {
		return Agent{}, err
	}
	if a.UserID != userID {
		return Agent{}, ErrNotFound
	}
	return a, nil
}

// GetActiveOwned is GetOwned restricted to active agents; this is what may place calls.
func (s *Service) GetActiveOwned(ctx context.Context, userID, agentID string) (Agent, error) {
	a, err := s.GetOwned(ctx, userID, agentID)
	if err != nil {
		return Agent{}, err
	}
	if !a.IsActive {
		return Agent{}, ErrNotFound
	}
	return a, nil
}

func (s *Service) Get(ctx context.Context, agentID string) (Agent, error) {
	return s.repo.Get(ctx, agentID)
}

// FindByPhone compares normalized numbers, so stored values like "(254) 566-4820"
// still match "+12545664820".
func (s *Service) FindByPhone(ctx context.Context, phone string) (Agent, error) {
	want := utils.NormalizePhone(phone)
	if want == "" {
		return Agent{}, ErrNotFound
	}
	all, err := s.repo.ListActiveWithNumber(ctx)
	if err != nil {
		return Agent{}, err
	}
	for _, a := range all {
		if utils.NormalizePhone(a.PhoneNumber) == want {
			return a, nil
		}
	}
	return Agent{}, ErrNotFound
}

func (s *Service) AssignNumber(ctx context.Context, userID, agentID, phone string) (Agent, error) {
	normalized := utils.NormalizePhone(phone)
	if !utils.IsE164(normalized) {
		return Agent{}, ErrInvalidArgument
	}
	a, err := s.GetOwned(ctx, userID, agentID)
	if err != nil {
		return Agent{}, err
	}
	if a.PhoneNumber != "" {
		return Agent{}, fmt.Errorf("%w: %s", ErrNumberAssigned, a.PhoneNumber)
	}
	if other, err := s.FindByPhone(ctx, normalized); err == nil && other.ID != a.ID {
		return Agent{}, ErrNumberInUse
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return Agent{}, err
	}
	return s.repo.SetPhoneNumber(ctx, a.ID, normalized, s.clock().UTC())
}

func (s *Service) ReleaseNumber(ctx context.Context, userID, agentID string) (Agent, error) {
	a, err := s.GetOwned(ctx, userID, agentID)
	if err != nil {
		return Agent{}, err
	}
	if a.PhoneNumber == "" {
		return Agent{}, ErrNoNumber
	}
	return s.repo.SetPhoneNumber(ctx, a.ID, "", s.clock().UTC())
}

// AgentName serves cost reports, which keep rows for deleted agents.
func (s *Service) AgentName(ctx context.Context, agentID string) (string, bool, error) {
	a, err := s.repo.Get(ctx, agentID)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return a.Name, true, nil
}
