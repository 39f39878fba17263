package agents

import (
	"encoding/json"
	"time"

	"voice-platform/internal/webhook"
)

type Type string

const (
	TypeSTT      Type = "STT"
	TypeLLM      Type = "LLM"
	TypeTTS      Type = "TTS"
	TypePipeline Type = "PIPELINE"
)

func (t Type) Valid() bool {
	switch t {
	case TypeSTT, TypeLLM, TypeTTS, TypePipeline:
		return true
	}
	return false
}

// Agent is a configured voice agent owned by one user.
// Config is opaque to this service apart from the webhooks block.
type Agent struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	Name        string          `json:"name" db:"name"`
	Description string          `json:"description,omitempty" db:"description"`
	Type        Type            `json:"type" db:"type"`
	Config      json.RawMessage `json:"config" db:"config"`
	IsActive    bool            `json:"is_active" db:"is_active"`
	PhoneNumber string          `json:"phone_number,omitempty" db:"phone_number"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// Webhooks decodes config.webhooks. Missing or malformed config yields disabled webhooks.
func (a Agent) Webhooks() webhook.Set {
	var c struct {
		Webhooks webhook.Set `json:"webhooks"`
	}
	if len(a.Config) == 0 {
		return webhook.Set{}
	}
	if err := json.Unmarshal(a.Config, &c); err != nil {
		return webhook.Set{}
	}
	return c.Webhooks
}

type CreateRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Type        Type            `json:"type"`
	Config      json.RawMessage `json:"config,omitempty"`
}
