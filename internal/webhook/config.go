package webhook

import "time"

// Config is one entry of an agent's config.webhooks block.
type Config struct {
	Enabled bool     `json:"enabled"`
	URL     string   `json:"url"`
	Method  string   `json:"method,omitempty"`
	Headers []Header `json:"headers,omitempty"`
	// Body is a JSON template with {{key}} placeholders.
	Body        string       `json:"body,omitempty"`
	Timeout     int          `json:"timeout,omitempty"` // seconds
	Assignments []Assignment `json:"assignments,omitempty"`
}

type Header struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Assignment struct {
	Path     string `json:"path"`
	Variable string `json:"variable"`
}

// Set is the webhooks block of an agent config.
type Set struct {
	PreCall  Config `json:"pre_call"`
	PostCall Config `json:"post_call"`
}

const (
	defaultPreCallTimeout  = 5 * time.Second
	defaultPostCallTimeout = 10 * time.Second
)

func (c Config) timeout(fallback time.Duration) time.Duration {
	if c.Timeout > 0 {
		return time.Duration(c.Timeout) * time.Second
	}
	return fallback
}
