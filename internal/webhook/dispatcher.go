package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"voice-platform/pkg/logger"
)

var (
	ErrDisabled = errors.New("webhook disabled")
	ErrUpstream = errors.New("webhook upstream error")
)

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Dispatcher struct {
	client Doer
}

func NewDispatcher(client Doer) *Dispatcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Dispatcher{client: client}
}

// PreCall runs the pre-call webhook and returns the variables produced by its assignments.
func (d *Dispatcher) PreCall(ctx context.Context, cfg Config, vars map[string]string) (map[string]string, error) {
	resp, err := d.send(ctx, cfg, vars, http.MethodGet, cfg.timeout(defaultPreCallTimeout))
	if err != nil {
		return nil, err
	}
	return Assign(resp, cfg.Assignments), nil
}

// PostCall delivers the post-call notification. The response body is ignored.
func (d *Dispatcher) PostCall(ctx context.Context, cfg Config, vars map[string]string) error {
	_, err := d.send(ctx, cfg, vars, http.MethodPost, cfg.timeout(defaultPostCallTimeout))
	return err
}

// Post sends a JSON body to url. Used for status callbacks that have no agent config.
func (d *Dispatcher) Post(ctx context.Context, url string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	_, err = d.do(ctx, http.MethodPost, url, nil, raw, defaultPostCallTimeout)
	return err
}

func (d *Dispatcher) send(ctx context.Context, cfg Config, vars map[string]string, defaultMethod string, timeout time.Duration) (any, error) {
	if !cfg.Enabled || strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrDisabled
	}
	method := strings.ToUpper(strings.TrimSpace(cfg.Method))
	if method == "" {
		method = defaultMethod
	}

	var body []byte
	if method != http.MethodGet {
		b, err := json.Marshal(RenderBody(cfg.Body, vars))
		if err != nil {
			return nil, err
		}
		body = b
	}
	return d.do(ctx, method, cfg.URL, cfg.Headers, body, timeout)
}

func (d *Dispatcher) do(ctx context.Context, method, url string, headers []Header, body []byte, timeout time.Duration) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build webhook request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, h := range headers {
		if h.Key != "" {
			req.Header.Set(h.Key, h.Value)
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned %d", ErrUpstream, url, resp.StatusCode)
	}

	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") || len(raw) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		logger.From(ctx).Warn("webhook returned invalid json", "url", url, "error", err)
		return nil, nil
	}
	return out, nil
}

// RenderBody substitutes vars into tmpl and decodes it as JSON.
// An empty or unparseable template falls back to the raw variables.
func RenderBody(tmpl string, vars map[string]string) any {
	if strings.TrimSpace(tmpl) == "" {
		return vars
	}
	var out any
	if err := json.Unmarshal([]byte(Substitute(tmpl, vars)), &out); err != nil {
		return vars
	}
	return out
}
