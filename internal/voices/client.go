// Package voices proxies the Resemble voice catalog.
package voices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"voice-platform/internal/cache"

	"golang.org/x/sync/singleflight"
)

const (
	defaultBaseURL = "https://app.resemble.ai/api/v2"
	pageSize       = 100
	requestTimeout = 30 * time.Second
	// maxPages bounds a misbehaving num_pages value.
	maxPages = 50
)

var (
	ErrNotConfigured = errors.New("RESEMBLE_API_KEY is not configured on the server")
	ErrUpstream      = errors.New("failed to fetch voices from Resemble AI")
)

// Voice is the normalized catalog entry returned to clients.
type Voice struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Language  string `json:"language"`
	Source    string `json:"source"`
	VoiceType string `json:"voice_type"`
}

type rawVoice struct {
	UUID            string `json:"uuid"`
	Name            string `json:"name"`
	DefaultLanguage string `json:"default_language"`
	Source          string `json:"source"`
	VoiceType       string `json:"voice_type"`
}

type voicesPage struct {
	Items    []rawVoice `json:"items"`
	NumPages int        `json:"num_pages"`
}

type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Catalog fetches and caches the voice list. Concurrent misses share one upstream fetch.
type Catalog struct {
	apiKey  string
	baseURL string
	http    Doer

	cache *cache.TTL[string, []Voice]
	group singleflight.Group
}

const cacheKey = "voices"

func NewCatalog(apiKey string, ttl time.Duration, client Doer, now func() time.Time) *Catalog {
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	return &Catalog{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    client,
		cache:   cache.New[string, []Voice](ttl, now),
	}
}

// WithBaseURL points the catalog at another API root (tests).
func (c *Catalog) WithBaseURL(u string) *Catalog {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

func (c *Catalog) List(ctx context.Context) ([]Voice, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}
	if v, ok := c.cache.Get(cacheKey); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(cacheKey, func() (any, error) {
		if v, ok := c.cache.Get(cacheKey); ok {
			return v, nil
		}
		voices, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.cache.Set(cacheKey, voices)
		return voices, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Voice), nil
}

func (c *Catalog) fetch(ctx context.Context) ([]Voice, error) {
	out := []Voice{}
	for page := 1; page <= maxPages; page++ {
		p, err := c.fetchPage(ctx, page)
		if err != nil {
			return nil, err
		}
		for _, rv := range p.Items {
			if rv.UUID == "" {
				continue
			}
			out = append(out, normalize(rv))
		}
		if p.NumPages <= page {
			break
		}
	}
	return out, nil
}

func (c *Catalog) fetchPage(ctx context.Context, page int) (voicesPage, error) {
	q := url.Values{"page": {strconv.Itoa(page)}, "page_size": {strconv.Itoa(pageSize)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/voices?"+q.Encode(), nil)
	if err != nil {
		return voicesPage{}, err
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return voicesPage{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		return voicesPage{}, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, snippet)
	}

	var p voicesPage
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return voicesPage{}, fmt.Errorf("%w: decode: %v", ErrUpstream, err)
	}
	return p, nil
}

var languages = map[string]string{
	"en": "English", "en-US": "English (US)", "en-GB": "English (UK)",
	"es": "Spanish", "fr": "French", "de": "German", "it": "Italian",
	"pt": "Portuguese", "ja": "Japanese", "ko": "Korean", "zh": "Chinese",
	"ar": "Arabic", "hi": "Hindi", "ru": "Russian", "tr": "Turkish",
	"nl": "Dutch", "pl": "Polish", "sv": "Swedish", "da": "Danish",
	"no": "Norwegian", "fi": "Finnish", "sw": "Swahili", "id": "Indonesian",
	"ms": "Malay", "th": "Thai", "vi": "Vietnamese", "cs": "Czech",
	"sk": "Slovak", "ro": "Romanian", "hu": "Hungarian", "el": "Greek",
	"he": "Hebrew", "uk": "Ukrainian",
}

func normalize(v rawVoice) Voice {
	code := strings.TrimSpace(v.DefaultLanguage)
	lang, ok := languages[code]
	switch {
	case ok:
	case code == "":
		lang = "Unknown"
	default:
		lang = strings.ToUpper(code)
	}
	name := v.Name
	if name == "" {
		name = "Unknown"
	}
	return Voice{ID: v.UUID, Name: name, Language: lang, Source: v.Source, VoiceType: v.VoiceType}
}
