// Package resolver fetches the current value of the watched quantity.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"
)

const (
	DefaultURL     = "https://api.ipify.org?format=json"
	defaultTimeout = 10 * time.Second
	maxBody        = 64 << 10
)

// Resolver answers "what is the value now". Implementations make one bounded
// call per Resolve and never retry.
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

// ResolutionError is any failure to obtain a usable value.
type ResolutionError struct {
	Source string
	Status int // HTTP status, 0 when no response was read
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("resolve %s: http %d: %v", e.Source, e.Status, e.Err)
	}
	return fmt.Sprintf("resolve %s: %v", e.Source, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

type Config struct {
	URL string
	// Format is "json" (read Field from an object) or "text" (trimmed body).
	Format     string
	Field      string
	Timeout    time.Duration
	ValidateIP bool
}

// HTTP resolves the value with a single GET.
type HTTP struct {
	cfg    Config
	client *http.Client
}

func NewHTTP(cfg Config) *HTTP {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
	if cfg.Field == "" {
		cfg.Field = "ip"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &HTTP{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (h *HTTP) Resolve(ctx context.Context) (string, error) {
	src := h.cfg.URL
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", &ResolutionError{Source: src, Err: err}
	}
	req.Header.Set("Accept", "application/json, text/plain")
	req.Header.Set("User-Agent", "ipwatch")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", &ResolutionError{Source: src, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", &ResolutionError{Source: src, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode/100 != 2 {
		return "", &ResolutionError{Source: src, Status: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(body)))}
	}

	v, err := h.extract(body)
	if err != nil {
		return "", &ResolutionError{Source: src, Status: resp.StatusCode, Err: err}
	}
	return v, nil
}

func (h *HTTP) extract(body []byte) (string, error) {
	var v string
	switch h.cfg.Format {
	case "text":
		v = strings.TrimSpace(string(body))
	default:
		var m map[string]any
		if err := json.Unmarshal(body, &m); err != nil {
			return "", fmt.Errorf("malformed body: %w", err)
		}
		raw, ok := m[h.cfg.Field]
		if !ok {
			return "", fmt.Errorf("field %q missing", h.cfg.Field)
		}
		s, ok := raw.(string)
		if !ok {
			return "", fmt.Errorf("field %q is %T, want string", h.cfg.Field, raw)
		}
		v = strings.TrimSpace(s)
	}
	if v == "" {
		return "", errors.New("empty value")
	}
	if h.cfg.ValidateIP {
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return "", fmt.Errorf("not an ip address: %q", v)
		}
		v = addr.String()
	}
	return v, nil
}
