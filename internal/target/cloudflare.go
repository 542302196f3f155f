package target

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "ipwatch/pkg/logx"
)

const DefaultCloudflareAPI = "https://api.cloudflare.com/client/v4"

// CloudflareConfig authenticates either with an API token (preferred) or
// with the legacy account email + global API key pair.
type CloudflareConfig struct {
	APIBase  string
	APIToken string
	Email    string
	APIKey   string
	ZoneID   string
	Timeout  time.Duration
}

// Cloudflare updates DNS records of one zone.
type Cloudflare struct {
	cfg    CloudflareConfig
	client *http.Client
	log    logx.Logger
}

func NewCloudflare(cfg CloudflareConfig, log logx.Logger) (*Cloudflare, error) {
	if strings.TrimSpace(cfg.APIToken) == "" && (strings.TrimSpace(cfg.Email) == "" || strings.TrimSpace(cfg.APIKey) == "") {
		return nil, errors.New("cloudflare: api_token or email+api_key required")
	}
	if strings.TrimSpace(cfg.APIBase) == "" {
		cfg.APIBase = DefaultCloudflareAPI
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Cloudflare{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, log: log}, nil
}

// Zone is a DNS zone visible to the credentials.
type Zone struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DNSRecord is the subset of record fields shown to operators.
type DNSRecord struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

type envelope struct {
	Success bool            `json:"success"`
	Errors  []apiMessage    `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

type apiMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Apply reads the record, swaps its content and writes it back. The write is
// skipped when the record already holds value.
func (c *Cloudflare) Apply(ctx context.Context, id, value string) error {
	if strings.TrimSpace(c.cfg.ZoneID) == "" {
		return &UpdateError{ID: id, Stage: StageRead, Err: errors.New("zone id not configured")}
	}
	path := "/zones/" + url.PathEscape(c.cfg.ZoneID) + "/dns_records/" + url.PathEscape(id)

	var record map[string]any
	if err := c.do(ctx, http.MethodGet, path, nil, &record); err != nil {
		return &UpdateError{ID: id, Stage: StageRead, Err: err}
	}
	name, _ := record["name"].(string)
	if cur, _ := record["content"].(string); cur == value {
		c.log.Debug("dns record already current", logx.String("record", id), logx.String("name", name))
		return nil
	}
	record["content"] = value

	if err := c.do(ctx, http.MethodPut, path, record, nil); err != nil {
		return &UpdateError{ID: id, Stage: StageWrite, Err: err}
	}
	c.log.Info("dns record updated", logx.String("record", id), logx.String("name", name), logx.String("content", value))
	return nil
}

// ListZones returns the zones the credentials can see.
func (c *Cloudflare) ListZones(ctx context.Context) ([]Zone, error) {
	var zones []Zone
	if err := c.do(ctx, http.MethodGet, "/zones?per_page=50", nil, &zones); err != nil {
		return nil, err
	}
	return zones, nil
}

// ListRecords returns the DNS records of zoneID (or the configured zone).
func (c *Cloudflare) ListRecords(ctx context.Context, zoneID string) ([]DNSRecord, error) {
	if zoneID == "" {
		zoneID = c.cfg.ZoneID
	}
	if zoneID == "" {
		return nil, errors.New("cloudflare: zone id required")
	}
	var recs []DNSRecord
	if err := c.do(ctx, http.MethodGet, "/zones/"+url.PathEscape(zoneID)+"/dns_records?per_page=100", nil, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func (c *Cloudflare) do(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIBase+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	} else {
		req.Header.Set("X-Auth-Email", c.cfg.Email)
		req.Header.Set("X-Auth-Key", c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	decErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env)
	if resp.StatusCode/100 != 2 || !env.Success {
		if len(env.Errors) > 0 {
			return fmt.Errorf("cloudflare %s %s: %s (code=%d http=%d)", method, path, env.Errors[0].Message, env.Errors[0].Code, resp.StatusCode)
		}
		return fmt.Errorf("cloudflare %s %s: http=%d", method, path, resp.StatusCode)
	}
	if decErr != nil {
		return fmt.Errorf("cloudflare %s %s: decode: %w", method, path, decErr)
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("cloudflare %s %s: decode result: %w", method, path, err)
		}
	}
	return nil
}
