package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, status int, body string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestResolveJSON(t *testing.T) {
	t.Parallel()
	r := NewHTTP(Config{URL: serve(t, 200, `{"ip":"203.0.113.7"}`), ValidateIP: true})
	v, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", v)
}

func TestResolveText(t *testing.T) {
	t.Parallel()
	r := NewHTTP(Config{URL: serve(t, 200, "  2001:db8::1\n"), Format: "text", ValidateIP: true})
	v, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::1", v)
}

func TestResolveFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		status int
		body   string
		cfg    Config
		code   int
	}{
		{name: "server error", status: 503, body: "busy", code: 503},
		{name: "malformed json", status: 200, body: "{", code: 200},
		{name: "missing field", status: 200, body: `{"addr":"1.2.3.4"}`, code: 200},
		{name: "non-string field", status: 200, body: `{"ip":7}`, code: 200},
		{name: "empty text", status: 200, body: " ", cfg: Config{Format: "text"}, code: 200},
		{name: "not an ip", status: 200, body: `{"ip":"localhost"}`, cfg: Config{ValidateIP: true}, code: 200},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := tt.cfg
			cfg.URL = serve(t, tt.status, tt.body)
			_, err := NewHTTP(cfg).Resolve(context.Background())
			var re *ResolutionError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.code, re.Status)
		})
	}
}

func TestResolveTimeoutIsBounded(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	r := NewHTTP(Config{URL: srv.URL, Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := r.Resolve(context.Background())
	var re *ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Less(t, time.Since(start), 2*time.Second)
}
