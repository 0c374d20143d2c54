package debug

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "flowup/pkg/logx"
)

func waitForAddr(t *testing.T, s *Service) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a := s.Addr(); a != "" {
			return a
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("debug server never bound")
	return ""
}

func TestHealthAndAuth(t *testing.T) {
	t.Parallel()
	s := New(Config{}, func(ctx context.Context) any {
		return map[string]int{"pending": 3}
	}, logx.Nop())
	h := s.Handler("tok")

	tests := []struct {
		name string
		path string
		auth string
		code int
	}{
		{"no token", "/healthz", "", http.StatusUnauthorized},
		{"wrong token", "/healthz?token=nope", "", http.StatusUnauthorized},
		{"query token", "/healthz?token=tok", "", http.StatusOK},
		{"bearer", "/healthz", "Bearer tok", http.StatusOK},
		{"pprof index", "/debug/pprof/", "Bearer tok", http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		if tt.auth != "" {
			req.Header.Set("Authorization", tt.auth)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.code {
			t.Fatalf("%s: code = %d, want %d", tt.name, rec.Code, tt.code)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz?token=tok", nil))
	var body map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["pending"] != 3 {
		t.Fatalf("body = %q, err %v", rec.Body.String(), err)
	}
}

func TestReconfigureStartStop(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s := New(Config{}, nil, logx.Nop())
	t.Cleanup(func() { s.Stop(context.Background()) })

	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})
	addr := waitForAddr(t, s)

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	s.Reconfigure(ctx, Config{Enabled: false})
	if a := s.Addr(); a != "" {
		t.Fatalf("still bound at %s", a)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.2:6060":  false,
		"garbage":        false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v", addr, got)
		}
	}
}
