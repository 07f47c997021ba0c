package status

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"reportd/internal/schedule"
	logx "reportd/pkg/logx"
)

func testSources() Sources {
	return Sources{
		Version:   "test",
		StartedAt: time.Now().Add(-time.Minute),
		Schedule: func() schedule.Snapshot {
			return schedule.Snapshot{Day: "2026-10-19", Executed: []string{"08:00"}, NextSlot: "13:00"}
		},
	}
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(Handler(Config{}, testSources()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var rep Report
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.Schedule == nil || rep.Schedule.NextSlot != "13:00" || rep.Schedule.Executed[0] != "08:00" {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Notifier != nil || rep.Supervisor != nil {
		t.Fatalf("unset sources should be omitted: %+v", rep)
	}
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(Handler(Config{Token: "s3cret", Pprof: true}, testSources()))
	defer srv.Close()

	get := func(path, bearer string) int {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return resp.StatusCode
	}

	tests := []struct {
		path, bearer string
		want         int
	}{
		{"/status", "", http.StatusUnauthorized},
		{"/status", "wrong", http.StatusUnauthorized},
		{"/status", "s3cret", http.StatusOK},
		{"/status?token=s3cret", "", http.StatusOK},
		{"/healthz", "", http.StatusOK},
		{"/debug/pprof/", "", http.StatusUnauthorized},
		{"/debug/pprof/", "s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		if got := get(tt.path, tt.bearer); got != tt.want {
			t.Fatalf("GET %s (bearer %q) = %d, want %d", tt.path, tt.bearer, got, tt.want)
		}
	}
}

func TestPprofOffByDefault(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(Handler(Config{}, testSources()))
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/debug/pprof/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:8787": true,
		"localhost:80":   true,
		"[::1]:8787":     true,
		":8787":          false,
		"0.0.0.0:8787":   false,
		"10.0.0.5:8787":  false,
		"garbage":        false,
	}
	for addr, want := range tests {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestServiceLifecycle(t *testing.T) {
	t.Parallel()
	svc := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, testSources(), logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	select {
	case <-svc.Ready():
	case <-time.After(3 * time.Second):
		t.Fatal("server did not bind")
	}
	resp, err := http.Get("http://" + svc.Addr() + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}

	svc.Reconfigure(ctx, Config{Enabled: false})
	if svc.Addr() != "" {
		t.Fatalf("server still bound at %s", svc.Addr())
	}
}

func TestRefusesInsecurePublicBind(t *testing.T) {
	t.Parallel()
	svc := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, testSources(), logx.Nop())
	err := svc.serveOnce(context.Background())
	if err == nil {
		t.Fatal("expected refusal without token")
	}
}
