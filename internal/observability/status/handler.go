package status

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	"reportd/internal/notifier"
	rtsup "reportd/internal/runtime/supervisor"
	"reportd/internal/schedule"
)

// Sources supplies the data behind /status. Nil funcs are omitted from the report.
type Sources struct {
	Version   string
	StartedAt time.Time

	Schedule   func() schedule.Snapshot
	Notifier   func() notifier.Stats
	Supervisor func() rtsup.Snapshot
}

// Report is the /status document.
type Report struct {
	Service    string             `json:"service"`
	Version    string             `json:"version,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	Uptime     string             `json:"uptime"`
	Status     string             `json:"status_line,omitempty"`
	Schedule   *schedule.Snapshot `json:"schedule,omitempty"`
	Notifier   *notifier.Stats    `json:"notifier,omitempty"`
	Supervisor *rtsup.Snapshot    `json:"supervisor,omitempty"`
}

func buildReport(src Sources) Report {
	r := Report{
		Service:   "reportd",
		Version:   src.Version,
		StartedAt: src.StartedAt,
		Uptime:    time.Since(src.StartedAt).Truncate(time.Second).String(),
	}
	if src.Schedule != nil {
		snap := src.Schedule()
		r.Schedule = &snap
		r.Status = snap.StatusLine()
	}
	if src.Notifier != nil {
		st := src.Notifier()
		r.Notifier = &st
	}
	if src.Supervisor != nil {
		sn := src.Supervisor()
		r.Supervisor = &sn
	}
	return r
}

// Handler builds the HTTP routes for cfg.
func Handler(cfg Config, src Sources) http.Handler {
	if src.StartedAt.IsZero() {
		src.StartedAt = time.Now()
	}
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(cfg.Token, h) }

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /status", wrap(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		enc := json.NewEncoder(w)
		if r.URL.Query().Has("pretty") {
			enc.SetIndent("", "  ")
		}
		_ = enc.Encode(buildReport(src))
	}))

	if cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", wrap(hpprof.Index))
		mux.HandleFunc("/debug/pprof/cmdline", wrap(hpprof.Cmdline))
		mux.HandleFunc("/debug/pprof/profile", wrap(hpprof.Profile))
		mux.HandleFunc("/debug/pprof/symbol", wrap(hpprof.Symbol))
		mux.HandleFunc("/debug/pprof/trace", wrap(hpprof.Trace))
	}
	return mux
}

// withAuth accepts "Authorization: Bearer <token>" or "?token=<token>".
func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") {
				got = strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
			}
		}
		if got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(tok)) == 1 {
			h(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
}
