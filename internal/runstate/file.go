package runstate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "reportd/pkg/logx"
)

// FileName is the state document inside Config.Dir.
const FileName = "last_runs.json"

// fileStore keeps the whole record in one JSON document:
//
//	{"2026-10-19": ["08:00", "13:00"]}
//
// Save writes <path>.tmp, fsyncs it and renames it over <path>.
type fileStore struct {
	log logx.Logger

	mu     sync.Mutex
	path   string
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		return nil, errors.New("state.dir is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: filepath.Join(dir, FileName)}, nil
}

func (s *fileStore) Path() string { return s.path }

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fileStore) Load(ctx context.Context) (State, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return State{}, ErrClosed
	}

	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return State{}, nil
	}

	var raw map[string][]string
	if err := json.Unmarshal(b, &raw); err != nil {
		return State{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	st := make(State, len(raw))
	for day, ids := range raw {
		st.Set(day, ids)
	}
	return st, nil
}

func (s *fileStore) Save(ctx context.Context, st State) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if st == nil {
		st = State{}
	}

	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	s.log.Debug("run state saved", logx.String("path", s.path), logx.Int("days", len(st)))
	return nil
}
