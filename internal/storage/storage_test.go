package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/snarg/studynotes/internal/config"
)

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir())

	if s.Exists(ctx, "a/b.json") {
		t.Fatal("Exists before Save")
	}
	if _, err := s.Open(ctx, "a/b.json"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open missing err = %v, want ErrNotFound", err)
	}

	if err := s.Save(ctx, "a/b.json", []byte(`{"x":1}`), "application/json"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !s.Exists(ctx, "a/b.json") {
		t.Error("Exists after Save = false")
	}

	r, err := s.Open(ctx, "a/b.json")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _ := io.ReadAll(r)
	r.Close()
	if string(data) != `{"x":1}` {
		t.Errorf("data = %q", data)
	}

	// No temp files left behind
	entries, _ := os.ReadDir(filepath.Join(s.Dir(), "a"))
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want 1", len(entries))
	}
}

// memStore is an in-memory ObjectStore standing in for S3.
type memStore struct {
	objects map[string][]byte
	saveErr error
}

func (m *memStore) Save(ctx context.Context, key string, data []byte, ct string) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.objects[key] = data
	return nil
}

func (m *memStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) Exists(ctx context.Context, key string) bool {
	_, ok := m.objects[key]
	return ok
}

func (m *memStore) Type() string { return "mem" }

func TestTieredStore(t *testing.T) {
	ctx := context.Background()
	remote := &memStore{objects: map[string][]byte{"only/remote": []byte("r")}}
	local := NewLocalStore(t.TempDir())
	ts := NewTieredStore(remote, local, zerolog.Nop())

	t.Run("save_writes_both", func(t *testing.T) {
		if err := ts.Save(ctx, "k", []byte("v"), ""); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if !local.Exists(ctx, "k") || !remote.Exists(ctx, "k") {
			t.Error("object missing from a tier")
		}
	})

	t.Run("remote_failure_is_not_fatal", func(t *testing.T) {
		remote.saveErr = errors.New("s3 down")
		defer func() { remote.saveErr = nil }()
		if err := ts.Save(ctx, "k2", []byte("v"), ""); err != nil {
			t.Errorf("Save: %v, want nil", err)
		}
	})

	t.Run("read_through_caches_locally", func(t *testing.T) {
		r, err := ts.Open(ctx, "only/remote")
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		r.Close()
		if !local.Exists(ctx, "only/remote") {
			t.Error("remote hit not cached locally")
		}
	})

	if ts.Type() != "tiered" {
		t.Errorf("Type() = %q", ts.Type())
	}
}

func TestTranscriptArchive(t *testing.T) {
	ctx := context.Background()
	a := NewTranscriptArchive(NewLocalStore(t.TempDir()))

	if _, err := a.Load(ctx, "dQw4w9WgXcQ"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load missing err = %v, want ErrNotFound", err)
	}

	if err := a.Save(ctx, TranscriptRecord{VideoID: "dQw4w9WgXcQ", Text: "hello", Source: "captions"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	rec, err := a.Load(ctx, "dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.Text != "hello" || rec.Source != "captions" || rec.SavedAt.IsZero() {
		t.Errorf("record = %+v", rec)
	}
}

func TestNewLocalByDefault(t *testing.T) {
	s, err := New(context.Background(), config.S3Config{}, t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Type() != "local" {
		t.Errorf("Type() = %q, want local", s.Type())
	}
}

func TestLocalStoreRejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir())

	for _, key := range []string{"", "../outside.json", "/etc/passwd", "transcripts/../../x"} {
		if err := s.Save(ctx, key, []byte("x"), ""); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Save(%q) err = %v, want ErrInvalidKey", key, err)
		}
		if _, err := s.Open(ctx, key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Open(%q) err = %v, want ErrInvalidKey", key, err)
		}
		if s.Exists(ctx, key) {
			t.Errorf("Exists(%q) = true", key)
		}
	}
}
