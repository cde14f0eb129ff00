package prompts

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDefaultsLoaded(t *testing.T) {
	s, err := New("", zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, name := range Names {
		if strings.TrimSpace(s.Get(name)) == "" {
			t.Errorf("default prompt %q is empty", name)
		}
	}
	if got := s.Overridden(); len(got) != 0 {
		t.Errorf("Overridden() = %v, want none", got)
	}
}

func TestRender(t *testing.T) {
	s, _ := New("", zerolog.Nop())
	got := s.Render(Flashcards, map[string]string{"count": "7", "title": "Linear Algebra", "notes": "eigen"})
	for _, want := range []string{"exactly 7 flashcards", "Video: Linear Algebra", "eigen"} {
		if !strings.Contains(got, want) {
			t.Errorf("rendered prompt missing %q", want)
		}
	}
	if strings.Contains(got, "{{") {
		t.Error("unreplaced placeholder left in prompt")
	}
}

func TestOverrideOnStartup(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "notes.md"), []byte("custom notes prompt\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "unknown.md"), []byte("ignored"), 0o644)

	s, err := New(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := s.Get(Notes); got != "custom notes prompt" {
		t.Errorf("Get(notes) = %q, want override", got)
	}
	if got := s.Overridden(); len(got) != 1 || got[0] != Notes {
		t.Errorf("Overridden() = %v, want [notes]", got)
	}
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir, zerolog.Nop())
	def := s.Get(Chat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Watch(ctx); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	path := filepath.Join(dir, "chat.md")
	os.WriteFile(path, []byte("be brief"), 0o644)
	waitFor(t, func() bool { return s.Get(Chat) == "be brief" })

	os.Remove(path)
	waitFor(t, func() bool { return s.Get(Chat) == def })
}

func TestWatchWithoutDirIsNoop(t *testing.T) {
	s, _ := New("", zerolog.Nop())
	if err := s.Watch(context.Background()); err != nil {
		t.Errorf("Watch() = %v, want nil", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
