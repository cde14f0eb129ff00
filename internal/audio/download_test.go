package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// fakeRunner stands in for yt-dlp. It records the invocation and writes
// the files named in produce into the directory of the -o template.
type fakeRunner struct {
	mu      sync.Mutex
	calls   [][]string
	produce []string
	err     error
	stderr  string
	onRun   func(outDir string)
	outDir  string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string{name}, args...))

	for i, a := range args {
		if a == "-o" && i+1 < len(args) {
			f.outDir = filepath.Dir(args[i+1])
		}
	}
	if f.onRun != nil {
		f.onRun(f.outDir)
	}
	for _, p := range f.produce {
		os.WriteFile(filepath.Join(f.outDir, p), []byte("audio"), 0o644)
	}
	return commandResult{Stderr: f.stderr}, f.err
}

func newTestAcquirer(t *testing.T, r commandRunner, token string) *Acquirer {
	t.Helper()
	a := NewAcquirer("yt-dlp", t.TempDir(), time.Minute, zerolog.Nop())
	a.runner = r
	if token != "" {
		a.newToken = func() string { return token }
	}
	return a
}

func TestDownload_Success(t *testing.T) {
	r := &fakeRunner{produce: []string{"abc123.m4a"}}
	a := newTestAcquirer(t, r, "")

	art, err := a.Download(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	if filepath.Base(art.Path) != "abc123.m4a" {
		t.Errorf("Path = %q, want abc123.m4a", art.Path)
	}
	if art.VideoID != "abc123" || art.Token == "" {
		t.Errorf("artifact = %+v", art)
	}
	if !strings.HasPrefix(art.Path, filepath.Join(a.TempDir(), art.Token)) {
		t.Errorf("artifact %q not inside its scratch dir", art.Path)
	}

	call := strings.Join(r.calls[0], " ")
	for _, want := range []string{"yt-dlp", "-f " + bestAudioFormat, "--no-playlist", "abc123.%(ext)s", "watch?v=abc123"} {
		if !strings.Contains(call, want) {
			t.Errorf("invocation %q missing %q", call, want)
		}
	}

	if err := art.Remove(); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if _, err := os.Stat(art.Path); !os.IsNotExist(err) {
		t.Errorf("artifact still exists after Remove")
	}
	if err := art.Remove(); err != nil {
		t.Errorf("second Remove() error: %v", err)
	}
}

func TestDownload_RemovesStaleFilesFirst(t *testing.T) {
	const token = "fixed-token"
	var staleSeen bool
	r := &fakeRunner{
		produce: []string{"abc123.webm"},
		onRun: func(outDir string) {
			matches, _ := filepath.Glob(filepath.Join(outDir, "abc123.*"))
			staleSeen = len(matches) > 0
		},
	}
	a := newTestAcquirer(t, r, token)

	scratch := filepath.Join(a.TempDir(), token)
	os.MkdirAll(scratch, 0o755)
	os.WriteFile(filepath.Join(scratch, "abc123.m4a"), []byte("old"), 0o644)
	os.WriteFile(filepath.Join(scratch, "abc123.m4a.part"), []byte("old"), 0o644)
	os.WriteFile(filepath.Join(scratch, "other.m4a"), []byte("keep"), 0o644)

	art, err := a.Download(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	if staleSeen {
		t.Error("stale abc123.* files were present when the downloader ran")
	}
	if filepath.Base(art.Path) != "abc123.webm" {
		t.Errorf("Path = %q, want the fresh abc123.webm", art.Path)
	}
	if _, err := os.Stat(filepath.Join(scratch, "other.m4a")); err != nil {
		t.Errorf("unrelated file removed: %v", err)
	}
}

func TestDownload_NoFileProduced(t *testing.T) {
	r := &fakeRunner{}
	a := newTestAcquirer(t, r, "")

	_, err := a.Download(context.Background(), "abc123")
	var dlErr *DownloadError
	if !errors.As(err, &dlErr) {
		t.Fatalf("err = %v, want *DownloadError", err)
	}
	if dlErr.Reason != "no file produced" {
		t.Errorf("Reason = %q, want %q", dlErr.Reason, "no file produced")
	}

	entries, _ := os.ReadDir(a.TempDir())
	if len(entries) != 0 {
		t.Errorf("scratch dir left behind: %d entries", len(entries))
	}
}

func TestDownload_OnlyPartialFile(t *testing.T) {
	r := &fakeRunner{produce: []string{"abc123.m4a.part"}}
	a := newTestAcquirer(t, r, "")

	_, err := a.Download(context.Background(), "abc123")
	var dlErr *DownloadError
	if !errors.As(err, &dlErr) || dlErr.Reason != "no file produced" {
		t.Fatalf("err = %v, want no file produced", err)
	}
}

func TestDownload_DownloaderFails(t *testing.T) {
	runErr := errors.New("exit status 1")
	r := &fakeRunner{err: runErr, stderr: "ERROR: Video unavailable"}
	a := newTestAcquirer(t, r, "")

	_, err := a.Download(context.Background(), "abc123")
	var dlErr *DownloadError
	if !errors.As(err, &dlErr) {
		t.Fatalf("err = %v, want *DownloadError", err)
	}
	if !errors.Is(err, runErr) {
		t.Errorf("cause not preserved: %v", err)
	}
	if !strings.Contains(err.Error(), "Video unavailable") {
		t.Errorf("stderr missing from %q", err.Error())
	}
}

func TestDownload_ConcurrentSameVideo(t *testing.T) {
	r := &fakeRunner{produce: []string{"abc123.m4a"}}
	a := newTestAcquirer(t, r, "")

	var wg sync.WaitGroup
	arts := make([]*Artifact, 4)
	for i := range arts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			art, err := a.Download(context.Background(), "abc123")
			if err != nil {
				t.Errorf("Download() error: %v", err)
				return
			}
			arts[i] = art
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, art := range arts {
		if art == nil {
			continue
		}
		if seen[art.Path] {
			t.Errorf("two requests share %q", art.Path)
		}
		seen[art.Path] = true
	}

	// Removing one request's artifact leaves the others intact.
	arts[0].Remove()
	for _, art := range arts[1:] {
		if _, err := os.Stat(art.Path); err != nil {
			t.Errorf("artifact %q removed by another request: %v", art.Path, err)
		}
	}
}

func TestResolveFile(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"vid.webm", "vid.m4a", "vid.m4a.part", "vidx.mp3"} {
		os.WriteFile(filepath.Join(dir, n), nil, 0o644)
	}
	got := ResolveFile(dir, "vid")
	if filepath.Base(got) != "vid.m4a" {
		t.Errorf("ResolveFile = %q, want vid.m4a", got)
	}
	if got := ResolveFile(dir, "missing"); got != "" {
		t.Errorf("ResolveFile(missing) = %q, want empty", got)
	}
}

func TestScratchPruner(t *testing.T) {
	root := t.TempDir()
	old := filepath.Join(root, uuid.NewString())
	fresh := filepath.Join(root, uuid.NewString())
	os.MkdirAll(old, 0o755)
	os.MkdirAll(fresh, 0o755)
	os.WriteFile(filepath.Join(old, "a.m4a"), nil, 0o644)

	past := time.Now().Add(-2 * time.Hour)
	os.Chtimes(old, past, past)

	p := NewScratchPruner(root, time.Hour, zerolog.Nop())
	if n := p.Prune(); n != 1 {
		t.Errorf("Prune() = %d, want 1", n)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("old scratch dir not removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh scratch dir removed")
	}

	p.Start()
	p.Stop()
}

func TestScratchPrunerLeavesForeignDirs(t *testing.T) {
	root := t.TempDir()
	past := time.Now().Add(-2 * time.Hour)

	// A shared temp dir holds other programs' entries, some of them old.
	foreign := []string{
		"systemd-private-xyz",
		"go-build123",
		strings.ToUpper(uuid.NewString()),
		"{" + uuid.NewString() + "}",
	}
	for _, name := range foreign {
		dir := filepath.Join(root, name)
		os.MkdirAll(dir, 0o755)
		os.WriteFile(filepath.Join(dir, "keep"), []byte("x"), 0o644)
		os.Chtimes(dir, past, past)
	}
	ours := filepath.Join(root, uuid.NewString())
	os.MkdirAll(ours, 0o755)
	os.Chtimes(ours, past, past)

	if n := NewScratchPruner(root, time.Hour, zerolog.Nop()).Prune(); n != 1 {
		t.Errorf("Prune() = %d, want 1", n)
	}
	for _, name := range foreign {
		if _, err := os.Stat(filepath.Join(root, name, "keep")); err != nil {
			t.Errorf("foreign dir %s was touched: %v", name, err)
		}
	}
	if _, err := os.Stat(ours); !os.IsNotExist(err) {
		t.Error("aged scratch dir not removed")
	}
}
