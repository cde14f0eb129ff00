package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/studynotes/internal/metrics"
	"github.com/snarg/studynotes/internal/youtube"
)

// bestAudioFormat prefers containers the transcription API accepts as-is.
const bestAudioFormat = "bestaudio[ext=m4a]/bestaudio[ext=webm]/bestaudio"

// DownloadError is returned when no audio file could be obtained.
type DownloadError struct {
	VideoID string
	Reason  string
	Stderr  string
	Err     error
}

func (e *DownloadError) Error() string {
	msg := fmt.Sprintf("download audio for %s: %s", e.VideoID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += " (" + e.Stderr + ")"
	}
	return msg
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Artifact is a downloaded audio file owned by one request. It lives in
// its own scratch directory; Remove deletes the directory.
type Artifact struct {
	Path    string
	VideoID string
	Token   string

	dir  string
	once sync.Once
	err  error
}

// NewArtifact wraps path, which must live inside the scratch directory
// dir. Remove deletes all of dir.
func NewArtifact(dir, path, videoID, token string) *Artifact {
	return &Artifact{Path: path, VideoID: videoID, Token: token, dir: dir}
}

// Remove deletes the artifact and its scratch directory. Safe to call
// more than once.
func (a *Artifact) Remove() error {
	if a == nil {
		return nil
	}
	a.once.Do(func() {
		a.err = os.RemoveAll(a.dir)
	})
	return a.err
}

type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution so tests can fake yt-dlp.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		return res, err
	}
	return res, nil
}

// Acquirer downloads best-available audio for a video with yt-dlp.
type Acquirer struct {
	binary   string
	tempDir  string
	timeout  time.Duration
	runner   commandRunner
	newToken func() string
	log      zerolog.Logger
}

// NewAcquirer creates an acquirer writing under tempDir. binary defaults
// to "yt-dlp" on PATH.
func NewAcquirer(binary, tempDir string, timeout time.Duration, log zerolog.Logger) *Acquirer {
	if binary == "" {
		binary = "yt-dlp"
	}
	return &Acquirer{
		binary:   binary,
		tempDir:  tempDir,
		timeout:  timeout,
		runner:   execRunner{},
		newToken: uuid.NewString,
		log:      log.With().Str("component", "audio").Logger(),
	}
}

// TempDir returns the root under which scratch directories are created.
func (a *Acquirer) TempDir() string { return a.tempDir }

// Download fetches audio for videoID into a fresh scratch directory.
// Any file already named <videoID>* in that directory is removed first,
// and the download only counts once a matching file exists afterward.
// The caller owns the returned artifact and must Remove it.
func (a *Acquirer) Download(ctx context.Context, videoID string) (*Artifact, error) {
	if videoID == "" {
		return nil, &DownloadError{Reason: "empty video id"}
	}

	token := a.newToken()
	dir := filepath.Join(a.tempDir, token)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &DownloadError{VideoID: videoID, Reason: "create scratch dir", Err: err}
	}
	log := a.log.With().Str("video_id", videoID).Str("token", token).Logger()

	if n, err := removeByPrefix(dir, videoID); err != nil {
		os.RemoveAll(dir)
		return nil, &DownloadError{VideoID: videoID, Reason: "remove stale files", Err: err}
	} else if n > 0 {
		log.Debug().Int("removed", n).Msg("removed stale audio files")
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := time.Now()
	args := []string{
		"-f", bestAudioFormat,
		"--no-playlist",
		"--no-warnings",
		"--no-progress",
		"-o", filepath.Join(dir, videoID+".%(ext)s"),
		youtube.WatchURL(videoID),
	}
	res, err := a.runner.Run(ctx, a.binary, args...)
	if err != nil {
		os.RemoveAll(dir)
		metrics.AudioDownloadsTotal.WithLabelValues("failed").Inc()
		return nil, &DownloadError{VideoID: videoID, Reason: "downloader failed", Stderr: tail(res.Stderr, 512), Err: err}
	}

	path := ResolveFile(dir, videoID)
	if path == "" {
		os.RemoveAll(dir)
		metrics.AudioDownloadsTotal.WithLabelValues("missing").Inc()
		return nil, &DownloadError{VideoID: videoID, Reason: "no file produced"}
	}

	metrics.AudioDownloadsTotal.WithLabelValues("ok").Inc()
	log.Info().
		Str("file", filepath.Base(path)).
		Dur("elapsed", time.Since(start)).
		Msg("audio downloaded")

	return &Artifact{Path: path, VideoID: videoID, Token: token, dir: dir}, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
