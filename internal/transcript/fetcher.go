package transcript

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/snarg/studynotes/internal/audio"
	"github.com/snarg/studynotes/internal/metrics"
	"github.com/snarg/studynotes/internal/storage"
	"github.com/snarg/studynotes/internal/youtube"
)

// Source tags where a transcript came from.
type Source string

const (
	SourceCaptions      Source = "captions"
	SourceAudioFallback Source = "audio-fallback"
)

// Progress messages reported while falling back to audio.
const (
	MsgExtractingAudio   = "Captions unavailable, extracting audio..."
	MsgTranscribingAudio = "Transcribing audio..."
)

// ErrEmptyTranscript means a provider answered but produced no text.
var ErrEmptyTranscript = errors.New("transcript is empty")

// Result is a non-empty transcript and its provenance.
type Result struct {
	Text   string
	Source Source
}

// UnavailableError means both captions and the audio fallback failed.
type UnavailableError struct {
	VideoID     string
	CaptionErr  error
	FallbackErr error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("transcript unavailable for %s: captions: %v; audio fallback: %v", e.VideoID, e.CaptionErr, e.FallbackErr)
}

func (e *UnavailableError) Unwrap() []error {
	return []error{e.CaptionErr, e.FallbackErr}
}

// CaptionSource returns caption segments for a video, in order.
type CaptionSource interface {
	FetchCaptions(ctx context.Context, videoID string) ([]youtube.Segment, error)
}

// AudioSource downloads a video's audio track into a scratch artifact.
type AudioSource interface {
	Download(ctx context.Context, videoID string) (*audio.Artifact, error)
}

// Transcriber converts a downloaded artifact to text and removes it.
type Transcriber interface {
	Transcribe(ctx context.Context, art *audio.Artifact) (string, error)
}

// Archive persists fetched transcripts. Load returns storage.ErrNotFound on a miss.
type Archive interface {
	Load(ctx context.Context, videoID string) (*storage.TranscriptRecord, error)
	Save(ctx context.Context, rec storage.TranscriptRecord) error
}

// Fetcher acquires transcripts: captions first, then audio download plus
// speech-to-text. Archive is optional.
type Fetcher struct {
	captions    CaptionSource
	audio       AudioSource
	transcriber Transcriber
	archive     Archive
	log         zerolog.Logger
}

func NewFetcher(captions CaptionSource, audioSrc AudioSource, transcriber Transcriber, archive Archive, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		captions:    captions,
		audio:       audioSrc,
		transcriber: transcriber,
		archive:     archive,
		log:         log.With().Str("component", "transcript").Logger(),
	}
}

// attempt is the outcome of one acquisition path.
type attempt struct {
	text string
	err  error
}

func (a attempt) usable() bool {
	return a.err == nil && a.text != ""
}

// Fetch returns the transcript for videoID. progress, if non-nil, is
// called before each fallback step so callers can report status.
// The steps run strictly in order: captions, download, transcription.
func (f *Fetcher) Fetch(ctx context.Context, videoID string, progress func(string)) (Result, error) {
	if progress == nil {
		progress = func(string) {}
	}
	log := f.log.With().Str("video_id", videoID).Logger()

	if res, ok := f.fromArchive(ctx, videoID); ok {
		log.Debug().Str("source", string(res.Source)).Msg("transcript served from archive")
		return res, nil
	}

	caps := f.fromCaptions(ctx, videoID)
	if caps.usable() {
		return f.finish(ctx, videoID, Result{Text: caps.text, Source: SourceCaptions}), nil
	}
	log.Info().Err(caps.err).Msg("captions unusable, falling back to audio")

	progress(MsgExtractingAudio)
	fb := f.fromAudio(ctx, videoID, progress)
	if fb.usable() {
		return f.finish(ctx, videoID, Result{Text: fb.text, Source: SourceAudioFallback}), nil
	}

	log.Warn().Err(fb.err).Msg("audio fallback failed")
	return Result{}, &UnavailableError{VideoID: videoID, CaptionErr: caps.err, FallbackErr: fb.err}
}

func (f *Fetcher) fromCaptions(ctx context.Context, videoID string) attempt {
	segs, err := f.captions.FetchCaptions(ctx, videoID)
	if err != nil {
		return attempt{err: err}
	}
	text := youtube.JoinSegments(segs)
	if text == "" {
		return attempt{err: fmt.Errorf("captions: %w", ErrEmptyTranscript)}
	}
	return attempt{text: text}
}

func (f *Fetcher) fromAudio(ctx context.Context, videoID string, progress func(string)) attempt {
	art, err := f.audio.Download(ctx, videoID)
	if err != nil {
		return attempt{err: err}
	}
	// Transcribers remove the artifact themselves; this covers any that don't.
	defer art.Remove()

	progress(MsgTranscribingAudio)
	text, err := f.transcriber.Transcribe(ctx, art)
	if err != nil {
		return attempt{err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return attempt{err: fmt.Errorf("speech-to-text: %w", ErrEmptyTranscript)}
	}
	return attempt{text: text}
}

func (f *Fetcher) fromArchive(ctx context.Context, videoID string) (Result, bool) {
	if f.archive == nil {
		return Result{}, false
	}
	rec, err := f.archive.Load(ctx, videoID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			f.log.Warn().Err(err).Str("video_id", videoID).Msg("transcript archive read failed")
		}
		return Result{}, false
	}
	if strings.TrimSpace(rec.Text) == "" {
		return Result{}, false
	}
	metrics.TranscriptsTotal.WithLabelValues("archive").Inc()
	return Result{Text: rec.Text, Source: Source(rec.Source)}, true
}

func (f *Fetcher) finish(ctx context.Context, videoID string, res Result) Result {
	metrics.TranscriptsTotal.WithLabelValues(string(res.Source)).Inc()
	if f.archive != nil {
		err := f.archive.Save(ctx, storage.TranscriptRecord{VideoID: videoID, Text: res.Text, Source: string(res.Source)})
		if err != nil {
			f.log.Warn().Err(err).Str("video_id", videoID).Msg("transcript archive write failed")
		}
	}
	return res
}
