package notes

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/studynotes/internal/database"
	"github.com/snarg/studynotes/internal/llm"
	"github.com/snarg/studynotes/internal/metrics"
	"github.com/snarg/studynotes/internal/mqttclient"
	"github.com/snarg/studynotes/internal/transcript"
	"github.com/snarg/studynotes/internal/youtube"
)

// Status and error messages shown to the client.
const (
	MsgRetrievingTranscript = "Retrieving transcript..."
	MsgStructuring          = "Structuring..."
	MsgFinalizing           = "Finalizing..."
	MsgMetadataFailed       = "metadata fetch failed"
	MsgGenerationFailed     = "note generation failed"
)

// SourceManual tags a transcript supplied by the caller.
const SourceManual transcript.Source = "manual"

// MetadataSource looks up video title and channel.
type MetadataSource interface {
	GetVideoMetadata(ctx context.Context, videoID string) (*youtube.Metadata, error)
}

// TranscriptSource produces a transcript, reporting fallback progress.
type TranscriptSource interface {
	Fetch(ctx context.Context, videoID string, progress func(string)) (transcript.Result, error)
}

// NoteWriter turns a transcript into study notes.
type NoteWriter interface {
	GenerateNotes(ctx context.Context, title, channel, transcript string, style llm.Style) (string, error)
}

// Store reads user preferences and saves finished notes.
type Store interface {
	GetPreferences(ctx context.Context, userID string) (database.Preferences, error)
	InsertNote(ctx context.Context, row *database.NoteRow) (int64, error)
}

// Notifier announces newly generated notes.
type Notifier interface {
	PublishNoteGenerated(evt mqttclient.NoteGenerated)
}

// Request is one note generation.
type Request struct {
	UserID           string
	VideoID          string
	ManualTranscript string
}

// Options holds a Generator's dependencies.
type Options struct {
	Metadata    MetadataSource
	Transcripts TranscriptSource
	Writer      NoteWriter
	Store       Store
	Notifier    Notifier // optional
	Log         zerolog.Logger
}

// Generator runs the metadata → transcript → notes → persist pipeline and
// reports progress as a stream of events.
type Generator struct {
	meta        MetadataSource
	transcripts TranscriptSource
	writer      NoteWriter
	store       Store
	notifier    Notifier
	log         zerolog.Logger

	active atomic.Int64
}

func NewGenerator(opts Options) *Generator {
	return &Generator{
		meta:        opts.Metadata,
		transcripts: opts.Transcripts,
		writer:      opts.Writer,
		store:       opts.Store,
		notifier:    opts.Notifier,
		log:         opts.Log.With().Str("component", "generator").Logger(),
	}
}

// ActiveGenerations reports pipelines currently running.
func (g *Generator) ActiveGenerations() int {
	return int(g.active.Load())
}

// Generate starts a pipeline and returns its event stream. The stream
// carries zero or more status events followed by exactly one done or
// error event, then is closed.
//
// Cancelling ctx (client disconnect) does not abort the external call in
// progress; its result is discarded and no later step starts.
func (g *Generator) Generate(ctx context.Context, req Request) <-chan Event {
	out := make(chan Event, 8)
	r := &run{
		g:      g,
		req:    req,
		client: ctx,
		work:   context.WithoutCancel(ctx),
		out:    out,
		state:  StateInit,
		log: g.log.With().
			Str("video_id", req.VideoID).
			Str("user_id", req.UserID).
			Logger(),
	}
	g.active.Add(1)
	go func() {
		defer close(out)
		defer g.active.Add(-1)
		r.execute()
	}()
	return out
}

// run is the state of one pipeline. Only its goroutine writes to out.
type run struct {
	g      *Generator
	req    Request
	client context.Context // cancelled when the caller goes away
	work   context.Context // used for external calls
	out    chan<- Event
	state  State
	log    zerolog.Logger
	start  time.Time
}

func (r *run) execute() {
	r.start = time.Now()

	r.enter(StateMetadataFetch)
	video, err := r.g.meta.GetVideoMetadata(r.work, r.req.VideoID)
	if err != nil {
		r.fail(MsgMetadataFailed, err)
		return
	}
	if r.abandoned() {
		return
	}

	r.enter(StateTranscriptAcquire)
	text, source, err := r.transcript()
	if err != nil {
		r.fail(err.Error(), err)
		return
	}
	if r.abandoned() {
		return
	}

	r.enter(StateNoteGeneration)
	r.status(MsgStructuring)
	style := r.style()
	notes, err := r.g.writer.GenerateNotes(r.work, video.Title, video.Channel, text, style)
	if err != nil {
		r.fail(MsgGenerationFailed, err)
		return
	}
	if r.abandoned() {
		return
	}

	r.enter(StatePersist)
	r.status(MsgFinalizing)
	noteID := r.persist(video, notes, source)

	r.enter(StateDone)
	metrics.NotesGeneratedTotal.Inc()
	r.log.Info().
		Str("transcript_source", string(source)).
		Int64("note_id", noteID).
		Dur("elapsed", time.Since(r.start)).
		Msg("notes generated")
	r.emit(Event{Type: EventDone, Result: &Result{
		Video:            *video,
		Notes:            notes,
		NoteID:           noteID,
		TranscriptSource: string(source),
	}})
}

// transcript returns the caller's transcript when given, otherwise fetches one.
func (r *run) transcript() (string, transcript.Source, error) {
	if manual := strings.TrimSpace(r.req.ManualTranscript); manual != "" {
		r.log.Debug().Int("chars", len(manual)).Msg("using manual transcript")
		return manual, SourceManual, nil
	}
	r.status(MsgRetrievingTranscript)
	res, err := r.g.transcripts.Fetch(r.work, r.req.VideoID, r.status)
	if err != nil {
		return "", "", err
	}
	return res.Text, res.Source, nil
}

// style looks up the user's preferences. Lookup failures fall back to
// defaults rather than failing the request.
func (r *run) style() llm.Style {
	prefs, err := r.g.store.GetPreferences(r.work, r.req.UserID)
	if err != nil {
		r.log.Warn().Err(err).Msg("preference lookup failed, using defaults")
		prefs = database.DefaultPreferences
	}
	return llm.Style{Tone: prefs.Tone, DetailLevel: prefs.DetailLevel, Language: prefs.Language}
}

// persist saves the note and returns its id, or 0 if saving failed.
// Failures are logged only; the caller still gets the notes.
func (r *run) persist(video *youtube.Metadata, notes string, source transcript.Source) int64 {
	id, err := r.g.store.InsertNote(r.work, &database.NoteRow{
		UserID:           r.req.UserID,
		VideoID:          video.ID,
		Title:            video.Title,
		Channel:          video.Channel,
		ThumbnailURL:     video.ThumbnailURL,
		Notes:            notes,
		TranscriptSource: string(source),
		Kind:             database.KindVideo,
	})
	if err != nil {
		metrics.PersistFailuresTotal.Inc()
		r.log.Warn().Err(err).Msg("failed to save note, returning it unsaved")
		return 0
	}

	if r.g.notifier != nil {
		r.g.notifier.PublishNoteGenerated(mqttclient.NoteGenerated{
			NoteID:           id,
			UserID:           r.req.UserID,
			VideoID:          video.ID,
			Title:            video.Title,
			TranscriptSource: string(source),
		})
	}
	return id
}

func (r *run) enter(s State) {
	r.log.Debug().Stringer("from", r.state).Stringer("to", s).Msg("state transition")
	r.state = s
}

func (r *run) status(msg string) {
	r.emit(Event{Type: EventStatus, Message: msg})
}

func (r *run) fail(msg string, err error) {
	stage := r.state
	r.enter(StateFailed)
	metrics.GenerationFailuresTotal.WithLabelValues(stage.String()).Inc()
	r.log.Error().Err(err).Stringer("stage", stage).Msg("note generation failed")
	r.emit(Event{Type: EventError, Message: msg})
}

// abandoned reports whether the caller has gone away; if so the pipeline stops.
func (r *run) abandoned() bool {
	if r.client.Err() == nil {
		return false
	}
	r.log.Info().Stringer("state", r.state).Msg("client disconnected, abandoning generation")
	r.state = StateFailed
	return true
}

// emit delivers ev unless the caller has stopped listening.
func (r *run) emit(ev Event) {
	select {
	case r.out <- ev:
	case <-r.client.Done():
	}
}
