package notes

import "github.com/snarg/studynotes/internal/youtube"

type EventType string

const (
	EventStatus EventType = "status"
	EventError  EventType = "error"
	EventDone   EventType = "done"
)

// Event is one message on a generation stream. Message is set for status
// and error events, Result for done.
type Event struct {
	Type    EventType `json:"type"`
	Message string    `json:"message,omitempty"`
	Result  *Result   `json:"data,omitempty"`
}

// Terminal reports whether no further events follow ev.
func (ev Event) Terminal() bool {
	return ev.Type == EventDone || ev.Type == EventError
}

// Result is the payload of a done event.
type Result struct {
	Video            youtube.Metadata `json:"video"`
	Notes            string           `json:"notes"`
	NoteID           int64            `json:"note_id,omitempty"`
	TranscriptSource string           `json:"transcript_source"`
}

// State is a pipeline stage.
type State int

const (
	StateInit State = iota
	StateMetadataFetch
	StateTranscriptAcquire
	StateNoteGeneration
	StatePersist
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateInit:              "init",
	StateMetadataFetch:     "metadata_fetch",
	StateTranscriptAcquire: "transcript_acquire",
	StateNoteGeneration:    "note_generation",
	StatePersist:           "persist",
	StateDone:              "done",
	StateFailed:            "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
