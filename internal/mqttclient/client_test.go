package mqttclient

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

type fakeToken struct {
	err      error
	timedOut bool
}

func (t *fakeToken) Wait() bool                     { return !t.timedOut }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timedOut }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeConn implements only Publish; other mqtt.Client methods panic.
type fakeConn struct {
	mqtt.Client
	mu    sync.Mutex
	msgs  []published
	token *fakeToken
}

func (f *fakeConn) Publish(topic string, qos byte, _ bool, payload any) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic: topic, qos: qos, payload: payload.([]byte)})
	if f.token != nil {
		return f.token
	}
	return &fakeToken{}
}

func newTestClient(prefix string, conn *fakeConn) *Client {
	return &Client{conn: conn, prefix: prefix, log: zerolog.Nop()}
}

func TestTopic(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"studynotes", "studynotes/notes/generated"},
		{"", "notes/generated"},
		{"a/b", "a/b/notes/generated"},
	}
	for _, tt := range tests {
		c := newTestClient(tt.prefix, &fakeConn{})
		if got := c.Topic("notes/generated"); got != tt.want {
			t.Errorf("Topic() with prefix %q = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestPublishNoteGenerated(t *testing.T) {
	conn := &fakeConn{}
	c := newTestClient("studynotes", conn)

	c.PublishNoteGenerated(NoteGenerated{NoteID: 42, UserID: "u1", VideoID: "dQw4w9WgXcQ", Title: "T", TranscriptSource: "captions"})

	if len(conn.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(conn.msgs))
	}
	msg := conn.msgs[0]
	if msg.topic != "studynotes/notes/generated" {
		t.Errorf("topic = %q", msg.topic)
	}
	if msg.qos != 0 {
		t.Errorf("qos = %d, want 0", msg.qos)
	}
	var got map[string]any
	if err := json.Unmarshal(msg.payload, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got["note_id"] != float64(42) || got["video_id"] != "dQw4w9WgXcQ" || got["transcript_source"] != "captions" {
		t.Errorf("payload = %v", got)
	}
}

func TestPublishFailureIsSwallowed(t *testing.T) {
	for _, tok := range []*fakeToken{{err: errors.New("not connected")}, {timedOut: true}} {
		conn := &fakeConn{token: tok}
		c := newTestClient("p", conn)
		c.PublishNoteGenerated(NoteGenerated{UserID: "u"})
		if len(conn.msgs) != 1 {
			t.Errorf("published %d messages, want 1", len(conn.msgs))
		}
	}
}

func TestNilClientPublishIsNoop(t *testing.T) {
	var c *Client
	c.PublishNoteGenerated(NoteGenerated{})
}
