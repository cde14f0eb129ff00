package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/studynotes/internal/notes"
	"github.com/snarg/studynotes/internal/youtube"
)

const (
	defaultKeepalive = 15 * time.Second
	wsWriteWait      = 10 * time.Second
	maxManualChars   = 500_000
)

// Generator starts note generation pipelines.
type Generator interface {
	Generate(ctx context.Context, req notes.Request) <-chan notes.Event
}

// GenerateHandler exposes note generation over SSE and WebSocket.
type GenerateHandler struct {
	gen       Generator
	upgrader  websocket.Upgrader
	keepalive time.Duration
}

func NewGenerateHandler(gen Generator, origins []string) *GenerateHandler {
	return &GenerateHandler{
		gen: gen,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(origins) == 0 || origin == "" || slices.Contains(origins, origin)
			},
		},
		keepalive: defaultKeepalive,
	}
}

type generateRequest struct {
	Video      string `json:"video"`
	Transcript string `json:"transcript,omitempty"`
}

// parse validates the request and builds a pipeline request.
func (g generateRequest) parse(userID string) (notes.Request, error) {
	id, err := youtube.ExtractVideoID(g.Video)
	if err != nil {
		return notes.Request{}, err
	}
	if len(g.Transcript) > maxManualChars {
		return notes.Request{}, fmt.Errorf("transcript exceeds %d characters", maxManualChars)
	}
	return notes.Request{UserID: userID, VideoID: id, ManualTranscript: g.Transcript}, nil
}

// Generate handles POST /notes/generate with a JSON body.
func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var body generateRequest
	if err := DecodeJSON(r, &body); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	req, err := body.parse(UserIDFrom(r.Context()))
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	h.streamSSE(w, r, req)
}

// Stream handles GET /notes/stream?video=... for EventSource clients.
func (h *GenerateHandler) Stream(w http.ResponseWriter, r *http.Request) {
	video, _ := QueryString(r, "video")
	req, err := generateRequest{Video: video}.parse(UserIDFrom(r.Context()))
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	h.streamSSE(w, r, req)
}

// streamSSE writes each pipeline event as an SSE frame until the stream
// ends or the client disconnects.
func (h *GenerateHandler) streamSSE(w http.ResponseWriter, r *http.Request, req notes.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := h.gen.Generate(r.Context(), req)

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	log := hlog.FromRequest(r)
	log.Info().Str("video_id", req.VideoID).Msg("generation stream opened")

	for {
		select {
		case <-r.Context().Done():
			log.Info().Str("video_id", req.VideoID).Msg("SSE client disconnected")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				log.Error().Err(err).Msg("encode SSE event")
				return
			}
			flusher.Flush()
			if ev.Terminal() {
				return
			}
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

type messageData struct {
	Message string `json:"message"`
}

func writeSSE(w http.ResponseWriter, ev notes.Event) error {
	var payload any = messageData{Message: ev.Message}
	if ev.Type == notes.EventDone {
		payload = ev.Result
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

// WebSocket handles GET /notes/ws?video=... and sends one JSON message per
// event, closing the socket after the terminal one.
func (h *GenerateHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	video, _ := QueryString(r, "video")
	req, err := generateRequest{Video: video}.parse(UserIDFrom(r.Context()))
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	defer conn.Close()

	log := hlog.FromRequest(r)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The client sends nothing; reading surfaces its close frame.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	events := h.gen.Generate(ctx, req)
	ping := time.NewTicker(h.keepalive)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("video_id", req.VideoID).Msg("websocket client disconnected")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Warn().Err(err).Msg("websocket write failed")
				return
			}
			if ev.Terminal() {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(ev.Type))
				conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
				return
			}
		case <-ping.C:
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				log.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		}
	}
}

// Routes registers generation routes on the given router.
func (h *GenerateHandler) Routes(r chi.Router) {
	r.Post("/notes/generate", h.Generate)
	r.Get("/notes/stream", h.Stream)
	r.Get("/notes/ws", h.WebSocket)
}
