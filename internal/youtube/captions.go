package youtube

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoCaptions means the video has no usable caption track.
var ErrNoCaptions = errors.New("no captions available")

const (
	defaultWatchBase   = "https://www.youtube.com/watch?v="
	playerRespMarker   = "ytInitialPlayerResponse = "
	maxWatchPageBytes  = 6 << 20
	maxTimedTextBytes  = 2 << 20
	browserUserAgent   = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	defaultHTTPTimeout = 30 * time.Second
)

// CaptionClient scrapes the watch page for caption tracks and downloads
// the best one as timed text.
type CaptionClient struct {
	http      *http.Client
	watchBase string
	langs     []string
	log       zerolog.Logger
}

// CaptionOption customizes a CaptionClient.
type CaptionOption func(*CaptionClient)

// WithWatchBase overrides the watch page URL prefix (the video id is appended).
func WithWatchBase(base string) CaptionOption {
	return func(c *CaptionClient) { c.watchBase = base }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) CaptionOption {
	return func(c *CaptionClient) { c.http = hc }
}

// NewCaptionClient creates a caption client preferring langs in order.
func NewCaptionClient(langs []string, log zerolog.Logger, opts ...CaptionOption) *CaptionClient {
	if len(langs) == 0 {
		langs = []string{"en"}
	}
	c := &CaptionClient{
		http:      &http.Client{Timeout: defaultHTTPTimeout},
		watchBase: defaultWatchBase,
		langs:     langs,
		log:       log.With().Str("component", "captions").Logger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FetchCaptions returns the caption segments for videoID in track order.
func (c *CaptionClient) FetchCaptions(ctx context.Context, videoID string) ([]Segment, error) {
	body, err := c.get(ctx, c.watchBase+videoID, maxWatchPageBytes, "text/html,application/xhtml+xml")
	if err != nil {
		return nil, fmt.Errorf("watch page: %w", err)
	}

	idx := strings.Index(string(body), playerRespMarker)
	if idx < 0 {
		return nil, errors.New("ytInitialPlayerResponse not found in watch page")
	}
	raw := extractJSON(body[idx+len(playerRespMarker):])
	if raw == nil {
		return nil, errors.New("malformed ytInitialPlayerResponse")
	}

	var pr playerResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return nil, fmt.Errorf("decode player response: %w", err)
	}
	if pr.Captions == nil || len(pr.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks) == 0 {
		if pr.PlayabilityStatus != nil && pr.PlayabilityStatus.Reason != "" {
			return nil, fmt.Errorf("%w: %s", ErrNoCaptions, pr.PlayabilityStatus.Reason)
		}
		return nil, ErrNoCaptions
	}

	track, ok := pickBestTrack(pr.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks, c.langs)
	if !ok {
		return nil, fmt.Errorf("%w: all tracks require a browser token", ErrNoCaptions)
	}
	c.log.Debug().Str("video_id", videoID).Str("lang", track.LanguageCode).Str("kind", track.Kind).Msg("caption track selected")

	xmlBody, err := c.get(ctx, track.BaseURL, maxTimedTextBytes, "*/*")
	if err != nil {
		return nil, fmt.Errorf("timedtext: %w", err)
	}
	return parseTimedText(xmlBody)
}

func (c *CaptionClient) get(ctx context.Context, url string, limit int64, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept", accept)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return io.ReadAll(io.LimitReader(resp.Body, limit))
}

func parseTimedText(body []byte) ([]Segment, error) {
	var tt timedText
	if err := xml.Unmarshal(body, &tt); err != nil {
		return nil, fmt.Errorf("parse timedtext XML: %w", err)
	}
	segs := make([]Segment, 0, len(tt.Lines))
	for _, l := range tt.Lines {
		// Timed text is double-escaped; xml handles one layer.
		segs = append(segs, Segment{
			Text:     html.UnescapeString(l.Text),
			Start:    l.Start,
			Duration: l.Duration,
		})
	}
	return segs, nil
}

// JoinSegments concatenates segments in chronological order, collapses
// runs of whitespace to one space and trims the result.
// Joining already-joined text yields the same string.
func JoinSegments(segs []Segment) string {
	ordered := make([]Segment, len(segs))
	copy(ordered, segs)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Start < ordered[j].Start })

	var sb strings.Builder
	for _, s := range ordered {
		sb.WriteString(s.Text)
		sb.WriteByte(' ')
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

// needsPoToken reports whether a track URL can only be fetched by a browser.
func needsPoToken(baseURL string) bool {
	return strings.Contains(baseURL, "&exp=xpe")
}

// pickBestTrack prefers, in order: a manual track in a preferred language,
// an auto-generated one in a preferred language, any English track, then
// the first usable track.
func pickBestTrack(tracks []captionTrack, langs []string) (captionTrack, bool) {
	usable := make([]captionTrack, 0, len(tracks))
	for _, t := range tracks {
		if !needsPoToken(t.BaseURL) {
			usable = append(usable, t)
		}
	}
	if len(usable) == 0 {
		return captionTrack{}, false
	}
	for _, lang := range langs {
		for _, t := range usable {
			if t.LanguageCode == lang && t.Kind != "asr" {
				return t, true
			}
		}
	}
	for _, lang := range langs {
		for _, t := range usable {
			if t.LanguageCode == lang {
				return t, true
			}
		}
	}
	for _, t := range usable {
		if strings.HasPrefix(t.LanguageCode, "en") {
			return t, true
		}
	}
	return usable[0], true
}

// extractJSON returns the JSON object starting at b[0] by tracking brace
// depth outside string literals.
func extractJSON(b []byte) []byte {
	if len(b) == 0 || b[0] != '{' {
		return nil
	}
	depth := 0
	inStr, escaped := false, false
	for i, c := range b {
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return b[:i+1]
			}
		}
	}
	return nil
}
