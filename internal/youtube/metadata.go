package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/snarg/studynotes/internal/cache"
	"github.com/snarg/studynotes/internal/keyrotation"
)

// ErrVideoNotFound means the Data API returned no item for the id.
var ErrVideoNotFound = errors.New("video not found")

const defaultDataAPIBase = "https://www.googleapis.com/youtube/v3"

// Cache is the subset of cache.Cache used for metadata.
type Cache interface {
	Get(ctx context.Context, key string, v any) bool
	Set(ctx context.Context, key string, v any)
}

// MetadataClient calls the YouTube Data API through a key pool.
type MetadataClient struct {
	http  *http.Client
	base  string
	keys  *keyrotation.Pool
	cache Cache
	log   zerolog.Logger
}

// NewMetadataClient creates a client. base may be empty for the public API;
// c may be nil to disable caching.
func NewMetadataClient(keys *keyrotation.Pool, c Cache, base string, log zerolog.Logger) *MetadataClient {
	if base == "" {
		base = defaultDataAPIBase
	}
	return &MetadataClient{
		http:  &http.Client{Timeout: defaultHTTPTimeout},
		base:  strings.TrimRight(base, "/"),
		keys:  keys,
		cache: c,
		log:   log.With().Str("component", "metadata").Logger(),
	}
}

// GetVideoMetadata returns title, channel, thumbnail and caption flag for videoID.
func (m *MetadataClient) GetVideoMetadata(ctx context.Context, videoID string) (*Metadata, error) {
	key := cache.Key("videos.list", videoID)
	if m.cache != nil {
		var cached Metadata
		if m.cache.Get(ctx, key, &cached) {
			return &cached, nil
		}
	}

	md, err := keyrotation.Call(ctx, m.keys, "videos.list", func(ctx context.Context, apiKey string) (*Metadata, error) {
		return m.videosList(ctx, videoID, apiKey)
	})
	if err != nil {
		return nil, err
	}

	if m.cache != nil {
		m.cache.Set(ctx, key, md)
	}
	return md, nil
}

func (m *MetadataClient) videosList(ctx context.Context, videoID, apiKey string) (*Metadata, error) {
	params := url.Values{}
	params.Set("part", "snippet,contentDetails")
	params.Set("id", videoID)
	params.Set("key", apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.base+"/videos?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeGoogleError(resp)
	}

	var out videosListResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode videos.list: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, ErrVideoNotFound
	}

	item := out.Items[0]
	return &Metadata{
		ID:           videoID,
		Title:        item.Snippet.Title,
		Channel:      item.Snippet.ChannelTitle,
		ThumbnailURL: bestThumbnail(item.Snippet.Thumbnails),
		HasCaptions:  item.ContentDetails.Caption == "true",
	}, nil
}

// decodeGoogleError turns a Google API error body into an APIError whose
// message carries the reason codes (e.g. "quotaExceeded").
func decodeGoogleError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))

	var ge googleErrorResponse
	if json.Unmarshal(body, &ge) == nil && ge.Error.Message != "" {
		msg = ge.Error.Message
		for _, e := range ge.Error.Errors {
			if e.Reason != "" {
				msg += " [" + e.Reason + "]"
			}
		}
	}
	return &keyrotation.APIError{StatusCode: resp.StatusCode, Message: msg}
}

func bestThumbnail(thumbs map[string]struct {
	URL string `json:"url"`
}) string {
	for _, size := range []string{"maxres", "standard", "high", "medium", "default"} {
		if t, ok := thumbs[size]; ok && t.URL != "" {
			return t.URL
		}
	}
	return ""
}
