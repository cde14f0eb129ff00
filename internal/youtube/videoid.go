package youtube

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidVideoID is returned when no video id can be found in the input.
var ErrInvalidVideoID = errors.New("invalid YouTube video id or URL")

var videoIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ExtractVideoID accepts a bare 11-character id or a YouTube URL
// (watch, youtu.be, shorts, embed, live) and returns the id.
func ExtractVideoID(input string) (string, error) {
	s := strings.TrimSpace(input)
	if videoIDRe.MatchString(s) {
		return s, nil
	}

	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", ErrInvalidVideoID
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")

	var id string
	switch host {
	case "youtu.be":
		id = segs[0]
	case "youtube.com", "music.youtube.com", "youtube-nocookie.com":
		switch {
		case segs[0] == "watch":
			id = u.Query().Get("v")
		case len(segs) >= 2 && (segs[0] == "shorts" || segs[0] == "embed" || segs[0] == "live" || segs[0] == "v"):
			id = segs[1]
		}
	}

	if !videoIDRe.MatchString(id) {
		return "", ErrInvalidVideoID
	}
	return id, nil
}
