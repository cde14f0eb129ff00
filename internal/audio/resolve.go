package audio

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// audioExts lists containers the transcription API accepts, best first.
var audioExts = []string{".m4a", ".webm", ".mp3", ".ogg", ".opus", ".wav", ".mp4"}

// ResolveFile returns the downloaded file for videoID inside dir, or ""
// if there is none. Partial downloads (.part, .ytdl, .temp) are ignored.
// When several candidates exist, a preferred container wins.
func ResolveFile(dir, videoID string) string {
	matches := matchPrefix(dir, videoID)
	var done []string
	for _, m := range matches {
		if isPartial(m) {
			continue
		}
		done = append(done, m)
	}
	if len(done) == 0 {
		return ""
	}

	sort.SliceStable(done, func(i, j int) bool {
		return extRank(done[i]) < extRank(done[j])
	})
	return filepath.Join(dir, done[0])
}

// removeByPrefix deletes every regular file in dir whose name starts with
// videoID and returns how many were removed.
func removeByPrefix(dir, videoID string) (int, error) {
	var removed int
	var firstErr error
	for _, name := range matchPrefix(dir, videoID) {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed++
	}
	return removed, firstErr
}

func matchPrefix(dir, videoID string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasPrefix(e.Name(), videoID) {
			names = append(names, e.Name())
		}
	}
	return names
}

func isPartial(name string) bool {
	for _, suffix := range []string{".part", ".ytdl", ".temp"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return strings.Contains(name, ".part-Frag")
}

func extRank(name string) int {
	ext := strings.ToLower(filepath.Ext(name))
	for i, e := range audioExts {
		if e == ext {
			return i
		}
	}
	return len(audioExts)
}
