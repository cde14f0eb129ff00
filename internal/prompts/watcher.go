package prompts

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounce = 250 * time.Millisecond

// Watch reloads overrides when files in the override directory change,
// until ctx is cancelled. It is a no-op without an override directory.
func (s *Store) Watch(ctx context.Context) error {
	if s.dir == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		return err
	}
	s.log.Info().Str("dir", s.dir).Msg("watching prompt overrides")

	go s.watchLoop(ctx, w)
	return nil
}

func (s *Store) watchLoop(ctx context.Context, w *fsnotify.Watcher) {
	defer w.Close()

	// Coalesce rapid Create+Write events on the same file.
	var mu sync.Mutex
	timers := make(map[string]*time.Timer)
	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[path]; ok {
			t.Reset(debounce)
			return
		}
		timers[path] = time.AfterFunc(debounce, func() {
			mu.Lock()
			delete(timers, path)
			mu.Unlock()
			s.reload(path)
		})
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			for _, t := range timers {
				t.Stop()
			}
			mu.Unlock()
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(strings.ToLower(event.Name), ".md") {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			schedule(event.Name)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}
