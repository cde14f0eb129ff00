package audio

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ScratchPruner removes scratch directories left behind by crashed or
// abandoned requests.
type ScratchPruner struct {
	root      string
	retention time.Duration
	interval  time.Duration
	log       zerolog.Logger
	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
}

// NewScratchPruner prunes scratch directories under root older than
// retention. Only directories named by a scratch token are touched, so
// root may be shared with other programs.
func NewScratchPruner(root string, retention time.Duration, log zerolog.Logger) *ScratchPruner {
	return &ScratchPruner{
		root:      root,
		retention: retention,
		interval:  time.Hour,
		log:       log.With().Str("component", "scratch-pruner").Logger(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (p *ScratchPruner) Start() {
	go p.loop()
}

// Stop ends the loop and waits for an in-progress sweep.
func (p *ScratchPruner) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

func (p *ScratchPruner) loop() {
	defer close(p.done)
	p.Prune()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Prune()
		case <-p.stop:
			return
		}
	}
}

// Prune runs one sweep and returns the number of directories removed.
func (p *ScratchPruner) Prune() int {
	if p.retention <= 0 {
		return 0
	}
	entries, err := os.ReadDir(p.root)
	if err != nil {
		if !os.IsNotExist(err) {
			p.log.Warn().Err(err).Msg("read scratch root")
		}
		return 0
	}

	cutoff := time.Now().Add(-p.retention)
	pruned := 0
	for _, e := range entries {
		if !e.IsDir() || !isScratchToken(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(p.root, e.Name())); err != nil {
			p.log.Warn().Err(err).Str("dir", e.Name()).Msg("remove scratch dir")
			continue
		}
		pruned++
	}

	if pruned > 0 {
		p.log.Info().Int("pruned", pruned).Msg("scratch prune complete")
	}
	return pruned
}

// isScratchToken reports whether name could have come from Acquirer's
// token generator.
func isScratchToken(name string) bool {
	id, err := uuid.Parse(name)
	return err == nil && id.String() == name
}
