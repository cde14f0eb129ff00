package prompts

import (
	"embed"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

//go:embed defaults/*.md
var defaultFS embed.FS

// Prompt names.
const (
	Notes      = "notes"
	Chat       = "chat"
	Flashcards = "flashcards"
	Quiz       = "quiz"
	Synthesis  = "synthesis"
)

// Names lists every prompt the service uses.
var Names = []string{Notes, Chat, Flashcards, Quiz, Synthesis}

// Store holds system prompts: embedded defaults, optionally overridden by
// <name>.md files in an override directory.
type Store struct {
	dir string
	log zerolog.Logger

	mu        sync.RWMutex
	defaults  map[string]string
	overrides map[string]string
}

// New loads the embedded defaults and, if dir is non-empty, any overrides in it.
func New(dir string, log zerolog.Logger) (*Store, error) {
	s := &Store{
		dir:       dir,
		log:       log.With().Str("component", "prompts").Logger(),
		defaults:  make(map[string]string, len(Names)),
		overrides: make(map[string]string),
	}
	for _, name := range Names {
		data, err := defaultFS.ReadFile("defaults/" + name + ".md")
		if err != nil {
			return nil, err
		}
		s.defaults[name] = strings.TrimSpace(string(data))
	}
	if dir != "" {
		for _, name := range Names {
			s.reload(filepath.Join(dir, name+".md"))
		}
	}
	return s, nil
}

// Get returns the prompt text for name.
func (s *Store) Get(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.overrides[name]; ok {
		return p
	}
	return s.defaults[name]
}

// Render returns the prompt with every {{key}} replaced by vars[key].
func (s *Store) Render(name string, vars map[string]string) string {
	p := s.Get(name)
	if len(vars) == 0 {
		return p
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(p)
}

// Overridden reports which prompts currently come from the override dir.
func (s *Store) Overridden() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, name := range Names {
		if _, ok := s.overrides[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// reload re-reads one override file. A missing or blank file drops the
// override so the default applies again.
func (s *Store) reload(path string) {
	name := strings.TrimSuffix(filepath.Base(path), ".md")
	if _, known := s.defaults[name]; !known {
		return
	}

	data, err := os.ReadFile(path)
	text := strings.TrimSpace(string(data))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil || text == "" {
		if _, had := s.overrides[name]; had {
			delete(s.overrides, name)
			s.log.Info().Str("prompt", name).Msg("override removed, using default")
		}
		return
	}
	s.overrides[name] = text
	s.log.Info().Str("prompt", name).Str("path", path).Msg("prompt override loaded")
}
