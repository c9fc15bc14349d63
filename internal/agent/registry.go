// internal/agent/registry.go
package agent

import (
	"fmt"
	"sort"

	"feedtranslator/internal/config"

	"github.com/rs/zerolog"
)

// Registry resolves the agent identifiers stored on feeds.
type Registry struct {
	translators map[string]Translator
	summarizers map[string]Summarizer
}

func NewRegistry() *Registry {
	return &Registry{
		translators: make(map[string]Translator),
		summarizers: make(map[string]Summarizer),
	}
}

// FromConfig builds one agent per configured entry.
func FromConfig(cfgs []config.AgentConfig, logger zerolog.Logger) (*Registry, error) {
	r := NewRegistry()
	for _, cfg := range cfgs {
		var a any
		switch cfg.Type {
		case "openai":
			a = NewOpenAIAgent(cfg, logger)
		case "deepl":
			a = NewDeepLAgent(cfg, logger)
		case "libretranslate":
			a = NewLibreTranslateAgent(cfg, logger)
		case "test":
			a = NewTestAgent(cfg)
		default:
			return nil, fmt.Errorf("%w type %q for agent %q", ErrUnknownAgent, cfg.Type, cfg.ID)
		}
		r.Register(cfg.ID, a)
	}
	return r, nil
}

// Register adds a under id for every capability it implements.
func (r *Registry) Register(id string, a any) {
	if t, ok := a.(Translator); ok {
		r.translators[id] = t
	}
	if s, ok := a.(Summarizer); ok {
		r.summarizers[id] = s
	}
}

func (r *Registry) Translator(id string) (Translator, bool) {
	if r == nil || id == "" {
		return nil, false
	}
	t, ok := r.translators[id]
	return t, ok
}

func (r *Registry) Summarizer(id string) (Summarizer, bool) {
	if r == nil || id == "" {
		return nil, false
	}
	s, ok := r.summarizers[id]
	return s, ok
}

// IDs lists every registered identifier, sorted.
func (r *Registry) IDs() []string {
	seen := make(map[string]struct{})
	for id := range r.translators {
		seen[id] = struct{}{}
	}
	for id := range r.summarizers {
		seen[id] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
