// Package plugin is the provider registry: STT, TTS, LLM and VAD
// implementations register themselves from init() and are looked up by kind
// and name at startup. The returned instance is cast to the matching
// contract (stt.STT, tts.TTS, llm.LLM or vad.VAD) by the caller.
package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds one provider instance from its configuration map.
type Factory func(cfg map[string]any) (any, error)

// Downloader is implemented by plugins that fetch model files before use.
type Downloader interface {
	Download() error
}

// Plugin is one registered provider.
type Plugin struct {
	Kind        string // "stt", "tts", "llm", "vad"
	Name        string
	Factory     Factory
	Description string
	Version     string
	// Config documents the accepted configuration keys and defaults.
	Config map[string]any
	// Downloader, when set, fetches the plugin's model files.
	Downloader Downloader
}

// Registry holds providers by kind and name.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]map[string]*Plugin
}

var globalRegistry = &Registry{plugins: make(map[string]map[string]*Plugin)}

// Register adds a plugin to the global registry. Called from plugin package
// init() functions; duplicate registration is a programming error and panics.
func Register(kind, name string, factory Factory) {
	globalRegistry.Register(kind, name, factory)
}

// RegisterWithMetadata adds a fully described plugin to the global registry.
func RegisterWithMetadata(p *Plugin) {
	globalRegistry.RegisterWithMetadata(p)
}

// Get looks up a factory in the global registry.
func Get(kind, name string) (Factory, bool) {
	return globalRegistry.Get(kind, name)
}

// Lookup returns the full plugin record from the global registry.
func Lookup(kind, name string) (*Plugin, bool) {
	return globalRegistry.Lookup(kind, name)
}

// List returns registered plugins of one kind, or all when kind is empty.
func List(kind string) []*Plugin {
	return globalRegistry.List(kind)
}

// ListKinds returns the registered kinds, sorted.
func ListKinds() []string {
	return globalRegistry.ListKinds()
}

func (r *Registry) Register(kind, name string, factory Factory) {
	r.RegisterWithMetadata(&Plugin{Kind: kind, Name: name, Factory: factory})
}

func (r *Registry) RegisterWithMetadata(p *Plugin) {
	if p.Kind == "" {
		panic("plugin: kind cannot be empty")
	}
	if p.Name == "" {
		panic("plugin: name cannot be empty")
	}
	if p.Factory == nil {
		panic("plugin: factory cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.plugins[p.Kind] == nil {
		r.plugins[p.Kind] = make(map[string]*Plugin)
	}
	if _, exists := r.plugins[p.Kind][p.Name]; exists {
		panic(fmt.Sprintf("plugin: %s/%s registered twice", p.Kind, p.Name))
	}
	r.plugins[p.Kind][p.Name] = p
}

func (r *Registry) Get(kind, name string) (Factory, bool) {
	p, ok := r.Lookup(kind, name)
	if !ok {
		return nil, false
	}
	return p.Factory, true
}

func (r *Registry) Lookup(kind, name string) (*Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kindMap, ok := r.plugins[kind]
	if !ok {
		return nil, false
	}
	p, ok := kindMap[name]
	return p, ok
}

func (r *Registry) List(kind string) []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Plugin
	for k, kindMap := range r.plugins {
		if kind != "" && k != kind {
			continue
		}
		for _, p := range kindMap {
			out = append(out, p)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (r *Registry) ListKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.plugins))
	for kind := range r.plugins {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Clear removes every plugin. Test helper.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = make(map[string]map[string]*Plugin)
}
