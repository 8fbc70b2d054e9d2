package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// ErrNotRegistered is returned by Create* methods when no factory has been
// registered under the requested name.
var ErrNotRegistered = errors.New("config: implementation not registered")

// VADFactory builds a VAD engine.
type VADFactory func(DetectorConfig) (vad.Engine, error)

// SourceFactory builds an audio source producing chunks in the detector's
// format.
type SourceFactory func(SourceConfig, DetectorConfig) (audio.Source, error)

// SinkFactory builds an utterance sink.
type SinkFactory func(SinkConfig, DetectorConfig) (audio.Sink, error)

// Registry maps names to constructor functions for engines, sources and
// sinks. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	vad    map[string]VADFactory
	source map[string]SourceFactory
	sink   map[string]SinkFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		vad:    make(map[string]VADFactory),
		source: make(map[string]SourceFactory),
		sink:   make(map[string]SinkFactory),
	}
}

// RegisterVAD registers a VAD engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterVAD(name string, factory VADFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterSource registers a source factory under name.
func (r *Registry) RegisterSource(name string, factory SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.source[name] = factory
}

// RegisterSink registers a sink factory under name.
func (r *Registry) RegisterSink(name string, factory SinkFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink[name] = factory
}

// CreateVAD instantiates the engine registered under d.Engine.
// Returns [ErrNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateVAD(d DetectorConfig) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[d.Engine]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrNotRegistered, d.Engine)
	}
	return factory(d)
}

// CreateSource instantiates the source registered under s.Name.
func (r *Registry) CreateSource(s SourceConfig, d DetectorConfig) (audio.Source, error) {
	r.mu.RLock()
	factory, ok := r.source[s.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: source/%q", ErrNotRegistered, s.Name)
	}
	return factory(s, d)
}

// CreateSink instantiates the sink registered under s.Name.
func (r *Registry) CreateSink(s SinkConfig, d DetectorConfig) (audio.Sink, error) {
	r.mu.RLock()
	factory, ok := r.sink[s.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: sink/%q", ErrNotRegistered, s.Name)
	}
	return factory(s, d)
}

// CreateSinks instantiates every configured sink in order. On failure, the
// sinks created so far are closed.
func (r *Registry) CreateSinks(sinks []SinkConfig, d DetectorConfig) ([]audio.Sink, error) {
	out := make([]audio.Sink, 0, len(sinks))
	for i, s := range sinks {
		sink, err := r.CreateSink(s, d)
		if err != nil {
			for _, created := range slices.Backward(out) {
				_ = created.Close()
			}
			return nil, fmt.Errorf("sinks[%d]: %w", i, err)
		}
		out = append(out, sink)
	}
	return out, nil
}
