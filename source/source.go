// Package source implements the per-source adapters that fetch raw RFP
// candidates from procurement portals.
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/tmshv/rfpharvest/config"
	"github.com/tmshv/rfpharvest/internal"
)

// Adapter produces raw candidates from exactly one external source.
//
// Fetch must not panic; every network, parse and decode failure is returned
// as an error wrapping internal.ErrSourceUnavailable or
// internal.ErrSourceMalformed. A Result may carry candidates even when an
// error is returned (flagged simulated fallback records).
type Adapter interface {
	Info() internal.SourceInfo
	Fetch(ctx context.Context) (Result, error)
}

// Result is the output of one adapter invocation.
type Result struct {
	Candidates []internal.Candidate
	// Skipped counts candidates the adapter dropped itself, e.g. short titles.
	Skipped int
	// Simulated is set when Candidates are placeholder data.
	Simulated bool
}

// Deps are the shared collaborators handed to every adapter factory.
type Deps struct {
	Fetcher        *Fetcher
	Logger         *zap.Logger
	MinTitleLength int
}

// Factory builds an adapter from its configuration.
type Factory func(cfg config.SourceConfig, deps Deps) (Adapter, error)

// Registry maps source kinds to adapter factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in adapter kinds.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(config.KindHTML, NewHTMLAdapter)
	r.Register(config.KindRSS, NewFeedAdapter)
	r.Register(config.KindJSON, NewJSONAdapter)
	r.Register(config.KindSimulated, func(cfg config.SourceConfig, _ Deps) (Adapter, error) {
		return NewSimulated(cfg), nil
	})
	return r
}

func (r *Registry) Register(kind string, f Factory) {
	r.factories[kind] = f
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Build creates adapters for the given sources, in order. Sources with
// fallback "simulated" are wrapped so that an empty or failed fetch yields
// flagged placeholder records.
func (r *Registry) Build(sources []config.SourceConfig, deps Deps) ([]Adapter, error) {
	adapters := make([]Adapter, 0, len(sources))
	for _, src := range sources {
		f, ok := r.factories[src.Kind]
		if !ok {
			return nil, fmt.Errorf("%w: source %q: no adapter for kind %q", internal.ErrConfig, src.Name, src.Kind)
		}
		a, err := f(src, deps)
		if err != nil {
			return nil, fmt.Errorf("%w: source %q: %w", internal.ErrConfig, src.Name, err)
		}
		if src.Fallback == config.FallbackSimulated && src.Kind != config.KindSimulated {
			a = &withFallback{Adapter: a, sim: NewSimulated(src)}
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

type withFallback struct {
	Adapter
	sim *Simulated
}

func (w *withFallback) Fetch(ctx context.Context) (Result, error) {
	res, err := w.Adapter.Fetch(ctx)
	if err == nil && len(res.Candidates) > 0 {
		return res, nil
	}
	sim, _ := w.sim.Fetch(ctx)
	sim.Skipped = res.Skipped
	return sim, err
}

func unavailable(name string, err error) error {
	return fmt.Errorf("%w: %s: %w", internal.ErrSourceUnavailable, name, err)
}

func malformed(name string, err error) error {
	return fmt.Errorf("%w: %s: %w", internal.ErrSourceMalformed, name, err)
}

// fetchFailed classifies a Fetcher error. An oversized body is malformed
// content, everything else leaves the source unavailable.
func fetchFailed(name string, err error) error {
	if errors.Is(err, ErrBodyTooLarge) {
		return malformed(name, err)
	}
	return unavailable(name, err)
}
