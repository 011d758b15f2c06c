// Package views publishes the read model: one immutable Generation per
// ingest tick, swapped atomically so API readers never block the pipeline.
package views

import (
	"sync/atomic"
	"time"

	"github.com/getools/gesniper/internal/domain"
	"github.com/getools/gesniper/internal/engine"
)

// View size limits.
const (
	MaxFlips  = 50
	MaxDumps  = 20
	MaxSpikes = 20
)

// Generation is the read model of one detection pass. Fields are never
// mutated after Publish.
type Generation struct {
	Generation uint64               `json:"generation"`
	BuiltAt    time.Time            `json:"built_at"`
	TopFlips   []domain.FlipCandidate `json:"top_flips"`
	Dumps      []domain.DumpEvent     `json:"dumps"`
	Spikes     []domain.SpikeEvent    `json:"spikes"`
	AllItems   []domain.ItemTicker    `json:"all_items"`
}

// Registry holds the current generation.
type Registry struct {
	cur atomic.Pointer[Generation]
	seq atomic.Uint64
}

// NewRegistry starts with an empty generation zero so readers never see nil.
func NewRegistry() *Registry {
	r := &Registry{}
	r.cur.Store(&Generation{BuiltAt: time.Now()})
	return r
}

// Current returns the live generation.
func (r *Registry) Current() *Generation {
	return r.cur.Load()
}

// Publish trims an engine result to the view limits and swaps it in,
// returning the new generation.
func (r *Registry) Publish(res engine.Result, at time.Time) *Generation {
	gen := &Generation{
		Generation: r.seq.Add(1),
		BuiltAt:    at,
		TopFlips:   capSlice(res.Flips, MaxFlips),
		Dumps:      capSlice(res.Dumps, MaxDumps),
		Spikes:     capSlice(res.Spikes, MaxSpikes),
		AllItems:   res.Items,
	}
	r.cur.Store(gen)
	return gen
}

func capSlice[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}
