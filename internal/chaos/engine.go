// Package chaos perturbs the fill stream between the gateway and the core:
// fills are dropped, duplicated, delayed and reordered so exactly-once routing
// can be exercised against a hostile venue.
package chaos

import (
	"math/rand"
	"sync"
	"time"

	errs "hftcore/internal/errors"
	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

// Config controls chaos injection behavior.
type Config struct {
	Seed          int64         `json:"seed" yaml:"seed"`
	DropRate      float64       `json:"dropRate" yaml:"dropRate"`
	DuplicateRate float64       `json:"duplicateRate" yaml:"duplicateRate"`
	ReorderWindow int           `json:"reorderWindow" yaml:"reorderWindow"`
	MaxDelay      time.Duration `json:"maxDelay" yaml:"maxDelay"`
}

// Enabled reports whether any perturbation is configured.
func (c Config) Enabled() bool {
	return c.DropRate > 0 || c.DuplicateRate > 0 || c.ReorderWindow > 1 || c.MaxDelay > 0
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.DropRate < 0 || c.DropRate > 1 {
		return errs.Wrap(exception.ErrInvalidConfig, "dropRate must be between 0 and 1")
	}
	if c.DuplicateRate < 0 || c.DuplicateRate > 1 {
		return errs.Wrap(exception.ErrInvalidConfig, "duplicateRate must be between 0 and 1")
	}
	if c.ReorderWindow <= 0 {
		return errs.Wrap(exception.ErrInvalidConfig, "reorderWindow must be >= 1")
	}
	if c.MaxDelay < 0 {
		return errs.Wrap(exception.ErrInvalidConfig, "maxDelay must be >= 0")
	}
	return nil
}

// Stats counts what the engine did.
type Stats struct {
	In         int
	Dropped    int
	Duplicated int
	Out        int
}

// Engine applies chaos rules to fills.
type Engine struct {
	mu      sync.Mutex
	cfg     Config
	rng     *rand.Rand
	pending []schema.Fill
	stats   Stats
}

// NewEngine creates a chaos engine with validation.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.ReorderWindow <= 0 {
		cfg.ReorderWindow = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Engine{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Process applies chaos to a single fill and returns any output fills.
func (e *Engine) Process(f schema.Fill) []schema.Fill {
	if e == nil {
		return []schema.Fill{f}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.In++

	if e.shouldDrop() {
		e.stats.Dropped++
		return nil
	}
	f = e.applyDelay(f)
	if e.cfg.ReorderWindow <= 1 {
		return e.emit(f)
	}
	e.pending = append(e.pending, f)
	if len(e.pending) < e.cfg.ReorderWindow {
		return nil
	}
	idx := e.rng.Intn(len(e.pending))
	out := e.pending[idx]
	e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
	return e.emit(out)
}

// Flush returns any buffered fills after processing completes.
func (e *Engine) Flush() []schema.Fill {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]schema.Fill, 0, len(e.pending))
	for len(e.pending) > 0 {
		idx := e.rng.Intn(len(e.pending))
		f := e.pending[idx]
		e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
		out = append(out, e.emit(f)...)
	}
	return out
}

// Stats returns the counters so far.
func (e *Engine) Stats() Stats {
	if e == nil {
		return Stats{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Wrap returns a publisher that passes every fill through the engine before
// handing it to next. The first publish error is returned.
func (e *Engine) Wrap(next func(schema.Fill) error) func(schema.Fill) error {
	return func(f schema.Fill) error {
		var first error
		for _, out := range e.Process(f) {
			if err := next(out); err != nil && first == nil {
				first = err
			}
		}
		return first
	}
}

func (e *Engine) shouldDrop() bool {
	return e.cfg.DropRate > 0 && e.rng.Float64() < e.cfg.DropRate
}

func (e *Engine) emit(f schema.Fill) []schema.Fill {
	out := []schema.Fill{f}
	if e.cfg.DuplicateRate > 0 && e.rng.Float64() < e.cfg.DuplicateRate {
		out = append(out, f)
		e.stats.Duplicated++
	}
	e.stats.Out += len(out)
	return out
}

func (e *Engine) applyDelay(f schema.Fill) schema.Fill {
	if e.cfg.MaxDelay <= 0 || f.Ts <= 0 {
		return f
	}
	f.Ts += e.rng.Int63n(e.cfg.MaxDelay.Nanoseconds() + 1)
	return f
}
