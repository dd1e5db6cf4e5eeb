package registry

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/jingkaihe/switchboard/pkg/logger"
)

// Holder owns the process-wide current registry. Readers call Current and
// keep the returned snapshot for as long as they need a consistent view;
// Reload builds a complete replacement and installs it with one atomic store.
type Holder struct {
	current atomic.Pointer[Registry]
	sources []Source

	reloadMu sync.Mutex // held across Load and Install so generations follow load order

	mu        sync.Mutex // guards installs and listener registration
	listeners []func(*Registry)
}

// NewHolder installs reg as generation 1. sources are used by Reload.
func NewHolder(reg *Registry, sources ...Source) *Holder {
	h := &Holder{sources: sources}
	if reg.version == 0 {
		reg.version = 1
	}
	h.current.Store(reg)
	return h
}

// Open loads the sources and returns a Holder for the result.
func Open(ctx context.Context, sources ...Source) (*Holder, error) {
	reg, err := Load(ctx, sources...)
	if err != nil {
		return nil, err
	}
	return NewHolder(reg, sources...), nil
}

// Current returns the installed registry snapshot.
func (h *Holder) Current() *Registry {
	return h.current.Load()
}

// Sources returns the sources Reload reads.
func (h *Holder) Sources() []Source {
	return h.sources
}

// OnReload registers fn to be called after every successful reload.
func (h *Holder) OnReload(fn func(*Registry)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Reload re-reads the holder's sources and swaps the registry in. On failure
// the previous registry stays installed and the error is returned. Concurrent
// reloads run one at a time, so a slower, older load is never installed over
// a newer one. Listeners must not call Reload.
func (h *Holder) Reload(ctx context.Context) (*Registry, error) {
	if len(h.sources) == 0 {
		return nil, errors.New("registry has no sources to reload from")
	}

	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	reg, err := Load(ctx, h.sources...)
	if err != nil {
		logger.G(ctx).WithError(err).Error("Registry reload rejected, keeping current registry")
		return nil, err
	}
	return h.Install(ctx, reg), nil
}

// Install swaps reg in as the next generation and notifies listeners.
func (h *Holder) Install(ctx context.Context, reg *Registry) *Registry {
	h.mu.Lock()
	prev := h.current.Load()
	reg.version = prev.version + 1
	h.current.Store(reg)
	listeners := append([]func(*Registry){}, h.listeners...)
	h.mu.Unlock()

	logger.G(ctx).WithFields(map[string]any{
		"version": reg.version,
		"agents":  len(reg.agents),
		"skills":  len(reg.skills),
		"digest":  reg.digest,
	}).Info("Registry installed")

	for _, fn := range listeners {
		fn(reg)
	}
	return reg
}
