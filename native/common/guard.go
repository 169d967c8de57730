package common

import (
	"errors"
	"sync"
)

var (
	ErrModulePaused = errors.New("module paused")
	// ErrReentrantCall is returned when a guarded operation is entered while
	// another guarded operation on the same resource is still in progress.
	ErrReentrantCall = errors.New("reentrant call")
)

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseSet is a mutable PauseView keyed by module name.
type PauseSet struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// NewPauseSet returns an empty pause set with every module running.
func NewPauseSet() *PauseSet {
	return &PauseSet{paused: make(map[string]bool)}
}

// IsPaused implements PauseView.
func (p *PauseSet) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[module]
}

// SetPaused toggles the pause flag for module.
func (p *PauseSet) SetPaused(module string, paused bool) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if paused {
		p.paused[module] = true
		return
	}
	delete(p.paused, module)
}

// ReentrancyGuard is a per-resource "in progress" flag. Enter sets the flag and
// returns a release func that must run on every exit path; a nested Enter
// while the flag is held fails immediately instead of blocking.
type ReentrancyGuard struct {
	mu      sync.Mutex
	entered bool
}

// Enter acquires the guard.
func (g *ReentrancyGuard) Enter() (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.entered {
		return nil, ErrReentrantCall
	}
	g.entered = true
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.entered = false
			g.mu.Unlock()
		})
	}, nil
}

// Entered reports whether the guard is currently held.
func (g *ReentrancyGuard) Entered() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.entered
}
