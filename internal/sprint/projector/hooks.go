package projector

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kingrea/lattice-sprint/internal/logging"
	"github.com/kingrea/lattice-sprint/internal/workflow"
)

// HookFunc runs after a workflow phase transition.
type HookFunc func(ctx context.Context, state workflow.ProjectState) error

type namedHook struct {
	name string
	fn   HookFunc
}

// Hooks is the set of sync callbacks owned by the orchestrating process.
// Firing is fire-and-forget: failures are logged and never returned, so a
// broken sync cannot abort the phase that triggered it.
type Hooks struct {
	mu     sync.RWMutex
	hooks  []namedHook
	logger *zap.Logger
}

// NewHooks returns an empty collection. A nil logger discards output.
func NewHooks(logger *zap.Logger) *Hooks {
	return &Hooks{logger: logging.OrNop(logger)}
}

// Add registers fn under name.
func (h *Hooks) Add(name string, fn HookFunc) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, namedHook{name: name, fn: fn})
}

// Len returns the number of registered hooks.
func (h *Hooks) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.hooks)
}

// Fire runs every hook in registration order and reports how many failed.
func (h *Hooks) Fire(ctx context.Context, state workflow.ProjectState) int {
	h.mu.RLock()
	hooks := append([]namedHook(nil), h.hooks...)
	h.mu.RUnlock()
	failed := 0
	for _, hook := range hooks {
		if err := h.run(ctx, hook, state); err != nil {
			failed++
			h.logger.Error("sync hook failed",
				zap.String("hook", hook.name),
				zap.String("phase", string(state.Phase)),
				zap.Error(err),
			)
		}
	}
	return failed
}

func (h *Hooks) run(ctx context.Context, hook namedHook, state workflow.ProjectState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("projector: hook %s panicked: %v", hook.name, r)
		}
	}()
	return hook.fn(ctx, state)
}
