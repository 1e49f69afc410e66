package response

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultActionTimeout bounds action execution when a definition does not
// set its own timeout.
const DefaultActionTimeout = 300 * time.Second

// Handler performs the actual work of an action. Execute receives the
// submitted parameters and the free-form response context, and must honor
// ctx cancellation: when the scheduler abandons a timed-out execution the
// context is cancelled, but the handler goroutine keeps running until it
// returns on its own.
type Handler interface {
	Execute(ctx context.Context, params map[string]any, rctx map[string]any) (any, error)
	Name() string
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc struct {
	ActionName string
	Fn         func(ctx context.Context, params map[string]any, rctx map[string]any) (any, error)
}

func (h HandlerFunc) Execute(ctx context.Context, params map[string]any, rctx map[string]any) (any, error) {
	return h.Fn(ctx, params, rctx)
}

func (h HandlerFunc) Name() string { return h.ActionName }

// Definition describes a registered action: its identity, validation
// requirements, scheduling class and execution bound. Definitions are
// immutable once registered.
type Definition struct {
	Name           string        `json:"name"`
	Description    string        `json:"description"`
	Priority       Priority      `json:"priority"`
	RequiredParams []string      `json:"required_params,omitempty"`
	Timeout        time.Duration `json:"timeout"`
	Handler        Handler       `json:"-"`
}

// Registry is the catalog of executable actions. Registration is
// first-write-wins: a duplicate name is rejected with a warning so that a
// running engine never silently swaps the semantics of queued work.
type Registry struct {
	mu             sync.RWMutex
	actions        map[string]*Definition
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// NewRegistry creates an empty action registry. A non-positive
// defaultTimeout falls back to DefaultActionTimeout.
func NewRegistry(defaultTimeout time.Duration, logger *slog.Logger) *Registry {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultActionTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		actions:        make(map[string]*Definition),
		defaultTimeout: defaultTimeout,
		logger:         logger.With("component", "action_registry"),
	}
}

// Register adds an action definition to the registry. It returns false and
// leaves the registry untouched when the name is already taken or the
// definition is unusable (empty name or nil handler).
func (r *Registry) Register(def Definition) bool {
	if def.Name == "" {
		r.logger.Warn("rejected action with empty name")
		return false
	}
	if def.Handler == nil {
		r.logger.Warn("rejected action without handler", "action", def.Name)
		return false
	}
	if def.Timeout <= 0 {
		def.Timeout = r.defaultTimeout
	}
	if def.Priority < PriorityLow || def.Priority > PriorityCritical {
		def.Priority = PriorityMedium
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[def.Name]; exists {
		r.logger.Warn("action already registered", "action", def.Name)
		return false
	}

	r.actions[def.Name] = &def
	r.logger.Debug("registered action",
		"action", def.Name,
		"priority", def.Priority.String(),
		"timeout", def.Timeout.String())
	return true
}

// Lookup returns the definition for an action name.
func (r *Registry) Lookup(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.actions[name]
	return def, ok
}

// Names returns all registered action names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns copies of all registered definitions, sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.actions))
	for _, def := range r.actions {
		defs = append(defs, *def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Len returns the number of registered actions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}
