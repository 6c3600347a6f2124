package dispatch

import (
	"context"
	"slices"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"

	"github.com/priyxstudio/kiwi/customid"
	"github.com/priyxstudio/kiwi/modules"
	"github.com/priyxstudio/kiwi/permission"
	"github.com/priyxstudio/kiwi/platform"
)

type componentEntry struct {
	module  *modules.Module
	handler *modules.ComponentHandler
}

// ComponentRouter dispatches button clicks and select menu submissions by the
// handler key encoded in their custom identifier.
type ComponentRouter struct {
	rt   modules.Runtime
	opts options

	mu       sync.RWMutex
	handlers map[string]componentEntry
}

var _ modules.ComponentLoader = (*ComponentRouter)(nil)

// NewComponentRouter returns an empty component router.
func NewComponentRouter(rt modules.Runtime, opts ...Option) *ComponentRouter {
	return &ComponentRouter{
		rt:       rt,
		opts:     newOptions(opts),
		handlers: make(map[string]componentEntry),
	}
}

// Register adds a handler. Keys are unique across all modules.
func (r *ComponentRouter) Register(m *modules.Module, h *modules.ComponentHandler) error {
	if err := customid.ValidateKey(h.Key); err != nil {
		return errors.WithDetails(err, "module", m.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.handlers[h.Key]; ok {
		return errors.WithDetails(ErrDuplicateHandler, "key", h.Key, "module", m.ID, "owner", existing.module.ID)
	}
	r.handlers[h.Key] = componentEntry{module: m, handler: h}
	return nil
}

// Unregister removes a handler.
func (r *ComponentRouter) Unregister(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[key]; !ok {
		return errors.WithDetails(ErrUnknownHandler, "key", key)
	}
	delete(r.handlers, key)
	return nil
}

// Handlers returns the registered keys in sorted order.
func (r *ComponentRouter) Handlers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Dispatch runs a component interaction. Malformed identifiers and unknown
// keys are dropped without replying since the platform keeps delivering
// components rendered by earlier deployments.
func (r *ComponentRouter) Dispatch(ctx context.Context, i *platform.Interaction) {
	started := time.Now()
	key, err := r.route(ctx, i)
	r.opts.metrics.observe("component", key, started, err)
}

func (r *ComponentRouter) route(ctx context.Context, i *platform.Interaction) (string, error) {
	logger := log.WithFields(interactionFields(i)).WithField("custom_id", i.CustomID)

	tok, err := customid.Decode(i.CustomID)
	if err != nil {
		logger.WithError(err).Warn("dropping component interaction with malformed custom id")
		return "", err
	}

	r.mu.RLock()
	e, ok := r.handlers[tok.HandlerKey]
	r.mu.RUnlock()
	if !ok {
		logger.WithField("handler", tok.HandlerKey).Debug("no handler registered for component, dropping stale interaction")
		return "", errors.WithDetails(ErrUnknownHandler, "key", tok.HandlerKey)
	}
	logger = logger.WithFields(log.Fields{"handler": e.handler.Key, "module": e.module.ID})

	if !permission.Check(e.handler.Access, e.module.Access, i.Member) {
		logger.Debug("component not permitted for member")
		reply(ctx, r.rt, logger, i, NotPermittedMessage)
		return e.handler.Key, ErrNotPermitted
	}

	cc := &modules.ComponentContext{
		Runtime:     r.rt,
		Module:      e.module,
		HandlerKey:  e.handler.Key,
		GuildID:     i.GuildID,
		Interaction: i,
	}
	params := tok.Normalize(e.handler.ParameterCount)

	if e.handler.Callback == nil {
		return e.handler.Key, nil
	}
	if err := call(func() error { return e.handler.Callback(ctx, cc, params) }); err != nil {
		logger.WithError(err).Error("component handler failed")
		reply(ctx, r.rt, logger, i, FailureMessage)
		return e.handler.Key, err
	}
	return e.handler.Key, nil
}
