package modules

import (
	"context"
	"fmt"
	"sync"

	"emperror.dev/errors"
	"github.com/apex/log"

	"github.com/priyxstudio/kiwi/platform"
)

const (
	ErrModuleLoaded  = errors.Sentinel("module is already loaded")
	ErrUnknownModule = errors.Sentinel("module not found")
)

// CommandLoader registers module commands with the command router.
type CommandLoader interface {
	LoadGlobal(m *Module, c *Command) error
	LoadGuild(guildID string, m *Module, c *Command) error
}

// ComponentLoader registers component handlers with the component router.
type ComponentLoader interface {
	Register(m *Module, h *ComponentHandler) error
}

// JobScheduler activates and deactivates scheduled jobs per guild.
type JobScheduler interface {
	Activate(m *Module, j *ScheduledJob, guildID string) (bool, error)
	Deactivate(moduleID, guildID string) int
}

// StateStore persists the per-guild enabled state of modules.
type StateStore interface {
	Enabled(ctx context.Context, guildID, moduleID string) (bool, error)
	SetEnabled(ctx context.Context, guildID, moduleID string, enabled bool) (bool, error)
	EnabledModules(ctx context.Context, guildID string) ([]string, error)
}

type subscription struct {
	module *Module
	event  *Event
}

// Manager holds the static module catalog and the per-guild enable/disable
// state machine.
type Manager struct {
	mu      sync.RWMutex
	modules map[string]*Module
	order   []string
	events  map[platform.EventKind][]subscription

	store      StateStore
	commands   CommandLoader
	components ComponentLoader
	jobs       JobScheduler

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Option configures a Manager.
type Option func(m *Manager)

// WithCommandLoader sets the router commands are loaded into.
func WithCommandLoader(l CommandLoader) Option {
	return func(m *Manager) {
		m.commands = l
	}
}

// WithComponentLoader sets the router component handlers are registered with.
func WithComponentLoader(l ComponentLoader) Option {
	return func(m *Manager) {
		m.components = l
	}
}

// WithJobScheduler sets the scheduler module jobs are activated on.
func WithJobScheduler(s JobScheduler) Option {
	return func(m *Manager) {
		m.jobs = s
	}
}

// NewManager creates a new module manager backed by the given state store.
func NewManager(store StateStore, opts ...Option) *Manager {
	m := &Manager{
		modules: make(map[string]*Module),
		events:  make(map[platform.EventKind][]subscription),
		store:   store,
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load registers a module together with its global commands, component
// handlers and event subscriptions. It is meant to be called once per module
// at startup and fails if the module was loaded before.
func (m *Manager) Load(mod *Module) error {
	if mod == nil || mod.ID == "" {
		return errors.New("module: missing identifier")
	}

	m.mu.Lock()
	if _, exists := m.modules[mod.ID]; exists {
		m.mu.Unlock()
		return errors.WithDetails(ErrModuleLoaded, "module", mod.ID)
	}
	m.modules[mod.ID] = mod
	m.order = append(m.order, mod.ID)
	for _, e := range mod.Events {
		m.events[e.Kind] = append(m.events[e.Kind], subscription{module: mod, event: e})
	}
	m.mu.Unlock()

	if m.commands != nil {
		for _, c := range mod.Commands {
			if c.Scope != ScopeGlobal {
				continue
			}
			if err := m.commands.LoadGlobal(mod, c); err != nil {
				return errors.Wrapf(err, "module %s", mod.ID)
			}
		}
	}
	if m.components != nil {
		for _, h := range mod.Components {
			if err := m.components.Register(mod, h); err != nil {
				return errors.Wrapf(err, "module %s", mod.ID)
			}
		}
	}

	log.WithFields(log.Fields{
		"module":     mod.ID,
		"commands":   len(mod.Commands),
		"components": len(mod.Components),
		"events":     len(mod.Events),
		"jobs":       len(mod.Jobs),
	}).Info("module loaded")
	return nil
}

// Get retrieves a module by identifier.
func (m *Manager) Get(id string) (*Module, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mod, ok := m.modules[id]
	return mod, ok
}

// List returns all loaded modules in load order.
func (m *Manager) List() []*Module {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Module, 0, len(m.order))
	for _, id := range m.order {
		result = append(result, m.modules[id])
	}
	return result
}

// IsEnabled reports whether a module is enabled in a guild. Modules that were
// never configured are disabled.
func (m *Manager) IsEnabled(ctx context.Context, guildID, moduleID string) (bool, error) {
	enabled, err := m.store.Enabled(ctx, guildID, moduleID)
	if err != nil {
		return false, errors.Wrapf(err, "failed to load state of module %s", moduleID)
	}
	return enabled, nil
}

// EnabledModules returns the identifiers of the modules enabled in a guild.
func (m *Manager) EnabledModules(ctx context.Context, guildID string) ([]string, error) {
	ids, err := m.store.EnabledModules(ctx, guildID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load enabled modules")
	}
	return ids, nil
}

// SetEnabled enables or disables a module in a guild. Calls are idempotent:
// enabling an enabled module neither writes a second row nor activates its
// jobs twice. Disabling stops future job fires but leaves a running one alone.
func (m *Manager) SetEnabled(ctx context.Context, guildID, moduleID string, enabled bool) error {
	mod, ok := m.Get(moduleID)
	if !ok {
		return errors.WithDetails(ErrUnknownModule, "module", moduleID)
	}

	unlock := m.lock(guildID, moduleID)
	defer unlock()

	changed, err := m.store.SetEnabled(ctx, guildID, moduleID, enabled)
	if err != nil {
		return errors.Wrapf(err, "failed to save state of module %s", moduleID)
	}

	if enabled {
		m.activateJobs(mod, guildID)
	} else if m.jobs != nil {
		m.jobs.Deactivate(mod.ID, guildID)
	}

	if changed {
		log.WithFields(log.Fields{"module": moduleID, "guild_id": guildID, "enabled": enabled}).
			Info("module state changed")
	}
	return nil
}

// Reconcile prepares a guild that just became known: module setup hooks run,
// guild scoped commands are loaded and the jobs of enabled modules activated.
// Failures are logged and do not stop the remaining modules.
func (m *Manager) Reconcile(ctx context.Context, rt Runtime, guildID string) error {
	logger := log.WithField("guild_id", guildID)

	for _, mod := range m.List() {
		if mod.Setup != nil {
			if err := mod.Setup(ctx, rt, guildID); err != nil {
				logger.WithField("module", mod.ID).WithError(err).Warn("module setup failed")
			}
		}
		if m.commands == nil {
			continue
		}
		for _, c := range mod.Commands {
			if c.Scope != ScopeGuild {
				continue
			}
			if err := m.commands.LoadGuild(guildID, mod, c); err != nil {
				logger.WithFields(log.Fields{"module": mod.ID, "command": c.ID}).
					WithError(err).Debug("guild command not loaded")
			}
		}
	}

	enabled, err := m.EnabledModules(ctx, guildID)
	if err != nil {
		return err
	}
	for _, id := range enabled {
		mod, ok := m.Get(id)
		if !ok {
			logger.WithField("module", id).Warn("module not found, skipping restore")
			continue
		}
		unlock := m.lock(guildID, id)
		m.activateJobs(mod, guildID)
		unlock()
	}
	return nil
}

// Emit delivers a gateway event to every module subscribed to its kind.
// Handler errors and panics are logged per module.
func (m *Manager) Emit(ctx context.Context, rt Runtime, e *platform.Event) {
	m.mu.RLock()
	subs := append([]subscription(nil), m.events[e.Kind]...)
	m.mu.RUnlock()

	for _, s := range subs {
		m.deliver(ctx, rt, s, e)
	}
}

func (m *Manager) deliver(ctx context.Context, rt Runtime, s subscription, e *platform.Event) {
	logger := log.WithFields(log.Fields{"module": s.module.ID, "event": e.Kind.String(), "guild_id": e.GuildID})
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", fmt.Sprint(r)).Error("event handler panicked")
		}
	}()
	if err := s.event.Handle(ctx, rt, e); err != nil {
		logger.WithError(err).Error("event handler failed")
	}
}

func (m *Manager) activateJobs(mod *Module, guildID string) {
	if m.jobs == nil {
		return
	}
	for _, j := range mod.Jobs {
		if _, err := m.jobs.Activate(mod, j, guildID); err != nil {
			log.WithFields(log.Fields{"module": mod.ID, "job": j.ID, "guild_id": guildID}).
				WithError(err).Error("failed to activate scheduled job")
		}
	}
}

// lock serializes state transitions of one module in one guild.
func (m *Manager) lock(guildID, moduleID string) func() {
	key := guildID + "/" + moduleID
	m.locksMu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	m.locksMu.Unlock()

	l.Lock()
	return l.Unlock
}
