package dispatch

import (
	"context"
	"slices"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/bwmarrin/discordgo"
	"github.com/gammazero/workerpool"
	"github.com/goccy/go-json"

	"github.com/priyxstudio/kiwi/modules"
	"github.com/priyxstudio/kiwi/permission"
	"github.com/priyxstudio/kiwi/platform"
)

type commandEntry struct {
	module  *modules.Module
	command *modules.Command
}

// CommandRouter keeps the global and per-guild command tables, mirrors them to
// the platform and dispatches command interactions.
type CommandRouter struct {
	rt   modules.Runtime
	opts options
	pool *workerpool.WorkerPool

	mu     sync.RWMutex
	global map[string]commandEntry
	guilds map[string]map[string]commandEntry
}

var _ modules.CommandLoader = (*CommandRouter)(nil)

// NewCommandRouter returns an empty router. The runtime is only consulted at
// dispatch time so it may still be under construction.
func NewCommandRouter(rt modules.Runtime, opts ...Option) *CommandRouter {
	o := newOptions(opts)
	return &CommandRouter{
		rt:     rt,
		opts:   o,
		pool:   workerpool.New(o.workers),
		global: make(map[string]commandEntry),
		guilds: make(map[string]map[string]commandEntry),
	}
}

// LoadGlobal adds a command to the global table and schedules a replacement of
// the global listing on the platform.
func (r *CommandRouter) LoadGlobal(m *modules.Module, c *modules.Command) error {
	r.mu.Lock()
	if _, ok := r.global[c.ID]; ok {
		r.mu.Unlock()
		return errors.WithDetails(ErrAlreadyLoaded, "command", c.ID, "scope", modules.ScopeGlobal.String())
	}
	r.global[c.ID] = commandEntry{module: m, command: c}
	r.mu.Unlock()

	r.schedule("")
	return nil
}

// LoadGuild adds a command to one guild's table and schedules a replacement of
// that guild's listing on the platform.
func (r *CommandRouter) LoadGuild(guildID string, m *modules.Module, c *modules.Command) error {
	r.mu.Lock()
	table, ok := r.guilds[guildID]
	if !ok {
		table = make(map[string]commandEntry)
		r.guilds[guildID] = table
	}
	if _, ok := table[c.ID]; ok {
		r.mu.Unlock()
		return errors.WithDetails(ErrAlreadyLoaded, "command", c.ID, "guild_id", guildID)
	}
	table[c.ID] = commandEntry{module: m, command: c}
	r.mu.Unlock()

	r.schedule(guildID)
	return nil
}

// UnloadGlobal removes a global command. The platform listing is left as is
// until the next Sync.
func (r *CommandRouter) UnloadGlobal(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.global[id]; !ok {
		return errors.WithDetails(ErrNotLoaded, "command", id)
	}
	delete(r.global, id)
	return nil
}

// UnloadGuild removes a command from a guild's table. The platform listing is
// left as is until the next Sync.
func (r *CommandRouter) UnloadGuild(guildID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	table := r.guilds[guildID]
	if _, ok := table[id]; !ok {
		return errors.WithDetails(ErrNotLoaded, "command", id, "guild_id", guildID)
	}
	// An emptied table is kept so the next Sync clears the guild listing.
	delete(table, id)
	return nil
}

// Lookup resolves a command name, preferring the guild table over the global
// one.
func (r *CommandRouter) Lookup(guildID, name string) (*modules.Module, *modules.Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if guildID != "" {
		if e, ok := r.guilds[guildID][name]; ok {
			return e.module, e.command, true
		}
	}
	if e, ok := r.global[name]; ok {
		return e.module, e.command, true
	}
	return nil, nil, false
}

// Guilds returns the identifiers of guilds that have or had guild scoped
// commands.
func (r *CommandRouter) Guilds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.guilds))
	for id := range r.guilds {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Definitions returns the listing of a scope as it would be pushed to the
// platform. An empty guild identifier selects the global scope.
func (r *CommandRouter) Definitions(guildID string) []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()

	table := r.global
	if guildID != "" {
		table = r.guilds[guildID]
	}
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make([]*discordgo.ApplicationCommand, 0, len(names))
	for _, name := range names {
		out = append(out, table[name].command.Definition())
	}
	return out
}

// Sync synchronously replaces the global listing and the listing of every
// known guild. Extra guilds are pushed too, with an empty listing when nothing
// is loaded for them.
func (r *CommandRouter) Sync(ctx context.Context, guildIDs ...string) error {
	var errs []error
	if err := r.push(ctx, ""); err != nil {
		errs = append(errs, err)
	}
	targets := append(r.Guilds(), guildIDs...)
	slices.Sort(targets)
	for _, guildID := range slices.Compact(targets) {
		if guildID == "" {
			continue
		}
		if err := r.push(ctx, guildID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Combine(errs...)
}

// Close waits for pending listing replacements and stops the worker pool.
func (r *CommandRouter) Close() {
	r.pool.StopWait()
}

// Dispatch runs a command interaction. Nothing is returned: failures are
// logged and reported to the user.
func (r *CommandRouter) Dispatch(ctx context.Context, i *platform.Interaction) {
	started := time.Now()
	err := r.route(ctx, i)

	target := i.CommandName
	if errors.Is(err, ErrUnknownCommand) {
		target = ""
	}
	r.opts.metrics.observe("command", target, started, err)
}

func (r *CommandRouter) route(ctx context.Context, i *platform.Interaction) error {
	logger := log.WithFields(interactionFields(i)).WithField("command", i.CommandName)

	m, cmd, ok := r.Lookup(i.GuildID, i.CommandName)
	if !ok {
		logger.Debug("no command registered, ignoring interaction")
		return ErrUnknownCommand
	}
	logger = logger.WithField("module", m.ID)

	if !permission.Check(cmd.Access, m.Access, i.Member) {
		logger.Debug("command not permitted for member")
		reply(ctx, r.rt, logger, i, NotPermittedMessage)
		return ErrNotPermitted
	}

	c := &modules.Context{Runtime: r.rt, Module: m, Command: cmd, GuildID: i.GuildID}
	d := &modules.Data{Interaction: i, GuildID: i.GuildID, InvokingUserID: i.UserID}

	if cmd.BeforeTrigger != nil {
		if err := call(func() error { return cmd.BeforeTrigger(ctx, c, d) }); err != nil {
			logger.WithError(err).Error("command before trigger failed")
			reply(ctx, r.rt, logger, i, FailureMessage)
			return errors.Wrap(err, "before trigger")
		}
	}

	var err error
	if cmd.Trigger != nil {
		err = call(func() error { return cmd.Trigger(ctx, c, d) })
	}
	if err != nil {
		logger.WithError(err).Error("command trigger failed")
		reply(ctx, r.rt, logger, i, FailureMessage)
		err = errors.Wrap(err, "trigger")
	}

	if cmd.AfterTrigger != nil {
		if aerr := call(func() error { return cmd.AfterTrigger(ctx, c, d) }); aerr != nil {
			logger.WithError(aerr).Warn("command after trigger failed")
		}
	}
	return err
}

// schedule queues a replacement of a scope's listing. The snapshot is taken
// when the job runs so a burst of loads converges on the latest table.
func (r *CommandRouter) schedule(guildID string) {
	if !r.opts.autoSync {
		return
	}
	r.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.timeout)
		defer cancel()
		_ = r.push(ctx, guildID)
	})
}

func (r *CommandRouter) push(ctx context.Context, guildID string) error {
	p := r.rt.Platform()
	if p == nil {
		return errors.New("dispatch: platform is not available")
	}

	scope := modules.ScopeGlobal.String()
	logger := log.WithField("scope", scope)
	if guildID != "" {
		scope = modules.ScopeGuild.String()
		logger = log.WithFields(log.Fields{"scope": scope, "guild_id": guildID})
	}

	listing := r.Definitions(guildID)
	var err error
	if guildID == "" {
		err = p.ReplaceGlobalCommands(ctx, listing)
	} else {
		err = p.ReplaceGuildCommands(ctx, guildID, listing)
	}
	r.opts.metrics.registration(scope, err)

	if err != nil {
		logRegistrationFailure(logger, listing, err)
		return errors.WithDetails(errors.Wrap(err, "failed to replace command listing"), "guild_id", guildID)
	}
	logger.WithField("commands", len(listing)).Debug("replaced command listing")
	return nil
}

func logRegistrationFailure(logger log.Interface, listing []*discordgo.ApplicationCommand, err error) {
	fields := log.Fields{}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) {
		fields["response"] = string(restErr.ResponseBody)
		if restErr.Response != nil {
			fields["status"] = restErr.Response.StatusCode
		}
	}
	if body, merr := json.Marshal(listing); merr == nil {
		fields["request"] = string(body)
	}
	logger.WithFields(fields).WithError(err).Error("platform rejected command listing")
}
