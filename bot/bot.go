// Package bot ties the module manager, the routers and the scheduler to a chat
// platform and implements the runtime handed to every module callback.
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/priyxstudio/kiwi/dispatch"
	"github.com/priyxstudio/kiwi/modules"
	"github.com/priyxstudio/kiwi/platform"
	"github.com/priyxstudio/kiwi/scheduler"
)

// Bot is the running bot. It implements modules.Runtime.
type Bot struct {
	platform platform.Platform
	db       *gorm.DB

	manager    *modules.Manager
	commands   *dispatch.CommandRouter
	components *dispatch.ComponentRouter
	scheduler  *scheduler.Scheduler

	lanes *lanes
}

var _ modules.Runtime = (*Bot)(nil)

type config struct {
	registerer      prometheus.Registerer
	location        *time.Location
	jobTimeout      time.Duration
	workers         int
	registerTimeout time.Duration
	autoSync        bool
}

// Option configures a Bot.
type Option func(c *config)

// WithRegisterer records dispatch and job metrics in reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *config) {
		c.registerer = reg
	}
}

// WithLocation sets the time zone scheduled jobs are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(c *config) {
		c.location = loc
	}
}

// WithJobTimeout bounds a single scheduled job run.
func WithJobTimeout(d time.Duration) Option {
	return func(c *config) {
		c.jobTimeout = d
	}
}

// WithRegistrationWorkers sets how many command listings are pushed to the
// platform at the same time.
func WithRegistrationWorkers(n int, timeout time.Duration) Option {
	return func(c *config) {
		c.workers = n
		c.registerTimeout = timeout
	}
}

// WithoutAutoSync stops the command router from pushing listings when commands
// are loaded. Listings are then only pushed by Sync.
func WithoutAutoSync() Option {
	return func(c *config) {
		c.autoSync = false
	}
}

// New wires a bot on top of a platform client and a database.
func New(p platform.Platform, db *gorm.DB, opts ...Option) (*Bot, error) {
	c := config{autoSync: true}
	for _, opt := range opts {
		opt(&c)
	}

	b := &Bot{platform: p, db: db, lanes: newLanes()}

	dopts := []dispatch.Option{dispatch.WithRegistrationWorkers(c.workers), dispatch.WithRegistrationTimeout(c.registerTimeout)}
	sopts := []scheduler.Option{scheduler.WithLocation(c.location), scheduler.WithJobTimeout(c.jobTimeout)}
	if c.registerer != nil {
		dopts = append(dopts, dispatch.WithMetrics(dispatch.NewMetrics(c.registerer)))
		sopts = append(sopts, scheduler.WithMetrics(scheduler.NewMetrics(c.registerer)))
	}
	if !c.autoSync {
		dopts = append(dopts, dispatch.WithoutAutoSync())
	}

	s, err := scheduler.New(b, sopts...)
	if err != nil {
		return nil, err
	}
	b.scheduler = s
	b.commands = dispatch.NewCommandRouter(b, dopts...)
	b.components = dispatch.NewComponentRouter(b, dopts...)
	b.manager = modules.NewManager(
		modules.NewGormStore(db),
		modules.WithCommandLoader(b.commands),
		modules.WithComponentLoader(b.components),
		modules.WithJobScheduler(b.scheduler),
	)
	return b, nil
}

func (b *Bot) Platform() platform.Platform { return b.platform }
func (b *Bot) DB() *gorm.DB                { return b.db }
func (b *Bot) Modules() *modules.Manager   { return b.manager }

// Commands returns the command router.
func (b *Bot) Commands() *dispatch.CommandRouter {
	return b.commands
}

// Scheduler returns the job scheduler.
func (b *Bot) Scheduler() *scheduler.Scheduler {
	return b.scheduler
}

// Load loads modules in order. The first failure aborts loading since it
// means two modules claim the same command or component key.
func (b *Bot) Load(mods ...*modules.Module) error {
	for _, m := range mods {
		if err := b.manager.Load(m); err != nil {
			return err
		}
	}
	return nil
}

// HandleInteraction routes an interaction to the matching router. Interactions
// of one user are handled in the order they were delivered.
func (b *Bot) HandleInteraction(ctx context.Context, i *platform.Interaction) {
	b.lanes.run(i.UserID, func() {
		switch i.Kind {
		case platform.KindCommand:
			b.commands.Dispatch(ctx, i)
		case platform.KindButton, platform.KindSelectMenu:
			b.components.Dispatch(ctx, i)
		default:
			log.WithField("kind", i.Kind.String()).Debug("ignoring interaction of unknown kind")
		}
	})
}

// HandleEvent delivers a gateway event to the subscribed modules. A guild that
// becomes ready is reconciled first so its configuration rows exist before any
// module sees the event.
func (b *Bot) HandleEvent(ctx context.Context, e *platform.Event) {
	if e.Kind == platform.EventGuildReady {
		if err := b.manager.Reconcile(ctx, b, e.GuildID); err != nil {
			log.WithField("guild_id", e.GuildID).WithError(err).Error("failed to reconcile guild")
		}
	}
	b.manager.Emit(ctx, b, e)
}

// Start begins firing scheduled jobs.
func (b *Bot) Start() {
	b.scheduler.Start()
}

// Sync pushes every command listing to the platform and waits for the result.
func (b *Bot) Sync(ctx context.Context, guildIDs ...string) error {
	return b.commands.Sync(ctx, guildIDs...)
}

// Close waits for queued interactions, then stops the registration workers and
// the scheduler.
func (b *Bot) Close() error {
	b.lanes.wait()
	b.commands.Close()
	return errors.WithStack(b.scheduler.Shutdown())
}

// Describe renders the module catalog as plain text.
func (b *Bot) Describe() string {
	var sb strings.Builder
	for _, m := range b.manager.List() {
		fmt.Fprintf(&sb, "%s (%s): %s\n", m.DisplayName(), m.ID, m.Description)
		for _, c := range m.Commands {
			fmt.Fprintf(&sb, "  /%s [%s]\n", c.ID, c.Scope)
		}
		for _, h := range m.Components {
			fmt.Fprintf(&sb, "  component %s (%d params)\n", h.Key, h.ParameterCount)
		}
		for _, j := range m.Jobs {
			fmt.Fprintf(&sb, "  job %s %q\n", j.ID, j.Spec)
		}
	}
	return sb.String()
}
