package modules

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"gorm.io/gorm"

	"github.com/priyxstudio/kiwi/permission"
	"github.com/priyxstudio/kiwi/platform"
)

// Runtime is the handle passed to every command, component, event and job
// callback.
type Runtime interface {
	// Platform returns the chat platform client.
	Platform() platform.Platform
	// DB returns the persistence store.
	DB() *gorm.DB
	// Modules returns the module registry, mostly to check enabled state.
	Modules() *Manager
}

// Scope determines where a command is registered.
type Scope int

const (
	// ScopeGlobal registers a command application wide.
	ScopeGlobal Scope = iota
	// ScopeGuild registers a command separately in every guild the bot is in.
	ScopeGuild
)

func (s Scope) String() string {
	if s == ScopeGuild {
		return "guild"
	}
	return "global"
}

// Context is the immutable request context built for a command invocation.
type Context struct {
	Runtime Runtime
	Module  *Module
	Command *Command
	GuildID string
}

// Data is the per-invocation data bag.
type Data struct {
	Interaction    *platform.Interaction
	GuildID        string
	InvokingUserID string
}

// CommandFunc is a command stage: before trigger, trigger or after trigger.
type CommandFunc func(ctx context.Context, c *Context, d *Data) error

// Command is a slash command owned by exactly one module.
type Command struct {
	ID          string
	Description string
	Scope       Scope
	Options     []*discordgo.ApplicationCommandOption
	// Access overrides the module's default rule when set.
	Access *permission.AccessRule

	BeforeTrigger CommandFunc
	Trigger       CommandFunc
	AfterTrigger  CommandFunc
}

// Definition returns the platform representation of the command.
func (c *Command) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        c.ID,
		Description: c.Description,
		Type:        discordgo.ChatApplicationCommand,
		Options:     c.Options,
	}
}

// ComponentContext is passed to component callbacks.
type ComponentContext struct {
	Runtime     Runtime
	Module      *Module
	HandlerKey  string
	GuildID     string
	Interaction *platform.Interaction
}

// ComponentFunc handles a button click or select menu submission. params has
// exactly ParameterCount entries.
type ComponentFunc func(ctx context.Context, c *ComponentContext, params []string) error

// ComponentHandler handles components whose custom id carries its Key.
type ComponentHandler struct {
	Key            string
	ParameterCount int
	// Access overrides the module's default rule when set.
	Access   *permission.AccessRule
	Callback ComponentFunc
}

// EventFunc handles a gateway event.
type EventFunc func(ctx context.Context, rt Runtime, e *platform.Event) error

// Event subscribes a module to a gateway event kind.
type Event struct {
	Kind   platform.EventKind
	Handle EventFunc
}

// JobFunc is the body of a scheduled job. It runs once per fire for one guild.
type JobFunc func(ctx context.Context, rt Runtime, guildID string) error

// ScheduledJob is a recurring job activated per guild. Spec is a five field
// cron expression evaluated in the scheduler's location.
type ScheduledJob struct {
	ID      string
	Spec    string
	Execute JobFunc
}

// SetupFunc prepares per-guild state, such as default configuration rows, when
// a guild becomes known.
type SetupFunc func(ctx context.Context, rt Runtime, guildID string) error

// Module is a feature bundle loaded once at startup.
type Module struct {
	ID          string
	Name        string
	Description string

	Commands   []*Command
	Components []*ComponentHandler
	Events     []*Event
	Jobs       []*ScheduledJob

	// Access is the default rule for every command and component of the module.
	Access *permission.AccessRule

	Setup SetupFunc
}

// DisplayName returns Name, falling back to the identifier.
func (m *Module) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}
