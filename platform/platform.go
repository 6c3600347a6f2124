// Package platform describes the boundary between the bot runtime and the chat
// platform. The runtime only ever talks to the platform through the Platform
// interface and the value types declared here.
package platform

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/priyxstudio/kiwi/permission"
)

// InteractionKind discriminates interaction events.
type InteractionKind int

const (
	KindCommand InteractionKind = iota + 1
	KindButton
	KindSelectMenu
)

func (k InteractionKind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindButton:
		return "button"
	case KindSelectMenu:
		return "select_menu"
	default:
		return "unknown"
	}
}

// Interaction is a user triggered action delivered by the platform.
type Interaction struct {
	ID        string
	Kind      InteractionKind
	GuildID   string
	ChannelID string
	UserID    string
	UserName  string

	// Command invocations.
	CommandName string
	Subcommand  string
	Options     map[string]string

	// Component interactions.
	CustomID       string
	Values         []string
	MessageContent string

	// Member is nil when the interaction has no resolvable guild member, for
	// example when it was sent from a direct message.
	Member *permission.Member

	// Raw is the platform payload the interaction was converted from. It is nil
	// for interactions built in tests.
	Raw *discordgo.Interaction
}

// Option returns a command option value, or an empty string if it was not set.
func (i *Interaction) Option(name string) string {
	if i.Options == nil {
		return ""
	}
	return i.Options[name]
}

// Response is a reply to an interaction.
type Response struct {
	Content    string
	Components []discordgo.MessageComponent
	Ephemeral  bool
	// Update edits the message the component belongs to instead of sending a
	// new reply.
	Update bool
}

// EventKind discriminates gateway events that modules may subscribe to.
type EventKind int

const (
	EventGuildReady EventKind = iota + 1
	EventMemberJoin
	EventMessageCreate
	EventVoiceStateUpdate
)

func (k EventKind) String() string {
	switch k {
	case EventGuildReady:
		return "guild_ready"
	case EventMemberJoin:
		return "member_join"
	case EventMessageCreate:
		return "message_create"
	case EventVoiceStateUpdate:
		return "voice_state_update"
	default:
		return "unknown"
	}
}

// Event is a non-interaction gateway event.
type Event struct {
	Kind    EventKind
	GuildID string
	UserID  string
	Bot     bool

	// ChannelID is the message channel, or the voice channel the user is in
	// after a voice state update. It is empty when the user left voice.
	ChannelID string
	// PreviousChannelID is the voice channel before the update, if known.
	PreviousChannelID string
}

// Guild is the subset of guild data the runtime needs.
type Guild struct {
	ID      string
	Name    string
	OwnerID string
}

// Platform is implemented by the gateway/REST client.
type Platform interface {
	// Reply answers an interaction.
	Reply(ctx context.Context, i *Interaction, r Response) error
	// FetchMember returns the member's roles and effective permissions.
	FetchMember(ctx context.Context, guildID, userID string) (*permission.Member, error)
	// FetchGuild returns basic information about a guild.
	FetchGuild(ctx context.Context, guildID string) (*Guild, error)
	// SendMessage posts a plain message to a channel.
	SendMessage(ctx context.Context, channelID, content string) error
	// ReplaceGlobalCommands replaces the application's global command listing.
	ReplaceGlobalCommands(ctx context.Context, commands []*discordgo.ApplicationCommand) error
	// ReplaceGuildCommands replaces the application's command listing in one guild.
	ReplaceGuildCommands(ctx context.Context, guildID string, commands []*discordgo.ApplicationCommand) error
}
