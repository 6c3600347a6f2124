// Package platformtest provides an in-memory Platform that records every call.
package platformtest

import (
	"context"
	"sync"

	"emperror.dev/errors"
	"github.com/bwmarrin/discordgo"

	"github.com/priyxstudio/kiwi/permission"
	"github.com/priyxstudio/kiwi/platform"
)

// Reply is a recorded interaction reply.
type Reply struct {
	Interaction *platform.Interaction
	Response    platform.Response
}

// Message is a recorded channel message.
type Message struct {
	ChannelID string
	Content   string
}

// Fake is a recording platform.Platform. Setting one of the *Err fields makes
// the matching call fail.
type Fake struct {
	mu sync.Mutex

	Members map[string]*permission.Member
	Guilds  map[string]*platform.Guild

	ReplyErr    error
	RegisterErr error
	SendErr     error

	replies        []Reply
	messages       []Message
	globalCommands [][]*discordgo.ApplicationCommand
	guildCommands  map[string][][]*discordgo.ApplicationCommand
	registered     chan struct{}
}

var _ platform.Platform = (*Fake)(nil)

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		Members:       make(map[string]*permission.Member),
		Guilds:        make(map[string]*platform.Guild),
		guildCommands: make(map[string][][]*discordgo.ApplicationCommand),
		registered:    make(chan struct{}, 64),
	}
}

func (f *Fake) Reply(_ context.Context, i *platform.Interaction, r platform.Response) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReplyErr != nil {
		return f.ReplyErr
	}
	f.replies = append(f.replies, Reply{Interaction: i, Response: r})
	return nil
}

func (f *Fake) FetchMember(_ context.Context, guildID, userID string) (*permission.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.Members[guildID+"/"+userID]
	if !ok {
		return nil, errors.Errorf("member %s not found in guild %s", userID, guildID)
	}
	return m, nil
}

func (f *Fake) FetchGuild(_ context.Context, guildID string) (*platform.Guild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.Guilds[guildID]
	if !ok {
		return nil, errors.Errorf("guild %s not found", guildID)
	}
	return g, nil
}

func (f *Fake) SendMessage(_ context.Context, channelID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	f.messages = append(f.messages, Message{ChannelID: channelID, Content: content})
	return nil
}

func (f *Fake) ReplaceGlobalCommands(_ context.Context, commands []*discordgo.ApplicationCommand) error {
	f.mu.Lock()
	defer f.notify()
	defer f.mu.Unlock()
	if f.RegisterErr != nil {
		return f.RegisterErr
	}
	f.globalCommands = append(f.globalCommands, commands)
	return nil
}

func (f *Fake) ReplaceGuildCommands(_ context.Context, guildID string, commands []*discordgo.ApplicationCommand) error {
	f.mu.Lock()
	defer f.notify()
	defer f.mu.Unlock()
	if f.RegisterErr != nil {
		return f.RegisterErr
	}
	f.guildCommands[guildID] = append(f.guildCommands[guildID], commands)
	return nil
}

func (f *Fake) notify() {
	select {
	case f.registered <- struct{}{}:
	default:
	}
}

// Registered is signalled after every replace call, successful or not.
func (f *Fake) Registered() <-chan struct{} {
	return f.registered
}

// SetMember stores a member returned by FetchMember.
func (f *Fake) SetMember(guildID string, m *permission.Member) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Members[guildID+"/"+m.UserID] = m
}

// Replies returns a copy of the recorded replies.
func (f *Fake) Replies() []Reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Reply(nil), f.replies...)
}

// Messages returns a copy of the recorded channel messages.
func (f *Fake) Messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.messages...)
}

// GlobalCommands returns every global listing that was pushed, oldest first.
func (f *Fake) GlobalCommands() [][]*discordgo.ApplicationCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]*discordgo.ApplicationCommand(nil), f.globalCommands...)
}

// GuildCommands returns every listing pushed for a guild, oldest first.
func (f *Fake) GuildCommands(guildID string) [][]*discordgo.ApplicationCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]*discordgo.ApplicationCommand(nil), f.guildCommands[guildID]...)
}
