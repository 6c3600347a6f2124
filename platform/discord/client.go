// Package discord implements the platform boundary on top of discordgo.
package discord

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/bwmarrin/discordgo"
	"github.com/cenkalti/backoff/v4"
	"github.com/patrickmn/go-cache"

	"github.com/priyxstudio/kiwi/permission"
	"github.com/priyxstudio/kiwi/platform"
)

// DefaultIntents are the gateway intents the bot's modules rely on.
const DefaultIntents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildVoiceStates

// Client is a discordgo backed platform.Platform.
type Client struct {
	session *discordgo.Session

	appMu sync.Mutex
	appID string

	members   *cache.Cache
	responded *cache.Cache

	ready     chan struct{}
	readyOnce sync.Once
}

var _ platform.Platform = (*Client)(nil)

// Option configures a Client.
type Option func(c *Client)

// WithApplicationID sets the application the commands are registered for. When
// unset it is resolved from the bot user.
func WithApplicationID(id string) Option {
	return func(c *Client) {
		c.appID = id
	}
}

// WithMemberCacheTTL sets how long resolved members are kept.
func WithMemberCacheTTL(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.members = cache.New(d, 2*d)
		}
	}
}

// WithIntents overrides the gateway intents.
func WithIntents(intents discordgo.Intent) Option {
	return func(c *Client) {
		c.session.Identify.Intents = intents
	}
}

// New creates a client for a bot token. No connection is made until Open.
func New(token string, opts ...Option) (*Client, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, errors.Wrap(err, "discord: failed to create session")
	}
	s.Identify.Intents = DefaultIntents
	s.StateEnabled = true

	c := &Client{
		session:   s,
		members:   cache.New(5*time.Minute, 10*time.Minute),
		responded: cache.New(15*time.Minute, 30*time.Minute),
		ready:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		c.appMu.Lock()
		if c.appID == "" && r.User != nil {
			c.appID = r.User.ID
		}
		c.appMu.Unlock()
		c.readyOnce.Do(func() { close(c.ready) })
		log.WithField("guilds", len(r.Guilds)).Info("connected to discord gateway")
	})
	s.AddHandler(func(_ *discordgo.Session, m *discordgo.GuildMemberUpdate) {
		if m.Member != nil && m.User != nil {
			c.members.Delete(memberKey(m.GuildID, m.User.ID))
		}
	})
	s.AddHandler(func(_ *discordgo.Session, r *discordgo.GuildRoleUpdate) {
		c.invalidateGuild(r.GuildID)
	})
	s.AddHandler(func(_ *discordgo.Session, r *discordgo.GuildRoleDelete) {
		c.invalidateGuild(r.GuildID)
	})
	return c, nil
}

// Session exposes the underlying discordgo session.
func (c *Client) Session() *discordgo.Session {
	return c.session
}

// OnInteraction registers a callback for routed interactions.
func (c *Client) OnInteraction(fn func(i *platform.Interaction)) {
	c.session.AddHandler(func(_ *discordgo.Session, e *discordgo.InteractionCreate) {
		if i := convertInteraction(e.Interaction); i != nil {
			fn(i)
		}
	})
}

// OnEvent registers a callback for the gateway events modules subscribe to.
func (c *Client) OnEvent(fn func(e *platform.Event)) {
	emit := func(e *platform.Event) {
		if e != nil {
			fn(e)
		}
	}
	c.session.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildCreate) { emit(convertGuildCreate(g)) })
	c.session.AddHandler(func(_ *discordgo.Session, m *discordgo.GuildMemberAdd) { emit(convertMemberAdd(m)) })
	c.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) { emit(convertMessageCreate(m)) })
	c.session.AddHandler(func(_ *discordgo.Session, v *discordgo.VoiceStateUpdate) { emit(convertVoiceState(v)) })
}

// Open connects to the gateway, retrying with exponential backoff until the
// context is cancelled.
func (c *Client) Open(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	b.MaxInterval = time.Minute

	attempt := 0
	op := func() error {
		attempt++
		if err := c.session.Open(); err != nil {
			log.WithField("attempt", attempt).WithError(err).Warn("failed to connect to discord gateway, retrying")
			return err
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return errors.Wrap(err, "discord: failed to open gateway connection")
	}
	return nil
}

// Ready is closed once the gateway sent its ready event.
func (c *Client) Ready() <-chan struct{} {
	return c.ready
}

// GuildIDs returns the guilds known to the gateway state.
func (c *Client) GuildIDs() []string {
	c.session.State.RLock()
	defer c.session.State.RUnlock()
	out := make([]string, 0, len(c.session.State.Guilds))
	for _, g := range c.session.State.Guilds {
		out = append(out, g.ID)
	}
	slices.Sort(out)
	return out
}

// Close disconnects from the gateway.
func (c *Client) Close() error {
	return errors.WithStack(c.session.Close())
}

func (c *Client) Reply(ctx context.Context, i *platform.Interaction, r platform.Response) error {
	if i.Raw == nil {
		return errors.New("discord: interaction has no gateway payload")
	}

	var flags discordgo.MessageFlags
	if r.Ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}

	if _, ok := c.responded.Get(i.ID); ok {
		_, err := c.session.FollowupMessageCreate(i.Raw, true, &discordgo.WebhookParams{
			Content:    r.Content,
			Components: r.Components,
			Flags:      flags,
		}, discordgo.WithContext(ctx))
		return errors.Wrap(err, "discord: failed to send followup message")
	}

	typ := discordgo.InteractionResponseChannelMessageWithSource
	if r.Update {
		typ = discordgo.InteractionResponseUpdateMessage
	}
	err := c.session.InteractionRespond(i.Raw, &discordgo.InteractionResponse{
		Type: typ,
		Data: &discordgo.InteractionResponseData{
			Content:    r.Content,
			Components: r.Components,
			Flags:      flags,
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return errors.Wrap(err, "discord: failed to respond to interaction")
	}
	c.responded.SetDefault(i.ID, struct{}{})
	return nil
}

func (c *Client) FetchMember(ctx context.Context, guildID, userID string) (*permission.Member, error) {
	key := memberKey(guildID, userID)
	if v, ok := c.members.Get(key); ok {
		return v.(*permission.Member), nil
	}

	m, err := c.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrap(err, "discord: failed to fetch member")
	}
	roles, err := c.guildRoles(ctx, guildID)
	if err != nil {
		return nil, err
	}
	g, err := c.FetchGuild(ctx, guildID)
	if err != nil {
		return nil, err
	}

	member := &permission.Member{
		UserID:      userID,
		UserName:    memberName(m),
		Roles:       m.Roles,
		Permissions: memberPermissions(guildID, g.OwnerID, m, roles),
	}
	c.members.SetDefault(key, member)
	return member, nil
}

func (c *Client) FetchGuild(ctx context.Context, guildID string) (*platform.Guild, error) {
	key := "guild:" + guildID
	if v, ok := c.members.Get(key); ok {
		return v.(*platform.Guild), nil
	}

	var g *discordgo.Guild
	if st, err := c.session.State.Guild(guildID); err == nil {
		g = st
	} else {
		g, err = c.session.Guild(guildID, discordgo.WithContext(ctx))
		if err != nil {
			return nil, errors.Wrap(err, "discord: failed to fetch guild")
		}
	}

	out := &platform.Guild{ID: g.ID, Name: g.Name, OwnerID: g.OwnerID}
	c.members.SetDefault(key, out)
	return out, nil
}

func (c *Client) SendMessage(ctx context.Context, channelID, content string) error {
	if _, err := c.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx)); err != nil {
		return errors.Wrap(err, "discord: failed to send message")
	}
	return nil
}

func (c *Client) ReplaceGlobalCommands(ctx context.Context, commands []*discordgo.ApplicationCommand) error {
	return c.replace(ctx, "", commands)
}

func (c *Client) ReplaceGuildCommands(ctx context.Context, guildID string, commands []*discordgo.ApplicationCommand) error {
	return c.replace(ctx, guildID, commands)
}

func (c *Client) replace(ctx context.Context, guildID string, commands []*discordgo.ApplicationCommand) error {
	appID, err := c.applicationID(ctx)
	if err != nil {
		return err
	}
	if commands == nil {
		commands = []*discordgo.ApplicationCommand{}
	}
	// The REST error is returned unwrapped so callers can log its response body.
	_, err = c.session.ApplicationCommandBulkOverwrite(appID, guildID, commands, discordgo.WithContext(ctx))
	return err
}

func (c *Client) applicationID(ctx context.Context) (string, error) {
	c.appMu.Lock()
	defer c.appMu.Unlock()
	if c.appID != "" {
		return c.appID, nil
	}
	u, err := c.session.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return "", errors.Wrap(err, "discord: failed to resolve application id")
	}
	c.appID = u.ID
	return c.appID, nil
}

func (c *Client) guildRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error) {
	key := "roles:" + guildID
	if v, ok := c.members.Get(key); ok {
		return v.([]*discordgo.Role), nil
	}
	roles, err := c.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrap(err, "discord: failed to fetch guild roles")
	}
	c.members.SetDefault(key, roles)
	return roles, nil
}

func (c *Client) invalidateGuild(guildID string) {
	c.members.Delete("roles:" + guildID)
	for k := range c.members.Items() {
		if strings.HasPrefix(k, guildID+"/") {
			c.members.Delete(k)
		}
	}
}

func memberKey(guildID, userID string) string {
	return guildID + "/" + userID
}
