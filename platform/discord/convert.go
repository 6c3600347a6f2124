package discord

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/priyxstudio/kiwi/permission"
	"github.com/priyxstudio/kiwi/platform"
)

// convertInteraction maps a gateway interaction to the runtime's view of it.
// Interaction types the runtime does not route return nil.
func convertInteraction(i *discordgo.Interaction) *platform.Interaction {
	out := &platform.Interaction{
		ID:        i.ID,
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
		Raw:       i,
	}

	switch {
	case i.Member != nil && i.Member.User != nil:
		out.UserID = i.Member.User.ID
		out.UserName = i.Member.User.Username
		out.Member = &permission.Member{
			UserID:      i.Member.User.ID,
			Roles:       i.Member.Roles,
			Permissions: i.Member.Permissions,
		}
	case i.User != nil:
		out.UserID = i.User.ID
		out.UserName = i.User.Username
	}

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		out.Kind = platform.KindCommand
		out.CommandName = data.Name
		out.Options = make(map[string]string)
		flattenOptions(out, data.Options, nil)
	case discordgo.InteractionMessageComponent:
		data := i.MessageComponentData()
		out.Kind = platform.KindSelectMenu
		if data.ComponentType == discordgo.ButtonComponent {
			out.Kind = platform.KindButton
		}
		out.CustomID = data.CustomID
		out.Values = data.Values
		if i.Message != nil {
			out.MessageContent = i.Message.Content
		}
	default:
		return nil
	}
	return out
}

func flattenOptions(out *platform.Interaction, opts []*discordgo.ApplicationCommandInteractionDataOption, path []string) {
	for _, o := range opts {
		switch o.Type {
		case discordgo.ApplicationCommandOptionSubCommandGroup, discordgo.ApplicationCommandOptionSubCommand:
			p := append(append([]string(nil), path...), o.Name)
			out.Subcommand = strings.Join(p, " ")
			flattenOptions(out, o.Options, p)
		case discordgo.ApplicationCommandOptionInteger:
			out.Options[o.Name] = strconv.FormatInt(o.IntValue(), 10)
		default:
			out.Options[o.Name] = fmt.Sprint(o.Value)
		}
	}
}

func convertGuildCreate(g *discordgo.GuildCreate) *platform.Event {
	if g.Guild == nil || g.Unavailable {
		return nil
	}
	return &platform.Event{Kind: platform.EventGuildReady, GuildID: g.ID}
}

func convertMemberAdd(m *discordgo.GuildMemberAdd) *platform.Event {
	if m.Member == nil || m.User == nil {
		return nil
	}
	return &platform.Event{
		Kind:    platform.EventMemberJoin,
		GuildID: m.GuildID,
		UserID:  m.User.ID,
		Bot:     m.User.Bot,
	}
}

func convertMessageCreate(m *discordgo.MessageCreate) *platform.Event {
	if m.Message == nil || m.Author == nil || m.GuildID == "" {
		return nil
	}
	return &platform.Event{
		Kind:      platform.EventMessageCreate,
		GuildID:   m.GuildID,
		UserID:    m.Author.ID,
		Bot:       m.Author.Bot,
		ChannelID: m.ChannelID,
	}
}

func convertVoiceState(v *discordgo.VoiceStateUpdate) *platform.Event {
	if v.VoiceState == nil || v.GuildID == "" {
		return nil
	}
	e := &platform.Event{
		Kind:      platform.EventVoiceStateUpdate,
		GuildID:   v.GuildID,
		UserID:    v.UserID,
		ChannelID: v.ChannelID,
	}
	if v.Member != nil && v.Member.User != nil {
		e.Bot = v.Member.User.Bot
	}
	if v.BeforeUpdate != nil {
		e.PreviousChannelID = v.BeforeUpdate.ChannelID
	}
	return e
}

// memberName returns the account name of a member, empty when the payload
// carries no user.
func memberName(m *discordgo.Member) string {
	if m.User == nil {
		return ""
	}
	return m.User.Username
}

// memberPermissions computes the guild level permission bitset of a member
// from the roles they hold. The @everyone role shares the guild's identifier.
func memberPermissions(guildID, ownerID string, m *discordgo.Member, roles []*discordgo.Role) int64 {
	if m.User != nil && m.User.ID == ownerID {
		return discordgo.PermissionAll
	}

	held := make(map[string]struct{}, len(m.Roles)+1)
	held[guildID] = struct{}{}
	for _, id := range m.Roles {
		held[id] = struct{}{}
	}

	var perms int64
	for _, r := range roles {
		if _, ok := held[r.ID]; ok {
			perms |= r.Permissions
		}
	}
	if perms&discordgo.PermissionAdministrator != 0 {
		return discordgo.PermissionAll
	}
	return perms
}
