package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/google/go-cmp/cmp"

	"github.com/priyxstudio/kiwi/platform"
)

func TestConvertCommandInteraction(t *testing.T) {
	i := &discordgo.Interaction{
		ID:      "I1",
		Type:    discordgo.InteractionApplicationCommand,
		GuildID: "G1",
		Member: &discordgo.Member{
			User:        &discordgo.User{ID: "U1", Username: "alice"},
			Roles:       []string{"R1"},
			Permissions: discordgo.PermissionManageGuild,
		},
		Data: discordgo.ApplicationCommandInteractionData{
			Name: "level",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{{
				Name: "set",
				Type: discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					{Name: "user", Type: discordgo.ApplicationCommandOptionUser, Value: "U2"},
					{Name: "level", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(50)},
				},
			}},
		},
	}

	got := convertInteraction(i)
	if got.Kind != platform.KindCommand || got.CommandName != "level" || got.Subcommand != "set" {
		t.Fatalf("unexpected interaction: %+v", got)
	}
	if diff := cmp.Diff(map[string]string{"user": "U2", "level": "50"}, got.Options); diff != "" {
		t.Fatalf("unexpected options (-want +got):\n%s", diff)
	}
	if got.Member == nil || got.Member.UserID != "U1" || got.Member.Permissions != discordgo.PermissionManageGuild {
		t.Fatalf("unexpected member: %+v", got.Member)
	}
	if got.UserName != "alice" {
		t.Fatalf("expected the user name to be copied, got %q", got.UserName)
	}
}

func TestConvertComponentInteraction(t *testing.T) {
	button := convertInteraction(&discordgo.Interaction{
		ID:      "I2",
		Type:    discordgo.InteractionMessageComponent,
		GuildID: "G1",
		User:    &discordgo.User{ID: "U1"},
		Message: &discordgo.Message{Content: "alice\nbob"},
		Data: discordgo.MessageComponentInteractionData{
			CustomID:      "updateList+alice",
			ComponentType: discordgo.ButtonComponent,
		},
	})
	if button.Kind != platform.KindButton || button.CustomID != "updateList+alice" || button.MessageContent != "alice\nbob" {
		t.Fatalf("unexpected button interaction: %+v", button)
	}
	if button.Member != nil {
		t.Fatalf("expected no member for an interaction without member data")
	}

	menu := convertInteraction(&discordgo.Interaction{
		Type: discordgo.InteractionMessageComponent,
		Data: discordgo.MessageComponentInteractionData{
			CustomID:      "activity+U1",
			ComponentType: discordgo.SelectMenuComponent,
			Values:        []string{"weekly"},
		},
	})
	if menu.Kind != platform.KindSelectMenu || len(menu.Values) != 1 || menu.Values[0] != "weekly" {
		t.Fatalf("unexpected select menu interaction: %+v", menu)
	}

	if convertInteraction(&discordgo.Interaction{Type: discordgo.InteractionPing}) != nil {
		t.Fatalf("expected ping interactions to be ignored")
	}
}

func TestConvertVoiceState(t *testing.T) {
	e := convertVoiceState(&discordgo.VoiceStateUpdate{
		VoiceState:   &discordgo.VoiceState{GuildID: "G1", UserID: "U1", ChannelID: ""},
		BeforeUpdate: &discordgo.VoiceState{ChannelID: "C1"},
	})
	if e.Kind != platform.EventVoiceStateUpdate || e.ChannelID != "" || e.PreviousChannelID != "C1" {
		t.Fatalf("unexpected event: %+v", e)
	}

	if convertMessageCreate(&discordgo.MessageCreate{Message: &discordgo.Message{Author: &discordgo.User{ID: "U1"}}}) != nil {
		t.Fatalf("expected direct messages to be ignored")
	}
}

func TestMemberPermissions(t *testing.T) {
	roles := []*discordgo.Role{
		{ID: "G1", Permissions: discordgo.PermissionSendMessages},
		{ID: "R1", Permissions: discordgo.PermissionManageGuild},
		{ID: "R2", Permissions: discordgo.PermissionAdministrator},
	}

	tests := []struct {
		name   string
		member *discordgo.Member
		want   int64
	}{
		{"everyone only", &discordgo.Member{User: &discordgo.User{ID: "U1"}}, discordgo.PermissionSendMessages},
		{"role union", &discordgo.Member{User: &discordgo.User{ID: "U1"}, Roles: []string{"R1"}}, discordgo.PermissionSendMessages | discordgo.PermissionManageGuild},
		{"administrator", &discordgo.Member{User: &discordgo.User{ID: "U1"}, Roles: []string{"R2"}}, discordgo.PermissionAll},
		{"owner", &discordgo.Member{User: &discordgo.User{ID: "OWNER"}}, discordgo.PermissionAll},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := memberPermissions("G1", "OWNER", tt.member, roles); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestMemberName(t *testing.T) {
	if got := memberName(&discordgo.Member{User: &discordgo.User{ID: "U1", Username: "alice"}}); got != "alice" {
		t.Fatalf("expected alice, got %q", got)
	}
	if got := memberName(&discordgo.Member{}); got != "" {
		t.Fatalf("expected no name without a user, got %q", got)
	}
}
