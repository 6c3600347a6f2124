// Package settings implements the /config command used by server managers to
// enable modules and change their options.
package settings

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/bwmarrin/discordgo"
	"github.com/iancoleman/strcase"

	"github.com/priyxstudio/kiwi/customid"
	"github.com/priyxstudio/kiwi/modules"
	"github.com/priyxstudio/kiwi/permission"
	"github.com/priyxstudio/kiwi/platform"
)

const (
	ModuleID = "config"

	ModuleKey  = "configModule"
	PageKey    = "configPage"
	ToggleKey  = "configToggle"
	ChannelKey = "configChannel"
	RoleKey    = "configRole"
)

// Access is the rule guarding the command and every settings component.
var Access = &permission.AccessRule{
	Permissions: []int64{discordgo.PermissionManageGuild, permission.Administrator},
}

// New returns the settings module.
func New() *modules.Module {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0)
	for _, id := range Modules() {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: strcase.ToCamel(id), Value: id})
	}

	return &modules.Module{
		ID:          ModuleID,
		Name:        "Config",
		Description: "Enables modules and changes their options.",
		Access:      Access,
		Commands: []*modules.Command{{
			ID:          "config",
			Description: "Configure the bot for this server",
			Scope:       modules.ScopeGlobal,
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "module",
				Description: "Module to configure",
				Choices:     choices,
			}},
			Trigger: trigger,
		}},
		Components: []*modules.ComponentHandler{
			{Key: ModuleKey, Callback: selectModule},
			{Key: PageKey, ParameterCount: 1, Callback: selectPage},
			{Key: ToggleKey, ParameterCount: 2, Callback: toggle},
			{Key: ChannelKey, ParameterCount: 2, Callback: update},
			{Key: RoleKey, ParameterCount: 2, Callback: update},
		},
	}
}

func trigger(ctx context.Context, c *modules.Context, d *modules.Data) error {
	rt := c.Runtime
	module := d.Interaction.Option("module")

	var r platform.Response
	if module == "" {
		r = home()
	} else {
		var err error
		if r, err = render(ctx, rt, d.GuildID, module, Overview); err != nil {
			return err
		}
	}
	r.Ephemeral = true
	return rt.Platform().Reply(ctx, d.Interaction, r)
}

func selectModule(ctx context.Context, c *modules.ComponentContext, _ []string) error {
	if len(c.Interaction.Values) == 0 {
		return nil
	}
	return respond(ctx, c, c.Interaction.Values[0], Overview)
}

func selectPage(ctx context.Context, c *modules.ComponentContext, params []string) error {
	if len(c.Interaction.Values) == 0 {
		return nil
	}
	return respond(ctx, c, params[0], c.Interaction.Values[0])
}

func toggle(ctx context.Context, c *modules.ComponentContext, params []string) error {
	enabled, err := strconv.ParseBool(params[1])
	if err != nil {
		return errors.WithDetails(errors.New("settings: invalid toggle value"), "value", params[1])
	}
	if err := c.Runtime.Modules().SetEnabled(ctx, c.GuildID, params[0], enabled); err != nil {
		return err
	}
	return respond(ctx, c, params[0], Overview)
}

func update(ctx context.Context, c *modules.ComponentContext, params []string) error {
	p, ok := Lookup(params[0], params[1])
	if !ok || p.row == nil {
		return errors.WithDetails(errors.New("settings: unknown option"), "module", params[0], "option", params[1])
	}

	var value string
	if len(c.Interaction.Values) > 0 {
		value = c.Interaction.Values[0]
	}
	if err := p.set(ctx, c.Runtime.DB(), c.GuildID, value); err != nil {
		return err
	}
	log.WithFields(log.Fields{"guild_id": c.GuildID, "module": p.Module, "option": p.Option, "user_id": c.Interaction.UserID}).
		Info("configuration updated")

	return respond(ctx, c, p.Module, p.Option)
}

func respond(ctx context.Context, c *modules.ComponentContext, module, option string) error {
	r, err := render(ctx, c.Runtime, c.GuildID, module, option)
	if err != nil {
		return err
	}
	r.Update = true
	return c.Runtime.Platform().Reply(ctx, c.Interaction, r)
}

func home() platform.Response {
	return platform.Response{
		Content:    "### Configuration\nPick a module to configure.",
		Components: []discordgo.MessageComponent{moduleMenu()},
	}
}

// render builds the message of one settings page.
func render(ctx context.Context, rt modules.Runtime, guildID, module, option string) (platform.Response, error) {
	p, ok := Lookup(module, option)
	if !ok {
		r := home()
		r.Content = "That module has no settings."
		return r, nil
	}

	lines := []string{fmt.Sprintf("### %s Module", strcase.ToCamel(p.Module))}
	var rows []discordgo.MessageComponent

	if p.Widget == WidgetToggle {
		enabled, err := rt.Modules().IsEnabled(ctx, guildID, p.Module)
		if err != nil {
			return platform.Response{}, err
		}
		lines = append(lines, fmt.Sprintf("**Enabled:** %s", strcase.ToCamel(strconv.FormatBool(enabled))))
		rows = append(rows, discordgo.ActionsRow{Components: []discordgo.MessageComponent{toggleButton(p.Module, enabled)}})
	} else {
		value, err := p.value(ctx, rt.DB(), guildID)
		if err != nil {
			return platform.Response{}, err
		}
		lines = append(lines, fmt.Sprintf("**%s:** %s", p.Label, mention(p.Widget, value)))
		rows = append(rows, discordgo.ActionsRow{Components: []discordgo.MessageComponent{p.widget()}})
	}

	rows = append(rows, pageMenu(p), moduleMenu())
	return platform.Response{Content: strings.Join(lines, "\n"), Components: rows}, nil
}

func toggleButton(module string, enabled bool) discordgo.Button {
	b := discordgo.Button{
		Label:    "Enable Module",
		Style:    discordgo.SuccessButton,
		CustomID: customid.MustEncode(ToggleKey, module, strconv.FormatBool(!enabled)),
	}
	if enabled {
		b.Label = "Disable Module"
		b.Style = discordgo.DangerButton
	}
	return b
}

func pageMenu(current *Page) discordgo.ActionsRow {
	var options []discordgo.SelectMenuOption
	for _, p := range Pages(current.Module) {
		options = append(options, discordgo.SelectMenuOption{
			Label:   p.Label,
			Value:   p.Option,
			Default: p == current,
		})
	}
	return discordgo.ActionsRow{Components: []discordgo.MessageComponent{discordgo.SelectMenu{
		MenuType:    discordgo.StringSelectMenu,
		CustomID:    customid.MustEncode(PageKey, current.Module),
		Placeholder: "Select an option",
		Options:     options,
	}}}
}

func moduleMenu() discordgo.ActionsRow {
	var options []discordgo.SelectMenuOption
	for _, id := range Modules() {
		options = append(options, discordgo.SelectMenuOption{Label: strcase.ToCamel(id), Value: id})
	}
	return discordgo.ActionsRow{Components: []discordgo.MessageComponent{discordgo.SelectMenu{
		MenuType:    discordgo.StringSelectMenu,
		CustomID:    customid.MustEncode(ModuleKey),
		Placeholder: "Select a module",
		Options:     options,
	}}}
}
