package settings

import (
	"context"

	"emperror.dev/errors"
	"github.com/bwmarrin/discordgo"
	"github.com/iancoleman/strcase"
	"gorm.io/gorm"

	"github.com/priyxstudio/kiwi/customid"
	"github.com/priyxstudio/kiwi/internal/models"
)

// Widget is the kind of input a page renders.
type Widget int

const (
	WidgetToggle Widget = iota
	WidgetChannel
	WidgetRole
)

// Overview is the option identifier of the page holding the enable toggle.
const Overview = "overview"

// Page is one configurable option of a module.
type Page struct {
	Module string
	Option string
	Label  string
	Widget Widget

	// row returns an empty configuration row of the module for a guild. It is
	// nil for the overview page.
	row func(guildID string) interface{}
}

// column is the database column the option is stored in.
func (p *Page) column() string {
	return strcase.ToSnake(p.Option)
}

func activityRow(guildID string) interface{} {
	return &models.ActivityConfig{GuildID: guildID}
}

func listRow(guildID string) interface{} {
	return &models.ListConfig{GuildID: guildID}
}

var pages = []*Page{
	{Module: "activity", Option: Overview, Label: "Overview", Widget: WidgetToggle},
	{Module: "activity", Option: "logChannel", Label: "Log channel", Widget: WidgetChannel, row: activityRow},
	{Module: "activity", Option: "dailyActiveRole", Label: "Daily active role", Widget: WidgetRole, row: activityRow},
	{Module: "activity", Option: "weeklyActiveRole", Label: "Weekly active role", Widget: WidgetRole, row: activityRow},
	{Module: "list", Option: Overview, Label: "Overview", Widget: WidgetToggle},
	{Module: "list", Option: "logChannel", Label: "Log channel", Widget: WidgetChannel, row: listRow},
}

// Modules returns the identifiers of every configurable module in display
// order.
func Modules() []string {
	var out []string
	for _, p := range pages {
		if p.Option == Overview {
			out = append(out, p.Module)
		}
	}
	return out
}

// Pages returns the pages of a module.
func Pages(module string) []*Page {
	var out []*Page
	for _, p := range pages {
		if p.Module == module {
			out = append(out, p)
		}
	}
	return out
}

// Lookup returns the page of a module option.
func Lookup(module, option string) (*Page, bool) {
	for _, p := range pages {
		if p.Module == module && p.Option == option {
			return p, true
		}
	}
	return nil, false
}

// value reads the current option value of a guild. A guild without a
// configuration row yields an empty value.
func (p *Page) value(ctx context.Context, db *gorm.DB, guildID string) (string, error) {
	var values []string
	err := db.WithContext(ctx).
		Model(p.row(guildID)).
		Where("guild_id = ?", guildID).
		Limit(1).
		Pluck(p.column(), &values).Error
	if err != nil {
		return "", errors.Wrapf(err, "settings: failed to read %s.%s", p.Module, p.Option)
	}
	if len(values) == 0 {
		return "", nil
	}
	return values[0], nil
}

// set stores an option value, creating the configuration row when the guild
// has none yet.
func (p *Page) set(ctx context.Context, db *gorm.DB, guildID, value string) error {
	db = db.WithContext(ctx)
	row := p.row(guildID)
	if err := db.Where(p.row(guildID)).FirstOrCreate(row).Error; err != nil {
		return errors.Wrapf(err, "settings: failed to load %s configuration", p.Module)
	}
	if err := db.Model(row).Update(p.column(), value).Error; err != nil {
		return errors.Wrapf(err, "settings: failed to update %s.%s", p.Module, p.Option)
	}
	return nil
}

func (p *Page) widget() discordgo.MessageComponent {
	switch p.Widget {
	case WidgetChannel:
		return discordgo.SelectMenu{
			MenuType:     discordgo.ChannelSelectMenu,
			CustomID:     customid.MustEncode(ChannelKey, p.Module, p.Option),
			Placeholder:  "Select a channel",
			ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
		}
	case WidgetRole:
		return discordgo.SelectMenu{
			MenuType:    discordgo.RoleSelectMenu,
			CustomID:    customid.MustEncode(RoleKey, p.Module, p.Option),
			Placeholder: "Select a role",
		}
	}
	return nil
}

func mention(w Widget, id string) string {
	switch {
	case id == "":
		return "None"
	case w == WidgetChannel:
		return "<#" + id + ">"
	case w == WidgetRole:
		return "<@&" + id + ">"
	}
	return id
}
