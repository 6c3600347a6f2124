// Package list renders ad hoc check lists as rows of buttons. Clicking a
// button strikes the entry through, clicking it again restores it.
package list

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"emperror.dev/errors"
	"github.com/bwmarrin/discordgo"
	"gorm.io/gorm"

	"github.com/priyxstudio/kiwi/customid"
	"github.com/priyxstudio/kiwi/internal/models"
	"github.com/priyxstudio/kiwi/modules"
	"github.com/priyxstudio/kiwi/platform"
)

const (
	ModuleID = "list"

	// ButtonKey is the component handler key of list entry buttons.
	ButtonKey = "updateList"

	maxEntries      = 15
	buttonsPerRow   = 3
	maxLabelLength  = 80
	strike          = "~~"
	disabledMessage = "The list module is disabled in this server."
)

// New returns the list module.
func New() *modules.Module {
	return &modules.Module{
		ID:          ModuleID,
		Name:        "List",
		Description: "Creates check lists that members tick off with buttons.",
		Commands: []*modules.Command{{
			ID:          "list",
			Description: "Manage lists",
			Scope:       modules.ScopeGlobal,
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "create",
				Description: "Create a list",
				Options: []*discordgo.ApplicationCommandOption{{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "users",
					Description: "Comma separated entries to add to the list",
					Required:    true,
				}},
			}},
			Trigger: trigger,
		}},
		Components: []*modules.ComponentHandler{{
			Key:            ButtonKey,
			ParameterCount: 1,
			Callback:       toggle,
		}},
		Setup: setup,
	}
}

func setup(ctx context.Context, rt modules.Runtime, guildID string) error {
	var cfg models.ListConfig
	err := rt.DB().WithContext(ctx).
		Where(models.ListConfig{GuildID: guildID}).
		FirstOrCreate(&cfg).Error
	return errors.Wrap(err, "list: failed to create guild configuration")
}

func trigger(ctx context.Context, c *modules.Context, d *modules.Data) error {
	rt := c.Runtime
	if ok, err := rt.Modules().IsEnabled(ctx, d.GuildID, ModuleID); err != nil {
		return err
	} else if !ok {
		return rt.Platform().Reply(ctx, d.Interaction, platform.Response{Content: disabledMessage, Ephemeral: true})
	}

	if d.Interaction.Subcommand != "create" {
		return nil
	}

	entries := ParseEntries(d.Interaction.Option("users"))
	if len(entries) == 0 {
		return rt.Platform().Reply(ctx, d.Interaction, platform.Response{Content: "The list needs at least one entry.", Ephemeral: true})
	}

	return rt.Platform().Reply(ctx, d.Interaction, platform.Response{
		Content:    strings.Join(entries, "\n"),
		Components: Buttons(entries),
	})
}

// ParseEntries splits a comma separated list into at most 15 trimmed, non
// empty entries sorted case insensitively. Entries that would share a button
// identifier with an earlier one are dropped.
func ParseEntries(raw string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		p := entryParam(s)
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, s)
		if len(out) == maxEntries {
			break
		}
	}
	slices.SortStableFunc(out, func(a, b string) int {
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	})
	return out
}

// entryParam is the custom id parameter identifying an entry. Long entries are
// truncated so the identifier fits the platform limit.
func entryParam(entry string) string {
	return customid.Truncate(entry, customid.Remaining(ButtonKey))
}

// label cuts an entry to the button label limit.
func label(entry string) string {
	if r := []rune(entry); len(r) > maxLabelLength {
		return string(r[:maxLabelLength])
	}
	return entry
}

// Buttons renders one button per entry, three per row.
func Buttons(entries []string) []discordgo.MessageComponent {
	var rows []discordgo.MessageComponent
	for start := 0; start < len(entries); start += buttonsPerRow {
		end := min(start+buttonsPerRow, len(entries))

		row := discordgo.ActionsRow{}
		for _, entry := range entries[start:end] {
			row.Components = append(row.Components, discordgo.Button{
				Label:    label(entry),
				Style:    discordgo.PrimaryButton,
				CustomID: customid.MustEncode(ButtonKey, entryParam(entry)),
			})
		}
		rows = append(rows, row)
	}
	return rows
}

// Toggle strikes the entry identified by param through, or restores it when it
// already is. Lines that do not match are returned unchanged.
func Toggle(content, param string) (string, bool, bool) {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		plain, struck := unstrike(line)
		if entryParam(plain) != param {
			continue
		}
		if struck {
			lines[i] = plain
		} else {
			lines[i] = strike + plain + strike
		}
		return strings.Join(lines, "\n"), !struck, true
	}
	return content, false, false
}

func unstrike(line string) (string, bool) {
	if len(line) > 2*len(strike) && strings.HasPrefix(line, strike) && strings.HasSuffix(line, strike) {
		return line[len(strike) : len(line)-len(strike)], true
	}
	return line, false
}

func toggle(ctx context.Context, c *modules.ComponentContext, params []string) error {
	rt := c.Runtime
	if ok, err := rt.Modules().IsEnabled(ctx, c.GuildID, ModuleID); err != nil {
		return err
	} else if !ok {
		return rt.Platform().Reply(ctx, c.Interaction, platform.Response{Content: disabledMessage, Ephemeral: true})
	}

	content, done, found := Toggle(c.Interaction.MessageContent, params[0])
	if !found {
		return rt.Platform().Reply(ctx, c.Interaction, platform.Response{Content: "That entry is no longer on the list.", Ephemeral: true})
	}

	entries := make([]string, 0)
	for _, line := range strings.Split(content, "\n") {
		plain, _ := unstrike(line)
		entries = append(entries, plain)
	}
	if err := rt.Platform().Reply(ctx, c.Interaction, platform.Response{
		Content:    content,
		Components: Buttons(entries),
		Update:     true,
	}); err != nil {
		return err
	}

	return logChange(ctx, rt, c, params[0], done)
}

func logChange(ctx context.Context, rt modules.Runtime, c *modules.ComponentContext, entry string, done bool) error {
	var cfg models.ListConfig
	err := rt.DB().WithContext(ctx).Where("guild_id = ?", c.GuildID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && cfg.LogChannel == "") {
		return nil
	} else if err != nil {
		return errors.Wrap(err, "list: failed to load guild configuration")
	}

	verb := "ticked off"
	if !done {
		verb = "restored"
	}
	msg := fmt.Sprintf("<@%s> %s **%s** in <#%s>", c.Interaction.UserID, verb, entry, c.Interaction.ChannelID)
	return rt.Platform().SendMessage(ctx, cfg.LogChannel, msg)
}
