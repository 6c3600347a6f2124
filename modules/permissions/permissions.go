// Package permissions keeps per guild member levels. The guild owner always
// holds OwnerLevel.
package permissions

import (
	"context"
	"fmt"
	"strconv"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/bwmarrin/discordgo"
	"gorm.io/gorm"

	"github.com/priyxstudio/kiwi/internal/models"
	"github.com/priyxstudio/kiwi/modules"
	"github.com/priyxstudio/kiwi/permission"
	"github.com/priyxstudio/kiwi/platform"
)

const (
	ModuleID = "permissions"

	OwnerLevel = 1000
)

// New returns the permissions module.
func New() *modules.Module {
	userOption := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionUser,
		Name:        "user",
		Description: "Member",
		Required:    true,
	}

	return &modules.Module{
		ID:          ModuleID,
		Name:        "Permissions",
		Description: "Assigns permission levels to members.",
		Access:      &permission.AccessRule{Permissions: []int64{permission.Administrator}},
		Commands: []*modules.Command{{
			ID:          "level",
			Description: "Show or change member levels",
			Scope:       modules.ScopeGuild,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "get",
					Description: "Show the level of a member",
					Options:     []*discordgo.ApplicationCommandOption{userOption},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "set",
					Description: "Change the level of a member, zero removes it",
					Options: []*discordgo.ApplicationCommandOption{
						userOption,
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "level",
							Description: "New level",
							Required:    true,
						},
					},
				},
			},
			Trigger: trigger,
		}},
		Events: []*modules.Event{
			{Kind: platform.EventGuildReady, Handle: onGuildReady},
		},
	}
}

// onGuildReady raises the guild owner to OwnerLevel. Owners that already hold
// a higher level keep it.
func onGuildReady(ctx context.Context, rt modules.Runtime, e *platform.Event) error {
	g, err := rt.Platform().FetchGuild(ctx, e.GuildID)
	if err != nil {
		return errors.Wrap(err, "permissions: failed to fetch guild")
	}
	if g.OwnerID == "" {
		return nil
	}

	current, err := Level(ctx, rt.DB(), g.ID, g.OwnerID)
	if err != nil {
		return err
	}
	if current >= OwnerLevel {
		return nil
	}

	log.WithFields(log.Fields{"guild_id": g.ID, "user_id": g.OwnerID}).Info("setting guild owner level")
	return SetLevel(ctx, rt.DB(), g.ID, g.OwnerID, userName(ctx, rt, g.ID, g.OwnerID), OwnerLevel)
}

// userName looks up the account name of a member. A failed lookup only loses
// the name, the level is stored regardless.
func userName(ctx context.Context, rt modules.Runtime, guildID, userID string) string {
	m, err := rt.Platform().FetchMember(ctx, guildID, userID)
	if err != nil {
		log.WithFields(log.Fields{"guild_id": guildID, "user_id": userID}).WithError(err).Debug("could not fetch member name")
		return ""
	}
	return m.UserName
}

// Level returns the level of a member, zero when none was assigned.
func Level(ctx context.Context, db *gorm.DB, guildID, userID string) (int, error) {
	var row models.MemberLevel
	err := db.WithContext(ctx).Where("guild_id = ? AND user_id = ?", guildID, userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	} else if err != nil {
		return 0, errors.Wrap(err, "permissions: failed to load member level")
	}
	return row.Level, nil
}

// SetLevel assigns a level to a member. Levels of zero or below remove the
// member's row. An empty name keeps the stored one.
func SetLevel(ctx context.Context, db *gorm.DB, guildID, userID, name string, level int) error {
	db = db.WithContext(ctx)
	if level <= 0 {
		err := db.Where("guild_id = ? AND user_id = ?", guildID, userID).Delete(&models.MemberLevel{}).Error
		return errors.Wrap(err, "permissions: failed to remove member level")
	}

	var row models.MemberLevel
	err := db.Where(models.MemberLevel{GuildID: guildID, UserID: userID}).
		Assign(models.MemberLevel{Level: level, UserName: name}).
		FirstOrCreate(&row).Error
	return errors.Wrap(err, "permissions: failed to save member level")
}

func trigger(ctx context.Context, c *modules.Context, d *modules.Data) error {
	rt := c.Runtime
	i := d.Interaction
	user := i.Option("user")

	var content string
	switch i.Subcommand {
	case "get":
		level, err := Level(ctx, rt.DB(), d.GuildID, user)
		if err != nil {
			return err
		}
		content = fmt.Sprintf("<@%s> has level %d.", user, level)
	case "set":
		level, err := strconv.Atoi(i.Option("level"))
		if err != nil {
			return rt.Platform().Reply(ctx, i, platform.Response{Content: "The level must be a whole number.", Ephemeral: true})
		}
		var name string
		if level > 0 {
			name = userName(ctx, rt, d.GuildID, user)
		}
		if err := SetLevel(ctx, rt.DB(), d.GuildID, user, name, level); err != nil {
			return err
		}
		if level <= 0 {
			content = fmt.Sprintf("Removed the level of <@%s>.", user)
		} else {
			content = fmt.Sprintf("<@%s> now has level %d.", user, level)
		}
		log.WithFields(log.Fields{"guild_id": d.GuildID, "user_id": user, "level": level, "by": d.InvokingUserID}).
			Info("member level changed")
	default:
		return nil
	}
	return rt.Platform().Reply(ctx, i, platform.Response{Content: content, Ephemeral: true})
}
