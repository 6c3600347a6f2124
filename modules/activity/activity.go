// Package activity tracks voice and message activity of guild members and
// resets the counters on a daily, weekly and monthly schedule.
package activity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/priyxstudio/kiwi/customid"
	"github.com/priyxstudio/kiwi/internal/models"
	"github.com/priyxstudio/kiwi/modules"
	"github.com/priyxstudio/kiwi/platform"
)

const (
	ModuleID = "activity"

	// SelectKey is the component handler key of the leaderboard select menu.
	SelectKey = "activity"

	leaderboardSize = 10
	disabledMessage = "The activity module is disabled in this server."
)

type activity struct {
	limiter *rate.Limiter
	now     func() time.Time
}

// New returns the activity module.
func New() *modules.Module {
	a := &activity{
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 5),
		now:     time.Now,
	}
	return a.module()
}

func (a *activity) module() *modules.Module {
	return &modules.Module{
		ID:          ModuleID,
		Name:        "Activity",
		Description: "Tracks voice and message activity and posts leaderboards.",
		Commands: []*modules.Command{{
			ID:          "activity",
			Description: "Show the activity of a member",
			Scope:       modules.ScopeGlobal,
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionUser,
				Name:        "user",
				Description: "Member to show, defaults to you",
			}},
			Trigger: a.trigger,
		}},
		Components: []*modules.ComponentHandler{{
			Key:            SelectKey,
			ParameterCount: 1,
			Callback:       a.selectLeaderboard,
		}},
		Events: []*modules.Event{
			{Kind: platform.EventMessageCreate, Handle: a.onMessage},
			{Kind: platform.EventVoiceStateUpdate, Handle: a.onVoiceState},
		},
		Jobs: []*modules.ScheduledJob{
			{ID: "daily", Spec: "0 0 * * *", Execute: a.resetJob(Daily)},
			{ID: "weekly", Spec: "0 0 * * 1", Execute: a.resetJob(Weekly)},
			{ID: "monthly", Spec: "0 0 1 * *", Execute: a.resetJob(Monthly)},
		},
		Setup: setup,
	}
}

func setup(ctx context.Context, rt modules.Runtime, guildID string) error {
	var cfg models.ActivityConfig
	err := rt.DB().WithContext(ctx).
		Where(models.ActivityConfig{GuildID: guildID}).
		FirstOrCreate(&cfg).Error
	return errors.Wrap(err, "activity: failed to create guild configuration")
}

func enabled(ctx context.Context, rt modules.Runtime, guildID string) (bool, error) {
	if guildID == "" {
		return false, nil
	}
	return rt.Modules().IsEnabled(ctx, guildID, ModuleID)
}

func (a *activity) onMessage(ctx context.Context, rt modules.Runtime, e *platform.Event) error {
	if e.Bot {
		return nil
	}
	if ok, err := enabled(ctx, rt, e.GuildID); err != nil || !ok {
		return err
	}
	return recordMessage(ctx, rt.DB(), e.GuildID, e.UserID)
}

func (a *activity) onVoiceState(ctx context.Context, rt modules.Runtime, e *platform.Event) error {
	if e.Bot {
		return nil
	}
	if ok, err := enabled(ctx, rt, e.GuildID); err != nil || !ok {
		return err
	}

	switch {
	case e.ChannelID == "":
		seconds, err := voiceLeave(ctx, rt.DB(), e.GuildID, e.UserID, a.now())
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{"guild_id": e.GuildID, "user_id": e.UserID, "seconds": seconds}).Debug("recorded voice session")
		return nil
	case e.PreviousChannelID != e.ChannelID:
		return voiceJoin(ctx, rt.DB(), e.GuildID, e.UserID, a.now())
	}
	return nil
}

func (a *activity) trigger(ctx context.Context, c *modules.Context, d *modules.Data) error {
	rt := c.Runtime
	if ok, err := enabled(ctx, rt, d.GuildID); err != nil {
		return err
	} else if !ok {
		return rt.Platform().Reply(ctx, d.Interaction, platform.Response{Content: disabledMessage, Ephemeral: true})
	}

	userID := d.Interaction.Option("user")
	if userID == "" {
		userID = d.InvokingUserID
	}

	voice, messages, err := stats(ctx, rt.DB(), d.GuildID, userID)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "### Activity of <@%s>\n", userID)
	for _, w := range Windows {
		fmt.Fprintf(&b, "**%s:** %s in voice, %d messages\n", title(w), formatSeconds(w.voice(voice)), w.messages(messages))
	}

	menu, err := leaderboardMenu(userID)
	if err != nil {
		return err
	}
	return rt.Platform().Reply(ctx, d.Interaction, platform.Response{
		Content:    b.String(),
		Components: []discordgo.MessageComponent{menu},
	})
}

func (a *activity) selectLeaderboard(ctx context.Context, c *modules.ComponentContext, params []string) error {
	rt := c.Runtime
	if ok, err := enabled(ctx, rt, c.GuildID); err != nil {
		return err
	} else if !ok {
		return rt.Platform().Reply(ctx, c.Interaction, platform.Response{Content: disabledMessage, Ephemeral: true})
	}

	w := Daily
	if len(c.Interaction.Values) > 0 {
		if parsed, ok := ParseWindow(c.Interaction.Values[0]); ok {
			w = parsed
		}
	}

	content, err := leaderboardMessage(ctx, rt, c.GuildID, w)
	if err != nil {
		return err
	}
	menu, err := leaderboardMenu(params[0])
	if err != nil {
		return err
	}
	return rt.Platform().Reply(ctx, c.Interaction, platform.Response{
		Content:    content,
		Components: []discordgo.MessageComponent{menu},
		Update:     true,
	})
}

// resetJob posts the window's leaderboard to the configured log channel and
// then resets the window's counters. The reset happens even when posting fails.
func (a *activity) resetJob(w Window) modules.JobFunc {
	return func(ctx context.Context, rt modules.Runtime, guildID string) error {
		logger := log.WithFields(log.Fields{"guild_id": guildID, "window": string(w)})

		var cfg models.ActivityConfig
		err := rt.DB().WithContext(ctx).Where("guild_id = ?", guildID).Limit(1).Find(&cfg).Error
		if err != nil {
			return errors.Wrap(err, "activity: failed to load guild configuration")
		}

		if cfg.LogChannel != "" && rt.Platform() != nil {
			if err := a.post(ctx, rt, guildID, cfg.LogChannel, w); err != nil {
				logger.WithError(err).Warn("failed to post activity leaderboard")
			}
		}

		if err := reset(ctx, rt.DB(), guildID, w); err != nil {
			return err
		}
		logger.Info("reset activity counters")
		return nil
	}
}

func (a *activity) post(ctx context.Context, rt modules.Runtime, guildID, channelID string, w Window) error {
	content, err := leaderboardMessage(ctx, rt, guildID, w)
	if err != nil {
		return err
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return errors.WithStack(err)
	}
	return rt.Platform().SendMessage(ctx, channelID, content)
}

func leaderboardMessage(ctx context.Context, rt modules.Runtime, guildID string, w Window) (string, error) {
	entries, err := leaderboard(ctx, rt.DB(), guildID, w, leaderboardSize)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "### %s voice leaderboard\n", title(w))
	if len(entries) == 0 {
		b.WriteString("No voice activity recorded yet.")
		return b.String(), nil
	}
	for i, e := range entries {
		fmt.Fprintf(&b, "%d. <@%s> %s\n", i+1, e.UserID, formatSeconds(e.Value))
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}

func leaderboardMenu(userID string) (discordgo.ActionsRow, error) {
	id, err := customid.Encode(SelectKey, userID)
	if err != nil {
		return discordgo.ActionsRow{}, err
	}
	options := make([]discordgo.SelectMenuOption, 0, len(Windows))
	for _, w := range Windows {
		options = append(options, discordgo.SelectMenuOption{
			Label: title(w) + " leaderboard",
			Value: string(w),
		})
	}
	return discordgo.ActionsRow{Components: []discordgo.MessageComponent{
		discordgo.SelectMenu{
			MenuType:    discordgo.StringSelectMenu,
			CustomID:    id,
			Placeholder: "Show a leaderboard",
			Options:     options,
		},
	}}, nil
}

func title(w Window) string {
	s := string(w)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func formatSeconds(s int64) string {
	return (time.Duration(s) * time.Second).String()
}
