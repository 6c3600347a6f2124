package activity

import (
	"context"
	"time"

	"emperror.dev/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/priyxstudio/kiwi/internal/models"
)

// Window is a counter reset window.
type Window string

const (
	Daily   Window = "daily"
	Weekly  Window = "weekly"
	Monthly Window = "monthly"
	Total   Window = "total"
)

// Windows lists every window in display order.
var Windows = []Window{Daily, Weekly, Monthly, Total}

// ParseWindow returns the window with the given name.
func ParseWindow(s string) (Window, bool) {
	for _, w := range Windows {
		if string(w) == s {
			return w, true
		}
	}
	return "", false
}

func (w Window) voiceColumn() string {
	return string(w) + "_seconds"
}

func (w Window) messageColumn() string {
	return string(w) + "_messages"
}

var memberColumns = []clause.Column{{Name: "guild_id"}, {Name: "user_id"}}

// recordMessage counts one message in every window.
func recordMessage(ctx context.Context, db *gorm.DB, guildID, userID string) error {
	row := models.ActivityMessages{
		GuildID:         guildID,
		UserID:          userID,
		DailyMessages:   1,
		WeeklyMessages:  1,
		MonthlyMessages: 1,
		TotalMessages:   1,
	}
	updates := map[string]interface{}{"updated_at": time.Now()}
	for _, w := range Windows {
		updates[w.messageColumn()] = gorm.Expr(w.messageColumn() + " + 1")
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: memberColumns, DoUpdates: clause.Assignments(updates)}).
		Create(&row).Error
	return errors.Wrap(err, "activity: failed to record message")
}

// voiceJoin marks a member as connected. A member that is already marked keeps
// the original join time.
func voiceJoin(ctx context.Context, db *gorm.DB, guildID, userID string, at time.Time) error {
	row := models.ActivityVoice{GuildID: guildID, UserID: userID, JoinedAt: &at}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: memberColumns, DoUpdates: clause.Assignments(map[string]interface{}{
			"joined_at":  gorm.Expr("COALESCE(joined_at, excluded.joined_at)"),
			"updated_at": time.Now(),
		})}).
		Create(&row).Error
	return errors.Wrap(err, "activity: failed to record voice join")
}

// voiceLeave adds the time since the member joined to every window and clears
// the join marker. It returns the seconds that were added.
func voiceLeave(ctx context.Context, db *gorm.DB, guildID, userID string, at time.Time) (int64, error) {
	db = db.WithContext(ctx)

	var row models.ActivityVoice
	err := db.Where("guild_id = ? AND user_id = ?", guildID, userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	} else if err != nil {
		return 0, errors.Wrap(err, "activity: failed to load voice counters")
	}
	if row.JoinedAt == nil {
		return 0, nil
	}

	seconds := int64(at.Sub(*row.JoinedAt).Seconds())
	if seconds < 0 {
		seconds = 0
	}
	updates := map[string]interface{}{"joined_at": nil}
	for _, w := range Windows {
		updates[w.voiceColumn()] = gorm.Expr(w.voiceColumn()+" + ?", seconds)
	}
	err = db.Model(&models.ActivityVoice{}).
		Where("guild_id = ? AND user_id = ?", guildID, userID).
		Updates(updates).Error
	if err != nil {
		return 0, errors.Wrap(err, "activity: failed to update voice counters")
	}
	return seconds, nil
}

// Entry is one leaderboard line.
type Entry struct {
	UserID string
	Value  int64
}

// leaderboard returns the members with the most voice time in a window.
func leaderboard(ctx context.Context, db *gorm.DB, guildID string, w Window, limit int) ([]Entry, error) {
	var out []Entry
	col := w.voiceColumn()
	err := db.WithContext(ctx).
		Model(&models.ActivityVoice{}).
		Select("user_id, "+col+" AS value").
		Where("guild_id = ? AND "+col+" > 0", guildID).
		Order(col + " DESC").
		Order("user_id ASC").
		Limit(limit).
		Scan(&out).Error
	if err != nil {
		return nil, errors.Wrap(err, "activity: failed to load leaderboard")
	}
	return out, nil
}

// reset sets the counters of one window to zero for every member of a guild.
// Other windows are left alone.
func reset(ctx context.Context, db *gorm.DB, guildID string, w Window) error {
	db = db.WithContext(ctx)
	if err := db.Model(&models.ActivityVoice{}).Where("guild_id = ?", guildID).Update(w.voiceColumn(), 0).Error; err != nil {
		return errors.Wrapf(err, "activity: failed to reset %s voice counters", w)
	}
	if err := db.Model(&models.ActivityMessages{}).Where("guild_id = ?", guildID).Update(w.messageColumn(), 0).Error; err != nil {
		return errors.Wrapf(err, "activity: failed to reset %s message counters", w)
	}
	return nil
}

// stats returns the counters of one member. Missing rows are returned as zero.
func stats(ctx context.Context, db *gorm.DB, guildID, userID string) (models.ActivityVoice, models.ActivityMessages, error) {
	db = db.WithContext(ctx)

	var voice models.ActivityVoice
	err := db.Where("guild_id = ? AND user_id = ?", guildID, userID).First(&voice).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return voice, models.ActivityMessages{}, errors.Wrap(err, "activity: failed to load voice counters")
	}

	var messages models.ActivityMessages
	err = db.Where("guild_id = ? AND user_id = ?", guildID, userID).First(&messages).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return voice, messages, errors.Wrap(err, "activity: failed to load message counters")
	}
	return voice, messages, nil
}

func (w Window) voice(v models.ActivityVoice) int64 {
	switch w {
	case Daily:
		return v.DailySeconds
	case Weekly:
		return v.WeeklySeconds
	case Monthly:
		return v.MonthlySeconds
	default:
		return v.TotalSeconds
	}
}

func (w Window) messages(m models.ActivityMessages) int64 {
	switch w {
	case Daily:
		return m.DailyMessages
	case Weekly:
		return m.WeeklyMessages
	case Monthly:
		return m.MonthlyMessages
	default:
		return m.TotalMessages
	}
}
