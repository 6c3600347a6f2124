package models

import (
	"time"
)

// ActivityConfig is the activity module configuration of a guild.
type ActivityConfig struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	GuildID          string `gorm:"uniqueIndex;not null" json:"guild_id"`
	LogChannel       string `json:"log_channel"`
	DailyActiveRole  string `json:"daily_active_role"`
	WeeklyActiveRole string `json:"weekly_active_role"`
}

func (ActivityConfig) TableName() string {
	return "activity_configs"
}

// ActivityVoice holds voice time counters of one member. Every window is reset
// independently by its own scheduled job.
type ActivityVoice struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	GuildID string `gorm:"uniqueIndex:idx_activity_voice_member;not null" json:"guild_id"`
	UserID  string `gorm:"uniqueIndex:idx_activity_voice_member;not null" json:"user_id"`

	DailySeconds   int64 `gorm:"not null;default:0" json:"daily_seconds"`
	WeeklySeconds  int64 `gorm:"not null;default:0" json:"weekly_seconds"`
	MonthlySeconds int64 `gorm:"not null;default:0" json:"monthly_seconds"`
	TotalSeconds   int64 `gorm:"not null;default:0" json:"total_seconds"`

	// JoinedAt is set while the member is connected to a voice channel.
	JoinedAt *time.Time `json:"joined_at"`
}

func (ActivityVoice) TableName() string {
	return "activity_voice"
}

// ActivityMessages holds message counters of one member.
type ActivityMessages struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	GuildID string `gorm:"uniqueIndex:idx_activity_messages_member;not null" json:"guild_id"`
	UserID  string `gorm:"uniqueIndex:idx_activity_messages_member;not null" json:"user_id"`

	DailyMessages   int64 `gorm:"not null;default:0" json:"daily_messages"`
	WeeklyMessages  int64 `gorm:"not null;default:0" json:"weekly_messages"`
	MonthlyMessages int64 `gorm:"not null;default:0" json:"monthly_messages"`
	TotalMessages   int64 `gorm:"not null;default:0" json:"total_messages"`
}

func (ActivityMessages) TableName() string {
	return "activity_messages"
}
