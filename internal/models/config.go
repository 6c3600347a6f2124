package models

import (
	"time"
)

// ListConfig is the list module configuration of a guild.
type ListConfig struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	GuildID    string `gorm:"uniqueIndex;not null" json:"guild_id"`
	LogChannel string `json:"log_channel"`
}

func (ListConfig) TableName() string {
	return "list_configs"
}

// MemberLevel is the permission level of a member in a guild.
type MemberLevel struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	GuildID  string `gorm:"uniqueIndex:idx_member_level;not null" json:"guild_id"`
	UserID   string `gorm:"uniqueIndex:idx_member_level;not null" json:"user_id"`
	UserName string `json:"user_name"`
	Level    int    `gorm:"not null;default:0" json:"level"`
}

func (MemberLevel) TableName() string {
	return "member_levels"
}

// All returns every model that must be migrated.
func All() []interface{} {
	return []interface{}{
		&GuildModule{},
		&ActivityConfig{},
		&ActivityVoice{},
		&ActivityMessages{},
		&ListConfig{},
		&MemberLevel{},
	}
}
