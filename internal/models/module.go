package models

import (
	"time"
)

// GuildModule is the persisted enabled state of a module in a guild. A missing
// row means the module was never configured there and is disabled.
type GuildModule struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	GuildID  string `gorm:"uniqueIndex:idx_guild_module;not null" json:"guild_id"`
	ModuleID string `gorm:"uniqueIndex:idx_guild_module;not null" json:"module_id"`
	Enabled  bool   `gorm:"default:false" json:"enabled"`
}

// TableName specifies the table name for GORM
func (GuildModule) TableName() string {
	return "guild_modules"
}
