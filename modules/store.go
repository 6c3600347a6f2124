package modules

import (
	"context"

	"emperror.dev/errors"
	"gorm.io/gorm"

	"github.com/priyxstudio/kiwi/internal/models"
)

// GormStore persists module state in the guild_modules table.
type GormStore struct {
	db *gorm.DB
}

var _ StateStore = (*GormStore)(nil)

// NewGormStore returns a state store using the provided database.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Enabled(ctx context.Context, guildID, moduleID string) (bool, error) {
	var row models.GuildModule
	err := s.db.WithContext(ctx).
		Where("guild_id = ? AND module_id = ?", guildID, moduleID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	} else if err != nil {
		return false, errors.Wrap(err, "failed to query module record")
	}
	return row.Enabled, nil
}

// SetEnabled stores the state and reports whether anything changed. The row is
// created on the first enable only; disabling a module that was never
// configured writes nothing.
func (s *GormStore) SetEnabled(ctx context.Context, guildID, moduleID string, enabled bool) (bool, error) {
	db := s.db.WithContext(ctx)

	var row models.GuildModule
	result := db.Where("guild_id = ? AND module_id = ?", guildID, moduleID).First(&row)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		if !enabled {
			return false, nil
		}
		row = models.GuildModule{
			GuildID:  guildID,
			ModuleID: moduleID,
			Enabled:  true,
		}
		if err := db.Create(&row).Error; err != nil {
			return false, errors.Wrap(err, "failed to create module record")
		}
		return true, nil
	} else if result.Error != nil {
		return false, errors.Wrap(result.Error, "failed to query module record")
	}

	if row.Enabled == enabled {
		return false, nil
	}
	row.Enabled = enabled
	if err := db.Save(&row).Error; err != nil {
		return false, errors.Wrap(err, "failed to update module record")
	}
	return true, nil
}

func (s *GormStore) EnabledModules(ctx context.Context, guildID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&models.GuildModule{}).
		Where("guild_id = ? AND enabled = ?", guildID, true).
		Order("id ASC").
		Pluck("module_id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to load enabled modules from database")
	}
	return ids, nil
}
