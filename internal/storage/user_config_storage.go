package storage

import (
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetUserSettings 从数据库获取用户设置
// 如果用户没有设置过，则返回 gorm.ErrRecordNotFound
func GetUserSettings(db *gorm.DB, userID int64) (*UserSettings, error) {
	var settings UserSettings
	result := db.First(&settings, "user_id = ?", userID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		zap.L().Error("Failed to get user settings from DB", zap.Error(result.Error), zap.Int64("userID", userID))
		return nil, result.Error
	}
	return &settings, nil
}

// SetUserLanguage 保存用户语言偏好 (Upsert)
func SetUserLanguage(db *gorm.DB, userID int64, lang string) error {
	settings := UserSettings{UserID: userID, Language: lang}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"language", "updated_at"}),
	}).Create(&settings)
	if result.Error != nil {
		zap.L().Error("Failed to set user language in DB", zap.Error(result.Error), zap.Int64("userID", userID))
		return result.Error
	}
	zap.L().Debug("Set user language", zap.Int64("userID", userID), zap.String("language", lang))
	return nil
}
