package db

import "gorm.io/gorm"

// SystemSetting 存储按用户保存的配置项（键值对）。
type SystemSetting struct {
	gorm.Model
	Key   string `gorm:"size:100;uniqueIndex;not null"`
	Value string `gorm:"type:text"`
}

// TableName 自定义表名以保持命名一致。
func (SystemSetting) TableName() string {
	return "system_settings"
}

const (
	// SettingKeyMaxActiveGoals 表示同时激活的 goal 上限。
	SettingKeyMaxActiveGoals = "max_active_goals"
	// SettingKeyLanguage 表示界面语言。
	SettingKeyLanguage = "language"
	// SettingKeyReviewIntervals 表示复盘间隔（JSON 数组，单位：天）。
	SettingKeyReviewIntervals = "review_intervals"
)
