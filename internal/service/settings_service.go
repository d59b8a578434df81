package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/goaly/internal/db"
	"github.com/goaly/internal/events"
	"github.com/goaly/internal/locale"
	"github.com/goaly/internal/model"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidSettings 表示设置值不合法。
var ErrInvalidSettings = errors.New("invalid settings")

// SettingsInput 用于更新设置，nil 字段保持不变。
type SettingsInput struct {
	MaxActiveGoals  *int
	Language        *string
	ReviewIntervals []int
}

// SettingsService 提供设置的读取与更新能力，每次修改后立即持久化。
type SettingsService struct {
	mu      sync.Mutex
	db      *gorm.DB
	bus     *events.Bus
	logger  zerolog.Logger
	current model.Settings
	// revision 在每次成功持久化后递增。
	revision uint64
}

var settingKeys = []string{
	db.SettingKeyMaxActiveGoals,
	db.SettingKeyLanguage,
	db.SettingKeyReviewIntervals,
}

// NewSettingsService 构造 SettingsService，初始值为默认设置。
func NewSettingsService(gdb *gorm.DB, bus *events.Bus, logger zerolog.Logger) *SettingsService {
	return &SettingsService{
		db:      gdb,
		bus:     bus,
		logger:  logger.With().Str("component", "settings").Logger(),
		current: model.DefaultSettings(),
	}
}

// Load 读取已保存的设置，缺失或损坏的项使用默认值。
func (s *SettingsService) Load() error {
	result := model.DefaultSettings()

	var records []db.SystemSetting
	if err := s.db.Where("key IN ?", settingKeys).Find(&records).Error; err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	for _, record := range records {
		switch record.Key {
		case db.SettingKeyMaxActiveGoals:
			if n, err := strconv.Atoi(strings.TrimSpace(record.Value)); err == nil {
				result.MaxActiveGoals = n
			}
		case db.SettingKeyLanguage:
			result.Language = record.Value
		case db.SettingKeyReviewIntervals:
			var intervals []int
			if err := json.Unmarshal([]byte(record.Value), &intervals); err != nil {
				s.logger.Warn().Err(err).Msg("ignore unreadable review intervals")
				continue
			}
			result.ReviewIntervals = intervals
		}
	}

	s.mu.Lock()
	s.current = result.Normalize()
	s.mu.Unlock()
	return nil
}

// Get 返回当前设置的副本。
func (s *SettingsService) Get() model.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// Update 按字段更新设置。
func (s *SettingsService) Update(input SettingsInput) (model.Settings, error) {
	next := s.Get()

	if input.MaxActiveGoals != nil {
		if *input.MaxActiveGoals < 1 {
			return model.Settings{}, fmt.Errorf("%w: maxActiveGoals must be at least 1", ErrInvalidSettings)
		}
		next.MaxActiveGoals = *input.MaxActiveGoals
	}
	if input.Language != nil {
		lang := locale.NormalizeLanguage(*input.Language)
		if lang == "" {
			return model.Settings{}, fmt.Errorf("%w: unsupported language %q", ErrInvalidSettings, *input.Language)
		}
		next.Language = lang
	}
	if input.ReviewIntervals != nil {
		next.ReviewIntervals = input.ReviewIntervals
	}

	return s.Replace(next)
}

// Revision 返回当前持久化版本号。
func (s *SettingsService) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

// Replace 整体替换设置（导入、同步应用时使用）。
func (s *SettingsService) Replace(settings model.Settings) (model.Settings, error) {
	return s.ReplaceWith(settings, nil)
}

// ReplaceWith 整体替换设置，并在同一事务中执行 extra。
// extra 在持有锁时被调用，revision 是替换前的版本号；事务失败时内存中的设置保持不变。
func (s *SettingsService) ReplaceWith(settings model.Settings, extra func(tx *gorm.DB, revision uint64) error) (model.Settings, error) {
	sanitized := settings.Normalize()

	intervals, err := json.Marshal(sanitized.ReviewIntervals)
	if err != nil {
		return model.Settings{}, fmt.Errorf("encode review intervals: %w", err)
	}

	s.mu.Lock()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := upsertSetting(tx, db.SettingKeyMaxActiveGoals, strconv.Itoa(sanitized.MaxActiveGoals)); err != nil {
			return err
		}
		if err := upsertSetting(tx, db.SettingKeyLanguage, sanitized.Language); err != nil {
			return err
		}
		if err := upsertSetting(tx, db.SettingKeyReviewIntervals, string(intervals)); err != nil {
			return err
		}
		if extra != nil {
			return extra(tx, s.revision)
		}
		return nil
	})
	if err == nil {
		s.current = sanitized
		s.revision++
	}
	s.mu.Unlock()

	if err != nil {
		return model.Settings{}, fmt.Errorf("update settings: %w", err)
	}

	s.bus.Publish(events.SettingsSaved)
	return sanitized.Clone(), nil
}

func upsertSetting(tx *gorm.DB, key, value string) error {
	setting := db.SystemSetting{Key: key, Value: value}
	if err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"value":      value,
			"updated_at": gorm.Expr("CURRENT_TIMESTAMP"),
		}),
	}).Create(&setting).Error; err != nil {
		return fmt.Errorf("upsert setting %s: %w", key, err)
	}
	return nil
}
