package db

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StorageRecord 是本地持久化的 JSON 记录，按 key 唯一。
type StorageRecord struct {
	gorm.Model
	Key   string `gorm:"size:200;uniqueIndex;not null"`
	Value string `gorm:"type:text"`
}

// TableName 自定义表名。
func (StorageRecord) TableName() string {
	return "storage_records"
}

const (
	// StorageKeyGoals 保存 {version, goals[]} 记录。
	StorageKeyGoals = "goaly_goals"
	// StorageKeyRemoteToken 保存远端存储的 OAuth token。
	StorageKeyRemoteToken = "goaly_remote_token"
	// StorageKeySnapshotPrefix 是同步基线快照的 key 前缀，后接远端文档 id。
	StorageKeySnapshotPrefix = "goaly_gdrive_last_sync_"
)

// SnapshotKey 返回指定远端文档的基线快照 key。
func SnapshotKey(documentID string) string {
	return StorageKeySnapshotPrefix + strings.TrimSpace(documentID)
}

// Store 封装 StorageRecord 的读写。
type Store struct {
	db *gorm.DB
}

// NewStore 构造 Store。
func NewStore(gdb *gorm.DB) *Store {
	return &Store{db: gdb}
}

// Get 读取记录，不存在时 ok 为 false。
func (s *Store) Get(key string) (string, bool, error) {
	var record StorageRecord
	if err := s.db.Where("key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("load record %s: %w", key, err)
	}
	return record.Value, true, nil
}

// Put 写入或覆盖记录。
func (s *Store) Put(key, value string) error {
	return putRecord(s.db, key, value)
}

// PutAll 在一个事务内写入多条记录。
func (s *Store) PutAll(values map[string]string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for key, value := range values {
			if err := putRecord(tx, key, value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete 删除记录，不存在时不报错。
func (s *Store) Delete(key string) error {
	if err := s.db.Unscoped().Where("key = ?", key).Delete(&StorageRecord{}).Error; err != nil {
		return fmt.Errorf("delete record %s: %w", key, err)
	}
	return nil
}

func putRecord(tx *gorm.DB, key, value string) error {
	record := StorageRecord{Key: key, Value: value}
	if err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"value":      value,
			"updated_at": gorm.Expr("CURRENT_TIMESTAMP"),
		}),
	}).Create(&record).Error; err != nil {
		return fmt.Errorf("upsert record %s: %w", key, err)
	}
	return nil
}
