package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/goaly/internal/db"
	"github.com/goaly/internal/migrate"
	"github.com/goaly/internal/model"
	"github.com/goaly/internal/version"
)

// GoalRepository 持久化完整的 goal 列表。
type GoalRepository interface {
	LoadGoals() ([]model.Goal, error)
	SaveGoals(goals []model.Goal) error
}

// goalsRecord 是 goaly_goals 记录的结构。
type goalsRecord struct {
	Version string       `json:"version"`
	Goals   []model.Goal `json:"goals"`
}

// StoreGoalRepository 把 goal 列表以 JSON 形式保存在 StorageRecord 中。
type StoreGoalRepository struct {
	store *db.Store
	now   func() time.Time
}

// NewStoreGoalRepository 构造基于 db.Store 的仓库。
func NewStoreGoalRepository(store *db.Store) *StoreGoalRepository {
	return &StoreGoalRepository{store: store, now: time.Now}
}

// LoadGoals 读取并迁移已保存的 goal 列表，记录不存在时返回空列表。
func (r *StoreGoalRepository) LoadGoals() ([]model.Goal, error) {
	raw, ok, err := r.store.Get(db.StorageKeyGoals)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []model.Goal{}, nil
	}

	migrated, err := migrate.Bytes([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("load goals: %w", err)
	}
	return model.PayloadFromMap(migrated, r.now()).Goals, nil
}

// SaveGoals 覆盖保存 goal 列表。
func (r *StoreGoalRepository) SaveGoals(goals []model.Goal) error {
	if goals == nil {
		goals = []model.Goal{}
	}
	data, err := json.Marshal(goalsRecord{Version: version.Current, Goals: goals})
	if err != nil {
		return fmt.Errorf("encode goals: %w", err)
	}
	if err := r.store.Put(db.StorageKeyGoals, string(data)); err != nil {
		return fmt.Errorf("save goals: %w", err)
	}
	return nil
}
