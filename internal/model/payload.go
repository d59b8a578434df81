package model

import (
	"time"
)

// Payload 是存储、导入导出与同步时交换的数据单元。
type Payload struct {
	Version    string     `json:"version"`
	Goals      []Goal     `json:"goals"`
	Settings   Settings   `json:"settings"`
	ExportDate *time.Time `json:"exportDate"`
}

// PayloadFromMap 将已迁移的 payload 对象包装为实体。
// 非对象的 goal 条目在这里被丢弃；缺失的 settings 使用默认值。
func PayloadFromMap(raw map[string]any, now time.Time) Payload {
	p := Payload{
		Version:    asString(raw["version"]),
		Goals:      []Goal{},
		Settings:   DefaultSettings(),
		ExportDate: parseOptionalTime(raw["exportDate"]),
	}

	if goals, ok := raw["goals"].([]any); ok {
		for _, entry := range goals {
			obj, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			p.Goals = append(p.Goals, NewGoal(obj, now))
		}
	}

	if settings, ok := raw["settings"].(map[string]any); ok {
		p.Settings = SettingsFromMap(settings)
	}

	return p
}

// Clone 深拷贝 payload。
func (p Payload) Clone() Payload {
	out := p
	out.Goals = CloneGoals(p.Goals)
	out.Settings = p.Settings.Clone()
	out.ExportDate = cloneTimePtr(p.ExportDate)
	return out
}

// FindGoal 按 id 查找 goal。
func FindGoal(goals []Goal, id string) (Goal, bool) {
	for _, g := range goals {
		if g.ID == id {
			return g, true
		}
	}
	return Goal{}, false
}
