// Package migrate 负责把任意旧版本的数据升级为当前 schema。
//
// 迁移只做增补与重命名，对同一份数据重复执行不会产生额外变化；
// 遇到格式错误的条目时原样透传，而不是中断整批导入或同步。
package migrate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goaly/internal/model"
	"github.com/goaly/internal/version"
	"github.com/google/uuid"
)

// 旧字段名到新字段名的映射。
var legacyAliases = []struct {
	from string
	to   string
}{
	{from: "checkInDates", to: "reviewDates"},
	{from: "lastCheckInAt", to: "lastReviewAt"},
	{from: "nextCheckInAt", to: "nextReviewAt"},
}

// Bytes 解析原始 JSON 并执行迁移，仅在 JSON 无法解析时返回错误。
func Bytes(data []byte) (map[string]any, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return Payload(raw), nil
}

// Payload 将任意 JSON 值升级为当前版本的 payload 对象。
// 裸数组被视为旧版 goals 列表；version 总是被写为当前版本，goals 总是数组。
func Payload(raw any) map[string]any {
	out := map[string]any{}

	var goals any
	switch v := raw.(type) {
	case []any:
		goals = v
	case map[string]any:
		for key, value := range v {
			out[key] = deepCopy(value)
		}
		goals = v["goals"]
	}

	list, _ := goals.([]any)
	migrated := make([]any, 0, len(list))
	for _, entry := range list {
		obj, ok := entry.(map[string]any)
		if !ok {
			migrated = append(migrated, deepCopy(entry))
			continue
		}
		migrated = append(migrated, Goal(obj))
	}

	out["goals"] = migrated
	out["version"] = version.Current
	return out
}

// descriptionStepID 为 description 转换出的步骤分配 id：有 goal id 时派生稳定 id，否则随机。
func descriptionStepID(goalID any) string {
	if id, ok := goalID.(string); ok && strings.TrimSpace(id) != "" {
		return model.DerivedID(id, "description")
	}
	return uuid.NewString()
}

// Goal 迁移单个 goal 对象，返回新对象，不修改入参。
func Goal(raw map[string]any) map[string]any {
	goal, _ := deepCopy(raw).(map[string]any)

	steps, _ := goal["steps"].([]any)
	if steps == nil {
		steps = []any{}
	}

	if desc, exists := goal["description"]; exists {
		if text, ok := desc.(string); ok && strings.TrimSpace(text) != "" {
			shifted := make([]any, 0, len(steps)+1)
			shifted = append(shifted, map[string]any{
				"id":        descriptionStepID(goal["id"]),
				"text":      strings.TrimSpace(text),
				"completed": false,
				"order":     0,
			})
			for idx, step := range steps {
				shifted = append(shifted, shiftStepOrder(step, idx))
			}
			steps = shifted
		}
		delete(goal, "description")
	}
	goal["steps"] = steps

	for _, alias := range legacyAliases {
		value, exists := goal[alias.from]
		if !exists {
			continue
		}
		if _, taken := goal[alias.to]; !taken {
			goal[alias.to] = value
		}
		delete(goal, alias.from)
	}

	return goal
}

func shiftStepOrder(step any, idx int) any {
	obj, ok := step.(map[string]any)
	if !ok {
		return step
	}
	switch order := obj["order"].(type) {
	case float64:
		obj["order"] = order + 1
	case int:
		obj["order"] = order + 1
	default:
		obj["order"] = idx + 1
	}
	return obj
}

func deepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}
