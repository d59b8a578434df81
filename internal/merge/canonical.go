package merge

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/goaly/internal/migrate"
	"github.com/goaly/internal/model"
)

// canonicalPayload 是用于比较的稳定形态：不含 exportDate，goals 按 id 排序。
type canonicalPayload struct {
	Version  string         `json:"version"`
	Goals    []model.Goal   `json:"goals"`
	Settings model.Settings `json:"settings"`
}

// Canonical 返回 payload 的规范化序列化结果。
// 输入先迁移到当前 schema，日期统一为 UTC ISO 字符串，goals 按 id 排序，exportDate 被忽略，
// 因此两份内容相同但导出时间不同的 payload 得到相同的字节。
func Canonical(value any) ([]byte, error) {
	raw, ok := decode(value)
	if !ok {
		return nil, fmt.Errorf("canonical payload: empty or unreadable input")
	}

	payload := model.PayloadFromMap(migrate.Payload(raw), time.Unix(0, 0).UTC())
	goals := model.CloneGoals(payload.Goals)
	sort.SliceStable(goals, func(i, j int) bool {
		return goals[i].ID < goals[j].ID
	})

	data, err := json.Marshal(canonicalPayload{
		Version:  payload.Version,
		Goals:    goals,
		Settings: payload.Settings,
	})
	if err != nil {
		return nil, fmt.Errorf("canonical payload: %w", err)
	}
	return data, nil
}

// Equal 报告两份 payload 在规范化后是否一致；任一方无法规范化时视为不一致。
func Equal(a, b any) bool {
	ca, err := Canonical(a)
	if err != nil {
		return false
	}
	cb, err := Canonical(b)
	if err != nil {
		return false
	}
	return string(ca) == string(cb)
}
