package model

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Goal 是用户目标的规范化内存表示。
// 构造时统一经过 NewGoal，保证 id、集合字段与日期字段都有确定的形态。
type Goal struct {
	ID               string         `json:"id"`
	Title            string         `json:"title"`
	Motivation       Score          `json:"motivation"`
	Urgency          Score          `json:"urgency"`
	Status           Status         `json:"status"`
	Deadline         *time.Time     `json:"deadline"`
	CreatedAt        time.Time      `json:"createdAt"`
	LastUpdated      time.Time      `json:"lastUpdated"`
	PauseUntil       *time.Time     `json:"pauseUntil"`
	PauseUntilGoalID string         `json:"pauseUntilGoalId,omitempty"`
	ReviewDates      []time.Time    `json:"reviewDates"`
	LastReviewAt     *time.Time     `json:"lastReviewAt"`
	NextReviewAt     *time.Time     `json:"nextReviewAt"`
	ReviewInterval   int            `json:"reviewIntervalIndex"`
	Steps            []Step         `json:"steps"`
	Resources        []Resource     `json:"resources"`
	History          []HistoryEntry `json:"history"`
}

// Step 是 goal 下的有序步骤。
type Step struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
	Order     int    `json:"order"`
}

// Resource 是 goal 关联的资料（链接、笔记等）。
type Resource struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Type string `json:"type"`
}

// HistoryEntry 是只追加的审计记录。
type HistoryEntry struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Changes   []string  `json:"changes"`
	Before    any       `json:"before,omitempty"`
	After     any       `json:"after,omitempty"`
	Meta      any       `json:"meta,omitempty"`
}

// DefaultResourceType 用于缺失 type 的资料条目。
const DefaultResourceType = "link"

var errGoalNotObject = errors.New("goal must be a JSON object")

// NewGoal 将原始对象规范化为 Goal。
// 评分按整数解析且无效值被保留；日期解析失败时可选字段为 nil，
// createdAt/lastUpdated 回退为 now。缺失 id 的 goal 会分配随机 id；
// 缺失 id 的步骤、资料与历史由 goal id 和位置派生，同一份数据在任何设备上得到相同的 id。
func NewGoal(raw map[string]any, now time.Time) Goal {
	g := Goal{
		ID:          asString(raw["id"]),
		Title:       asString(raw["title"]),
		Motivation:  ParseScore(raw["motivation"]),
		Urgency:     ParseScore(raw["urgency"]),
		Status:      StatusActive,
		Deadline:    parseOptionalTime(raw["deadline"]),
		CreatedAt:   parseTimeOr(raw["createdAt"], now),
		LastUpdated: parseTimeOr(raw["lastUpdated"], now),
		PauseUntil:  parseOptionalTime(raw["pauseUntil"]),

		PauseUntilGoalID: asString(raw["pauseUntilGoalId"]),
		LastReviewAt:     parseOptionalTime(raw["lastReviewAt"]),
		NextReviewAt:     parseOptionalTime(raw["nextReviewAt"]),
		ReviewDates:      []time.Time{},
		Steps:            []Step{},
		Resources:        []Resource{},
		History:          []HistoryEntry{},
	}

	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if status, ok := ParseStatus(asString(raw["status"])); ok {
		g.Status = status
	}
	if idx, ok := ParseScore(raw["reviewIntervalIndex"]).Int(); ok && idx > 0 {
		g.ReviewInterval = idx
	}

	if dates, ok := raw["reviewDates"].([]any); ok {
		for _, d := range dates {
			if t, ok := ParseTime(d); ok {
				g.ReviewDates = append(g.ReviewDates, t)
			}
		}
	}

	if steps, ok := raw["steps"].([]any); ok {
		for idx, entry := range steps {
			obj, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			step := Step{
				ID:    asString(obj["id"]),
				Text:  asString(obj["text"]),
				Order: idx,
			}
			if step.ID == "" {
				step.ID = DerivedID(g.ID, "step", strconv.Itoa(idx))
			}
			if completed, ok := obj["completed"].(bool); ok {
				step.Completed = completed
			}
			if order, ok := ParseScore(obj["order"]).Int(); ok {
				step.Order = order
			}
			g.Steps = append(g.Steps, step)
		}
	}

	if resources, ok := raw["resources"].([]any); ok {
		for idx, entry := range resources {
			obj, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			res := Resource{
				ID:   asString(obj["id"]),
				Text: asString(obj["text"]),
				Type: asString(obj["type"]),
			}
			if res.ID == "" {
				res.ID = DerivedID(g.ID, "resource", strconv.Itoa(idx))
			}
			if res.Type == "" {
				res.Type = DefaultResourceType
			}
			g.Resources = append(g.Resources, res)
		}
	}

	if history, ok := raw["history"].([]any); ok {
		for idx, entry := range history {
			obj, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			g.History = append(g.History, newHistoryEntry(obj, now, DerivedID(g.ID, "history", strconv.Itoa(idx))))
		}
	}

	return g
}

// DerivedID 由各部分派生稳定的 UUID（v5）。
func DerivedID(parts ...string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.Join(parts, "/"))).String()
}

func newHistoryEntry(obj map[string]any, now time.Time, fallbackID string) HistoryEntry {
	entry := HistoryEntry{
		ID:        asString(obj["id"]),
		Event:     asString(obj["event"]),
		Timestamp: parseTimeOr(obj["timestamp"], now),
		Changes:   []string{},
		Before:    cloneJSON(obj["before"]),
		After:     cloneJSON(obj["after"]),
		Meta:      cloneJSON(obj["meta"]),
	}
	if entry.ID == "" {
		entry.ID = fallbackID
	}
	if changes, ok := obj["changes"].([]any); ok {
		for _, change := range changes {
			if s, ok := change.(string); ok {
				entry.Changes = append(entry.Changes, s)
			}
		}
	}
	return entry
}

// UnmarshalJSON 让 JSON 解码同样经过 NewGoal 的规范化。
func (g *Goal) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return errGoalNotObject
	}
	*g = NewGoal(obj, time.Now())
	return nil
}

// IsTerminal 报告 goal 是否处于终态。
func (g Goal) IsTerminal() bool {
	return g.Status.Terminal()
}

// ClearPause 清除暂停条件。
func (g *Goal) ClearPause() {
	g.PauseUntil = nil
	g.PauseUntilGoalID = ""
}

// Clone 深拷贝 goal，切片与指针字段均不共享。
func (g Goal) Clone() Goal {
	out := g
	out.Deadline = cloneTimePtr(g.Deadline)
	out.PauseUntil = cloneTimePtr(g.PauseUntil)
	out.LastReviewAt = cloneTimePtr(g.LastReviewAt)
	out.NextReviewAt = cloneTimePtr(g.NextReviewAt)
	out.ReviewDates = append([]time.Time{}, g.ReviewDates...)
	out.Steps = append([]Step{}, g.Steps...)
	out.Resources = append([]Resource{}, g.Resources...)
	out.History = make([]HistoryEntry, len(g.History))
	for i, entry := range g.History {
		out.History[i] = entry.Clone()
	}
	return out
}

// Clone 深拷贝历史记录。
func (h HistoryEntry) Clone() HistoryEntry {
	out := h
	out.Changes = append([]string{}, h.Changes...)
	out.Before = cloneJSON(h.Before)
	out.After = cloneJSON(h.After)
	out.Meta = cloneJSON(h.Meta)
	return out
}

// CloneGoals 深拷贝 goal 列表，nil 返回空切片。
func CloneGoals(goals []Goal) []Goal {
	out := make([]Goal, len(goals))
	for i, g := range goals {
		out[i] = g.Clone()
	}
	return out
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneJSON(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = cloneJSON(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneJSON(item)
		}
		return out
	default:
		return v
	}
}

func asString(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
