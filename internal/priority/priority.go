// Package priority 计算 goal 的优先级，并提供暂停判定与排序规则。
package priority

import (
	"math"
	"time"

	"github.com/goaly/internal/model"
)

// DefaultBonusWindowDays 是截止日期加分的默认窗口（天）。
const DefaultBonusWindowDays = 30

// Calculator 计算 priority = motivation + urgency*10 + deadlineBonus。
type Calculator struct {
	BonusWindowDays int
	Now             func() time.Time
}

// NewCalculator 使用默认窗口构造 Calculator，now 为空时使用 time.Now。
func NewCalculator(now func() time.Time) Calculator {
	if now == nil {
		now = time.Now
	}
	return Calculator{BonusWindowDays: DefaultBonusWindowDays, Now: now}
}

// Priority 返回 goal 的优先级；任一评分无效时结果为 NaN。
func (c Calculator) Priority(g model.Goal) float64 {
	return g.Motivation.Float() + g.Urgency.Float()*10 + c.DeadlineBonus(g)
}

// DeadlineBonus 在截止日期落入窗口时返回 max(0, window - daysUntilDeadline)。
// 已过期的截止日期天数为负，因此获得比窗口更高的加分。
func (c Calculator) DeadlineBonus(g model.Goal) float64 {
	if g.Deadline == nil {
		return 0
	}
	window := c.BonusWindowDays
	if window <= 0 {
		window = DefaultBonusWindowDays
	}

	days := DaysUntil(*g.Deadline, c.now())
	if days > window {
		return 0
	}
	return math.Max(0, float64(window-days))
}

func (c Calculator) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// DaysUntil 返回距离 deadline 的天数（向上取整）。
func DaysUntil(deadline, now time.Time) int {
	return int(math.Ceil(deadline.Sub(now).Hours() / 24))
}

// Less 定义激活排序：优先级降序，createdAt 升序，NaN 排在最后，最后按 id 保证确定性。
func Less(a, b model.Goal, pa, pb float64) bool {
	aNaN, bNaN := math.IsNaN(pa), math.IsNaN(pb)
	switch {
	case aNaN && !bNaN:
		return false
	case !aNaN && bNaN:
		return true
	case !aNaN && !bNaN && pa != pb:
		return pa > pb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Lookup 按 id 查找 goal，用于解析暂停依赖。
type Lookup func(id string) (model.Goal, bool)

// IsPaused 判断 goal 当前是否处于暂停条件中：
// pauseUntil 的日期（按天比较）仍在未来，或 pauseUntilGoalId 指向的 goal 尚未完成。
// 找不到依赖 goal 时视为不暂停。
func IsPaused(g model.Goal, lookup Lookup, now time.Time) bool {
	if g.PauseUntil != nil && pauseDateInFuture(*g.PauseUntil, now) {
		return true
	}
	if g.PauseUntilGoalID != "" && lookup != nil {
		if dep, ok := lookup(g.PauseUntilGoalID); ok && dep.Status != model.StatusCompleted {
			return true
		}
	}
	return false
}

func pauseDateInFuture(until, now time.Time) bool {
	today := model.StartOfDay(now.UTC())
	day := model.StartOfDay(until.UTC())
	return day.After(today)
}

// LookupIn 基于切片构造 Lookup。
func LookupIn(goals []model.Goal) Lookup {
	index := make(map[string]int, len(goals))
	for i, g := range goals {
		index[g.ID] = i
	}
	return func(id string) (model.Goal, bool) {
		i, ok := index[id]
		if !ok {
			return model.Goal{}, false
		}
		return goals[i], true
	}
}
