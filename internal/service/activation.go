package service

import (
	"sort"
	"time"

	"github.com/goaly/internal/model"
	"github.com/goaly/internal/priority"
)

// activateLocked 是激活引擎，调用方必须持有 s.mu。
// 整个过程使用同一个 now，避免在跨越零点时出现判定不一致。
//
//  1. 清理已过期的暂停条件（日期已过、依赖已完成或已不存在）
//  2. 终态 goal 不参与；其余 goal 中仍处于暂停条件的排除在外，过期的 paused 状态改为 inactive
//  3. 按优先级降序、createdAt 升序排序
//  4. 前 maxActive 个为 active，其余为 inactive
//  5. 仍满足暂停条件的 goal 状态必须是 paused
//  6. 使优先级缓存失效（持久化由调用方完成）
func (s *GoalService) activateLocked(maxActive int, now time.Time) {
	if maxActive < 0 {
		maxActive = 0
	}
	lookup := priority.LookupIn(s.goals)

	for i := range s.goals {
		g := &s.goals[i]
		if g.IsTerminal() {
			continue
		}
		if clearExpiredPause(g, lookup, now) {
			g.LastUpdated = now
			s.logger.Debug().Str("goal", g.ID).Msg("pause condition expired")
		}
	}
	lookup = priority.LookupIn(s.goals)

	candidates := make([]int, 0, len(s.goals))
	for i := range s.goals {
		g := &s.goals[i]
		if g.IsTerminal() {
			continue
		}
		if priority.IsPaused(*g, lookup, now) {
			continue
		}
		// 过期的 paused 在下面的分配中直接落到 active 或 inactive。
		candidates = append(candidates, i)
	}

	calc := s.calc
	calc.Now = func() time.Time { return now }
	scores := make(map[int]float64, len(candidates))
	for _, i := range candidates {
		scores[i] = calc.Priority(s.goals[i])
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		ia, ib := candidates[a], candidates[b]
		return priority.Less(s.goals[ia], s.goals[ib], scores[ia], scores[ib])
	})

	for rank, i := range candidates {
		if rank < maxActive {
			s.transition(&s.goals[i], model.StatusActive, now)
		} else {
			s.transition(&s.goals[i], model.StatusInactive, now)
		}
	}

	for i := range s.goals {
		g := &s.goals[i]
		if g.IsTerminal() {
			continue
		}
		if priority.IsPaused(*g, lookup, now) && g.Status != model.StatusPaused {
			s.transition(g, model.StatusPaused, now)
		}
	}

	s.cache.Invalidate()
}

func (s *GoalService) transition(g *model.Goal, status model.Status, now time.Time) {
	if g.Status == status {
		return
	}
	s.logger.Debug().
		Str("goal", g.ID).
		Str("from", string(g.Status)).
		Str("to", string(status)).
		Msg("activation status change")
	setStatus(g, status, now, historySourceActivation)
}

// clearExpiredPause 清除已经失效的暂停条件，返回是否有改动。
func clearExpiredPause(g *model.Goal, lookup priority.Lookup, now time.Time) bool {
	changed := false
	if g.PauseUntil != nil {
		probe := model.Goal{PauseUntil: g.PauseUntil}
		if !priority.IsPaused(probe, nil, now) {
			g.PauseUntil = nil
			changed = true
		}
	}
	if g.PauseUntilGoalID != "" {
		dep, ok := lookup(g.PauseUntilGoalID)
		if !ok || dep.Status == model.StatusCompleted {
			g.PauseUntilGoalID = ""
			changed = true
		}
	}
	return changed
}

// setStatus 修改状态并记录历史；进入 active 时清除暂停条件。
func setStatus(g *model.Goal, status model.Status, now time.Time, source string) {
	before := map[string]any{"status": string(g.Status)}
	g.Status = status
	if status == model.StatusActive {
		g.ClearPause()
	}
	g.LastUpdated = now
	g.History = append(g.History, newHistory("statusChanged", now,
		[]string{"status"}, before, map[string]any{"status": string(status)}, source))
}
