package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goaly/internal/events"
	"github.com/goaly/internal/model"
	"github.com/goaly/internal/priority"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrGoalNotFound 在指定 goal 不存在时返回
	ErrGoalNotFound = errors.New("goal not found")
	// ErrInvalidGoalInput 在标题或评分不合法时返回
	ErrInvalidGoalInput = errors.New("invalid goal input")
	// ErrInvalidStatus 在状态值未知时返回
	ErrInvalidStatus = errors.New("invalid goal status")
	// ErrInvalidPause 在暂停条件缺失或引用非法时返回
	ErrInvalidPause = errors.New("invalid pause condition")
	// ErrStepNotFound 在步骤不存在时返回
	ErrStepNotFound = errors.New("step not found")
	// ErrResourceNotFound 在资料不存在时返回
	ErrResourceNotFound = errors.New("resource not found")
)

const (
	// MinScore 和 MaxScore 限定通过接口录入的 motivation/urgency 范围。
	MinScore = 1
	MaxScore = 5

	historySourceUser       = "user"
	historySourceActivation = "activation"
)

// GoalService 持有内存中的 goal 列表，负责增删改、激活引擎与持久化。
// 所有修改都在同一把锁内完成，保存成功后（锁外）发布 events.GoalsSaved。
type GoalService struct {
	mu     sync.Mutex
	repo   GoalRepository
	bus    *events.Bus
	logger zerolog.Logger
	now    func() time.Time
	calc   priority.Calculator
	cache  *priority.Cache
	goals  []model.Goal
	// revision 在每次成功持久化后递增，同步流程据此判断期间是否有本地修改。
	revision uint64
}

// GoalFilter 描述列表过滤条件
type GoalFilter struct {
	Status model.Status
	Search string
}

// GoalInput 定义创建 goal 时可配置字段
type GoalInput struct {
	Title      string
	Motivation int
	Urgency    int
	Deadline   *time.Time
	Steps      []string
}

// GoalUpdate 定义更新 goal 时的可选字段，nil 表示不修改
type GoalUpdate struct {
	Title         *string
	Motivation    *int
	Urgency       *int
	Deadline      *time.Time
	ClearDeadline bool
}

// PauseInput 描述暂停条件：截至某天，或等待另一个 goal 完成
type PauseInput struct {
	Until       *time.Time
	UntilGoalID string
}

// NewGoalService 构造 GoalService，需要调用 Load 读取已保存的数据。
func NewGoalService(repo GoalRepository, bus *events.Bus, logger zerolog.Logger) *GoalService {
	s := &GoalService{
		repo:   repo,
		bus:    bus,
		logger: logger.With().Str("component", "goals").Logger(),
		now:    time.Now,
		goals:  []model.Goal{},
	}
	s.calc = priority.NewCalculator(func() time.Time { return s.now() })
	s.cache = priority.NewCache(s.calc, func() []model.Goal { return s.goals })
	return s
}

// SetClock 替换时间来源，主要面向测试场景。
func (s *GoalService) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	s.now = now
	s.cache.Invalidate()
}

// SetBonusWindow 覆盖截止日期加分窗口（天）。
func (s *GoalService) SetBonusWindow(days int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calc.BonusWindowDays = days
	s.cache = priority.NewCache(s.calc, func() []model.Goal { return s.goals })
}

// Load 从仓库读取 goal 列表，替换内存状态。
func (s *GoalService) Load() error {
	goals, err := s.repo.LoadGoals()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.goals = goals
	s.cache.Invalidate()
	return nil
}

// List 返回 goal 副本，按优先级排序，支持状态与关键字筛选
func (s *GoalService) List(filter GoalFilter) []model.Goal {
	s.mu.Lock()
	defer s.mu.Unlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	priorities := s.cache.GetAllPriorities()

	out := make([]model.Goal, 0, len(s.goals))
	for _, g := range s.goals {
		if filter.Status != "" && g.Status != filter.Status {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(g.Title), search) {
			continue
		}
		out = append(out, g.Clone())
	}

	sort.SliceStable(out, func(i, j int) bool {
		return priority.Less(out[i], out[j], priorities[out[i].ID], priorities[out[j].ID])
	})
	return out
}

// Snapshot 按存储顺序返回全部 goal 的深拷贝。
func (s *GoalService) Snapshot() []model.Goal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.CloneGoals(s.goals)
}

// Get 根据 ID 获取 goal
func (s *GoalService) Get(id string) (model.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return model.Goal{}, ErrGoalNotFound
	}
	return s.goals[idx].Clone(), nil
}

// Priority 返回单个 goal 的当前优先级（可能为 NaN）。
func (s *GoalService) Priority(id string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.GetPriority(id)
}

// Priorities 返回全部 goal 的优先级。
func (s *GoalService) Priorities() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.GetAllPriorities()
}

// CreateGoal 新建 goal：状态先置为 inactive，随后立即交给激活引擎决定。
func (s *GoalService) CreateGoal(input GoalInput, maxActive int) (model.Goal, error) {
	if err := validateGoalInput(input); err != nil {
		return model.Goal{}, err
	}

	var created model.Goal
	err := s.update(func(now time.Time) error {
		g := model.NewGoal(map[string]any{}, now)
		g.Title = strings.TrimSpace(input.Title)
		g.Motivation = model.NewScore(input.Motivation)
		g.Urgency = model.NewScore(input.Urgency)
		g.Status = model.StatusInactive
		if input.Deadline != nil {
			d := input.Deadline.UTC()
			g.Deadline = &d
		}
		for _, text := range input.Steps {
			if trimmed := strings.TrimSpace(text); trimmed != "" {
				g.Steps = append(g.Steps, model.Step{ID: uuid.NewString(), Text: trimmed, Order: len(g.Steps)})
			}
		}
		g.History = append(g.History, newHistory("created", now, nil, nil, nil, historySourceUser))

		s.goals = append(s.goals, g)
		s.activateLocked(maxActive, now)
		created = s.goals[s.indexOf(g.ID)].Clone()
		return nil
	})
	if err != nil {
		return model.Goal{}, fmt.Errorf("create goal: %w", err)
	}
	return created, nil
}

// UpdateGoal 更新标题、评分与截止日期，记录变化字段并重新激活
func (s *GoalService) UpdateGoal(id string, input GoalUpdate, maxActive int) (model.Goal, error) {
	if input.Title != nil && strings.TrimSpace(*input.Title) == "" {
		return model.Goal{}, fmt.Errorf("%w: title is required", ErrInvalidGoalInput)
	}
	for _, score := range []*int{input.Motivation, input.Urgency} {
		if score != nil && (*score < MinScore || *score > MaxScore) {
			return model.Goal{}, fmt.Errorf("%w: score must be between %d and %d", ErrInvalidGoalInput, MinScore, MaxScore)
		}
	}

	return s.mutate(id, maxActive, true, func(g *model.Goal, now time.Time) error {
		before := map[string]any{}
		after := map[string]any{}
		var changes []string

		if input.Title != nil {
			title := strings.TrimSpace(*input.Title)
			if title != g.Title {
				changes = append(changes, "title")
				before["title"], after["title"] = g.Title, title
				g.Title = title
			}
		}
		if input.Motivation != nil {
			next := model.NewScore(*input.Motivation)
			if next != g.Motivation {
				changes = append(changes, "motivation")
				before["motivation"], after["motivation"] = scoreValue(g.Motivation), *input.Motivation
				g.Motivation = next
			}
		}
		if input.Urgency != nil {
			next := model.NewScore(*input.Urgency)
			if next != g.Urgency {
				changes = append(changes, "urgency")
				before["urgency"], after["urgency"] = scoreValue(g.Urgency), *input.Urgency
				g.Urgency = next
			}
		}
		switch {
		case input.ClearDeadline && g.Deadline != nil:
			changes = append(changes, "deadline")
			before["deadline"], after["deadline"] = timeValue(g.Deadline), nil
			g.Deadline = nil
		case input.Deadline != nil && (g.Deadline == nil || !g.Deadline.Equal(*input.Deadline)):
			d := input.Deadline.UTC()
			changes = append(changes, "deadline")
			before["deadline"], after["deadline"] = timeValue(g.Deadline), timeValue(&d)
			g.Deadline = &d
		}

		if len(changes) == 0 {
			return nil
		}
		g.LastUpdated = now
		g.History = append(g.History, newHistory("updated", now, changes, before, after, historySourceUser))
		return nil
	})
}

// DeleteGoal 删除 goal 并让激活引擎补位
func (s *GoalService) DeleteGoal(id string, maxActive int) error {
	err := s.update(func(now time.Time) error {
		idx := s.indexOf(id)
		if idx < 0 {
			return ErrGoalNotFound
		}
		s.goals = append(s.goals[:idx:idx], s.goals[idx+1:]...)
		s.activateLocked(maxActive, now)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete goal: %w", err)
	}
	return nil
}

// SetGoalStatus 由用户显式设置状态；终态只能通过这里进入。
func (s *GoalService) SetGoalStatus(id string, status model.Status, maxActive int) (model.Goal, error) {
	if _, ok := model.ParseStatus(string(status)); !ok {
		return model.Goal{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	return s.mutate(id, maxActive, true, func(g *model.Goal, now time.Time) error {
		if g.Status == status {
			return nil
		}
		setStatus(g, status, now, historySourceUser)
		if status.Terminal() {
			g.ClearPause()
		}
		return nil
	})
}

// PauseGoal 设置暂停条件，goal 立即进入 paused。
func (s *GoalService) PauseGoal(id string, input PauseInput, maxActive int) (model.Goal, error) {
	depID := strings.TrimSpace(input.UntilGoalID)
	if input.Until == nil && depID == "" {
		return model.Goal{}, fmt.Errorf("%w: a date or a goal is required", ErrInvalidPause)
	}
	if depID == id {
		return model.Goal{}, fmt.Errorf("%w: a goal cannot wait for itself", ErrInvalidPause)
	}

	return s.mutate(id, maxActive, true, func(g *model.Goal, now time.Time) error {
		if g.IsTerminal() {
			return fmt.Errorf("%w: goal is %s", ErrInvalidPause, g.Status)
		}
		if depID != "" && s.indexOf(depID) < 0 {
			return fmt.Errorf("%w: %w", ErrInvalidPause, ErrGoalNotFound)
		}

		before := pauseState(*g)
		g.PauseUntil = nil
		if input.Until != nil {
			until := model.StartOfDay(input.Until.UTC())
			g.PauseUntil = &until
		}
		g.PauseUntilGoalID = depID
		g.Status = model.StatusPaused
		g.LastUpdated = now
		g.History = append(g.History, newHistory("paused", now,
			[]string{"status", "pauseUntil", "pauseUntilGoalId"}, before, pauseState(*g), historySourceUser))
		return nil
	})
}

// UnpauseGoal 清除暂停条件，交给激活引擎重新决定状态。
func (s *GoalService) UnpauseGoal(id string, maxActive int) (model.Goal, error) {
	return s.mutate(id, maxActive, true, func(g *model.Goal, now time.Time) error {
		if g.IsTerminal() {
			return nil
		}
		before := pauseState(*g)
		g.ClearPause()
		if g.Status == model.StatusPaused {
			g.Status = model.StatusInactive
		}
		g.LastUpdated = now
		g.History = append(g.History, newHistory("unpaused", now,
			[]string{"status", "pauseUntil", "pauseUntilGoalId"}, before, pauseState(*g), historySourceUser))
		return nil
	})
}

// AutoActivateByPriority 执行激活引擎并持久化；重复调用在状态上没有额外效果。
func (s *GoalService) AutoActivateByPriority(maxActive int) error {
	return s.update(func(now time.Time) error {
		s.activateLocked(maxActive, now)
		return nil
	})
}

// ReplaceAllWith 用导入或合并得到的列表替换全部 goal，按 intervals 重新排期并激活，由 persist 负责落盘。
// persist 在持有锁时被调用，revision 是替换前的版本号；persist 返回错误时内存状态回滚。
func (s *GoalService) ReplaceAllWith(goals []model.Goal, maxActive int, intervals []int, persist func(goals []model.Goal, revision uint64) error) error {
	return s.updateWith(func(now time.Time) error {
		s.goals = model.CloneGoals(goals)
		rescheduleLocked(s.goals, intervals, now)
		s.activateLocked(maxActive, now)
		return nil
	}, func(goals []model.Goal) error {
		return persist(goals, s.revision)
	})
}

// Revision 返回当前持久化版本号。
func (s *GoalService) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

// AddStep 追加步骤
func (s *GoalService) AddStep(goalID, text string) (model.Goal, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return model.Goal{}, fmt.Errorf("%w: step text is required", ErrInvalidGoalInput)
	}
	return s.mutate(goalID, 0, false, func(g *model.Goal, now time.Time) error {
		order := 0
		for _, step := range g.Steps {
			if step.Order >= order {
				order = step.Order + 1
			}
		}
		g.Steps = append(g.Steps, model.Step{ID: uuid.NewString(), Text: trimmed, Order: order})
		touch(g, now, "steps")
		return nil
	})
}

// ToggleStep 切换步骤完成状态
func (s *GoalService) ToggleStep(goalID, stepID string) (model.Goal, error) {
	return s.mutate(goalID, 0, false, func(g *model.Goal, now time.Time) error {
		for i := range g.Steps {
			if g.Steps[i].ID == stepID {
				g.Steps[i].Completed = !g.Steps[i].Completed
				touch(g, now, "steps")
				return nil
			}
		}
		return ErrStepNotFound
	})
}

// RemoveStep 删除步骤并按现有顺序重新编号
func (s *GoalService) RemoveStep(goalID, stepID string) (model.Goal, error) {
	return s.mutate(goalID, 0, false, func(g *model.Goal, now time.Time) error {
		kept := make([]model.Step, 0, len(g.Steps))
		for _, step := range g.Steps {
			if step.ID != stepID {
				kept = append(kept, step)
			}
		}
		if len(kept) == len(g.Steps) {
			return ErrStepNotFound
		}
		sort.SliceStable(kept, func(i, j int) bool { return kept[i].Order < kept[j].Order })
		for i := range kept {
			kept[i].Order = i
		}
		g.Steps = kept
		touch(g, now, "steps")
		return nil
	})
}

// AddResource 追加资料，type 为空时使用默认类型
func (s *GoalService) AddResource(goalID, text, kind string) (model.Goal, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return model.Goal{}, fmt.Errorf("%w: resource text is required", ErrInvalidGoalInput)
	}
	kind = strings.TrimSpace(kind)
	if kind == "" {
		kind = model.DefaultResourceType
	}
	return s.mutate(goalID, 0, false, func(g *model.Goal, now time.Time) error {
		g.Resources = append(g.Resources, model.Resource{ID: uuid.NewString(), Text: trimmed, Type: kind})
		touch(g, now, "resources")
		return nil
	})
}

// RemoveResource 删除资料
func (s *GoalService) RemoveResource(goalID, resourceID string) (model.Goal, error) {
	return s.mutate(goalID, 0, false, func(g *model.Goal, now time.Time) error {
		for i, res := range g.Resources {
			if res.ID == resourceID {
				g.Resources = append(g.Resources[:i:i], g.Resources[i+1:]...)
				touch(g, now, "resources")
				return nil
			}
		}
		return ErrResourceNotFound
	})
}

// update 在锁内执行 fn 并持久化，成功后在锁外发布保存事件。
func (s *GoalService) update(fn func(now time.Time) error) error {
	return s.updateWith(fn, s.repo.SaveGoals)
}

// updateWith 在锁内执行 fn 并用 save 持久化；任一步失败都恢复修改前的列表。
func (s *GoalService) updateWith(fn func(now time.Time) error, save func(goals []model.Goal) error) error {
	s.mu.Lock()
	now := s.now().UTC()
	previous := model.CloneGoals(s.goals)
	if err := fn(now); err != nil {
		s.goals = previous
		s.cache.Invalidate()
		s.mu.Unlock()
		return err
	}
	s.cache.Invalidate()
	err := save(model.CloneGoals(s.goals))
	if err != nil {
		s.goals = previous
		s.cache.Invalidate()
	} else {
		s.revision++
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().Err(err).Msg("persist goals failed")
		return err
	}
	s.bus.Publish(events.GoalsSaved)
	return nil
}

// mutate 修改单个 goal；reactivate 为 true 时随后执行激活引擎。
func (s *GoalService) mutate(id string, maxActive int, reactivate bool, fn func(g *model.Goal, now time.Time) error) (model.Goal, error) {
	var result model.Goal
	err := s.update(func(now time.Time) error {
		idx := s.indexOf(id)
		if idx < 0 {
			return ErrGoalNotFound
		}
		if err := fn(&s.goals[idx], now); err != nil {
			return err
		}
		if reactivate {
			s.activateLocked(maxActive, now)
		}
		result = s.goals[s.indexOf(id)].Clone()
		return nil
	})
	if err != nil {
		return model.Goal{}, err
	}
	return result, nil
}

func (s *GoalService) indexOf(id string) int {
	for i := range s.goals {
		if s.goals[i].ID == id {
			return i
		}
	}
	return -1
}

func validateGoalInput(input GoalInput) error {
	if strings.TrimSpace(input.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidGoalInput)
	}
	if input.Motivation < MinScore || input.Motivation > MaxScore {
		return fmt.Errorf("%w: motivation must be between %d and %d", ErrInvalidGoalInput, MinScore, MaxScore)
	}
	if input.Urgency < MinScore || input.Urgency > MaxScore {
		return fmt.Errorf("%w: urgency must be between %d and %d", ErrInvalidGoalInput, MinScore, MaxScore)
	}
	return nil
}

func newHistory(event string, now time.Time, changes []string, before, after map[string]any, source string) model.HistoryEntry {
	if changes == nil {
		changes = []string{}
	}
	entry := model.HistoryEntry{
		ID:        uuid.NewString(),
		Event:     event,
		Timestamp: now,
		Changes:   changes,
		Meta:      map[string]any{"source": source},
	}
	if len(before) > 0 {
		entry.Before = before
	}
	if len(after) > 0 {
		entry.After = after
	}
	return entry
}

func touch(g *model.Goal, now time.Time, field string) {
	g.LastUpdated = now
	g.History = append(g.History, newHistory("updated", now, []string{field}, nil, nil, historySourceUser))
}

func scoreValue(s model.Score) any {
	if n, ok := s.Int(); ok {
		return n
	}
	return nil
}

func timeValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func pauseState(g model.Goal) map[string]any {
	return map[string]any{
		"status":           string(g.Status),
		"pauseUntil":       timeValue(g.PauseUntil),
		"pauseUntilGoalId": g.PauseUntilGoalID,
	}
}
