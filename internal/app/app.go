// Package app 组装 goal、设置与复盘服务，对外提供导入、导出与迁移确认流程。
package app

import (
	"errors"
	"sync"
	"time"

	"github.com/goaly/internal/db"
	"github.com/goaly/internal/events"
	"github.com/goaly/internal/model"
	"github.com/goaly/internal/service"
	"github.com/goaly/internal/version"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// ErrStateChanged 表示应用期间本地状态已被修改，payload 没有被应用。
var ErrStateChanged = errors.New("local state changed")

// Options 描述 App 的依赖。
type Options struct {
	DB     *gorm.DB
	Bus    *events.Bus
	Logger zerolog.Logger
	Now    func() time.Time
	// BonusWindowDays 覆盖截止日期加分窗口，0 表示使用默认值。
	BonusWindowDays int
}

// App 是应用状态的唯一持有者，所有依赖显式传入。
type App struct {
	goals    *service.GoalService
	settings *service.SettingsService
	reviews  *service.ReviewService
	store    *db.Store
	bus      *events.Bus
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	pending *pendingMigration
}

// New 构造 App，需要调用 Load 读取已保存的数据。
func New(opts Options) *App {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger.With().Str("component", "app").Logger()
	store := db.NewStore(opts.DB)

	goals := service.NewGoalService(service.NewStoreGoalRepository(store), opts.Bus, opts.Logger)
	goals.SetClock(now)
	if opts.BonusWindowDays > 0 {
		goals.SetBonusWindow(opts.BonusWindowDays)
	}
	settings := service.NewSettingsService(opts.DB, opts.Bus, opts.Logger)

	a := &App{
		goals:    goals,
		settings: settings,
		store:    store,
		bus:      opts.Bus,
		logger:   logger,
		now:      now,
	}
	a.reviews = service.NewReviewService(goals, func() []int { return a.settings.Get().ReviewIntervals })
	return a
}

// Load 读取设置与 goal，然后按当前上限执行一次激活（处理离线期间到期的暂停）。
func (a *App) Load() error {
	if err := a.settings.Load(); err != nil {
		return err
	}
	if err := a.goals.Load(); err != nil {
		return err
	}
	return a.goals.AutoActivateByPriority(a.MaxActiveGoals())
}

// Goals 返回 goal 服务；修改类方法需要显式传入 MaxActiveGoals。
func (a *App) Goals() *service.GoalService {
	return a.goals
}

// Reviews 返回复盘服务。
func (a *App) Reviews() *service.ReviewService {
	return a.reviews
}

// Store 返回本地键值存储，同步快照与远端令牌保存在这里。
func (a *App) Store() *db.Store {
	return a.store
}

// Bus 返回事件总线。
func (a *App) Bus() *events.Bus {
	return a.bus
}

// Now 返回应用时钟的当前时间。
func (a *App) Now() time.Time {
	return a.now()
}

// Settings 返回当前设置。
func (a *App) Settings() model.Settings {
	return a.settings.Get()
}

// MaxActiveGoals 返回当前的激活上限。
func (a *App) MaxActiveGoals() int {
	return a.settings.Get().MaxActiveGoals
}

// UpdateSettings 修改设置；上限或复盘间隔变化后重新排期并激活。
func (a *App) UpdateSettings(input service.SettingsInput) (model.Settings, error) {
	before := a.settings.Get()
	updated, err := a.settings.Update(input)
	if err != nil {
		return model.Settings{}, err
	}

	if before.MaxActiveGoals != updated.MaxActiveGoals || !sameIntervals(before.ReviewIntervals, updated.ReviewIntervals) {
		if err := a.reviews.ApplyIntervals(updated.MaxActiveGoals); err != nil {
			return updated, err
		}
	}
	return updated, nil
}

// Payload 返回当前状态的完整快照：当前版本、深拷贝的 goal 与设置、新的 exportDate。
func (a *App) Payload() model.Payload {
	exportDate := a.now().UTC()
	return model.Payload{
		Version:    version.Current,
		Goals:      a.goals.Snapshot(),
		Settings:   a.settings.Get(),
		ExportDate: &exportDate,
	}
}

// Revision 返回本地状态的版本号，goal 或设置每持久化一次就增加。
func (a *App) Revision() uint64 {
	return a.goals.Revision() + a.settings.Revision()
}

// ApplyImportedPayload 用当前版本的 payload 替换设置与 goal，重新激活并重新计算复盘排期。
// 导入与迁移确认都走这条路径；设置与 goal 在同一个事务中写入，失败时两者都保持原样。
func (a *App) ApplyImportedPayload(p model.Payload) error {
	return a.apply(p, nil)
}

// ApplyPayloadAt 与 ApplyImportedPayload 相同，但仅在 Revision 仍等于 revision 时应用，
// 否则返回 ErrStateChanged 且不做任何修改。同步流程用它避免覆盖合并期间的本地修改。
func (a *App) ApplyPayloadAt(p model.Payload, revision uint64) error {
	return a.apply(p, &revision)
}

func (a *App) apply(p model.Payload, expected *uint64) error {
	settings := p.Settings.Normalize()

	err := a.goals.ReplaceAllWith(p.Goals, settings.MaxActiveGoals, settings.ReviewIntervals, func(goals []model.Goal, goalsRevision uint64) error {
		_, err := a.settings.ReplaceWith(settings, func(tx *gorm.DB, settingsRevision uint64) error {
			if expected != nil && goalsRevision+settingsRevision != *expected {
				return ErrStateChanged
			}
			return service.NewStoreGoalRepository(db.NewStore(tx)).SaveGoals(goals)
		})
		return err
	})
	if err != nil {
		return err
	}

	a.logger.Info().Int("goals", len(p.Goals)).Msg("applied payload")
	return nil
}

func sameIntervals(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
