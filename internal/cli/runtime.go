package cli

import (
	"errors"
	"fmt"

	"github.com/goaly/internal/app"
	"github.com/goaly/internal/db"
	"github.com/goaly/internal/events"
	"github.com/goaly/internal/remote"
	"github.com/goaly/internal/syncer"
	"gorm.io/gorm"
)

// errRemoteNotConfigured 表示没有配置 GOALY_REMOTE_BASE_URL。
var errRemoteNotConfigured = errors.New("remote store not configured (set GOALY_REMOTE_BASE_URL)")

// runtime 是本地命令共享的一组依赖。
type runtime struct {
	db     *gorm.DB
	app    *app.App
	client *remote.Client
	sync   *syncer.Orchestrator
}

// openRuntime 打开本地数据库并加载状态。autoSync 为真时订阅保存事件安排后台同步。
func openRuntime(opts *RootOptions, autoSync bool) (*runtime, error) {
	cfg := opts.Config
	gdb, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(opts.Logger)
	application := app.New(app.Options{DB: gdb, Bus: bus, Logger: opts.Logger})
	if err := application.Load(); err != nil {
		_ = db.Close(gdb)
		return nil, fmt.Errorf("load state: %w", err)
	}

	rt := &runtime{db: gdb, app: application}
	if !cfg.RemoteConfigured() {
		return rt, nil
	}

	rt.client = remote.NewClient(remote.Config{
		BaseURL:      cfg.RemoteBaseURL,
		ClientID:     cfg.RemoteClientID,
		ClientSecret: cfg.RemoteClientSecret,
		Logger:       opts.Logger,
	}, remote.NewDBTokenStore(application.Store()))

	syncOpts := syncer.Options{
		App:       application,
		Remote:    rt.client,
		Snapshots: application.Store(),
		Logger:    opts.Logger,
		Debounce:  cfg.SyncDebounce,
	}
	if autoSync && cfg.SyncAuto {
		syncOpts.Bus = bus
	}
	rt.sync = syncer.New(syncOpts)
	return rt, nil
}

// requireRemote 在未配置远端存储时返回错误。
func (rt *runtime) requireRemote() error {
	if rt.client == nil {
		return errRemoteNotConfigured
	}
	return nil
}

func (rt *runtime) Close() error {
	if rt.sync != nil {
		rt.sync.Close()
	}
	return db.Close(rt.db)
}
