package handler

import (
	"context"

	"github.com/goaly/internal/app"
	"github.com/goaly/internal/syncer"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// SyncService 是 HTTP 层使用的同步操作。
type SyncService interface {
	Sync(ctx context.Context, background bool) (syncer.Result, error)
	Status(ctx context.Context) (syncer.StatusReport, error)
}

// RemoteAccount 管理远端存储的登录状态。
type RemoteAccount interface {
	Login(ctx context.Context, username, password string) error
	Logout() error
}

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db     *gorm.DB
	app    *app.App
	sync   SyncService
	remote RemoteAccount
	logger zerolog.Logger
}

// NewAPI constructs a handler set with shared services.
// sync 与 remote 可以为 nil，表示未配置远端存储。
func NewAPI(gdb *gorm.DB, application *app.App, sync SyncService, remote RemoteAccount, logger zerolog.Logger) *API {
	return &API{
		db:     gdb,
		app:    application,
		sync:   sync,
		remote: remote,
		logger: logger.With().Str("component", "http").Logger(),
	}
}

// DB exposes the underlying gorm instance.
func (a *API) DB() *gorm.DB {
	return a.db
}
