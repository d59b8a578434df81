package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DefaultPath 是本地应用数据库的默认路径。
const DefaultPath = "goaly.db"

// DefaultDocstorePath 是文档存储服务数据库的默认路径。
const DefaultDocstorePath = "docstore.db"

// Options 控制数据库连接行为。
type Options struct {
	// Silent 关闭 gorm 的 SQL 日志，测试中使用。
	Silent bool
}

// Open 打开本地应用数据库并执行自动迁移。
// path 为空时回退到 DefaultPath；调用方持有返回的连接，包内不保存全局实例。
func Open(path string, opts ...Options) (*gorm.DB, error) {
	return open(path, DefaultPath, opts,
		&User{},
		&SystemSetting{},
		&StorageRecord{},
	)
}

// OpenDocstore 打开远端文档存储服务使用的数据库。
func OpenDocstore(path string, opts ...Options) (*gorm.DB, error) {
	return open(path, DefaultDocstorePath, opts,
		&User{},
		&AccessToken{},
		&Container{},
		&Document{},
	)
}

// Close 关闭底层连接。
func Close(gdb *gorm.DB) error {
	if gdb == nil {
		return nil
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func open(databasePath, fallback string, opts []Options, models ...any) (*gorm.DB, error) {
	path := strings.TrimSpace(databasePath)
	if path == "" {
		path = fallback
	}

	if err := ensureParentDir(path); err != nil {
		return nil, err
	}

	cfg := &gorm.Config{}
	for _, opt := range opts {
		if opt.Silent {
			cfg.Logger = logger.Default.LogMode(logger.Silent)
		}
	}

	gdb, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	// 自动迁移模式，为核心模型创建表
	if err := gdb.AutoMigrate(models...); err != nil {
		return nil, fmt.Errorf("migrate database %s: %w", path, err)
	}

	return gdb, nil
}

func ensureParentDir(path string) error {
	if strings.HasPrefix(path, "file:") || path == ":memory:" {
		return nil
	}

	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}

	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return errors.New("database path parent is not a directory")
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}

	return err
}
