// Package remote 是远端文档存储的客户端：一个用户对应一个 JSON 文档。
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/goaly/internal/model"
	"github.com/goaly/internal/version"
)

var (
	// ErrDocumentNotFound 表示远端文档尚不存在，同步时按“远端为空”处理，不是故障。
	ErrDocumentNotFound = errors.New("remote document not found")
	// ErrNotAuthenticated 表示本地没有可用的凭据。
	ErrNotAuthenticated = errors.New("remote store not authenticated")
	// ErrUnauthorized 表示刷新凭据并重试一次之后仍被拒绝。
	ErrUnauthorized = errors.New("remote store rejected credentials")
)

// DocumentInfo 描述远端文档。
type DocumentInfo struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ModifiedTime time.Time `json:"modifiedTime"`
	Revision     int64     `json:"revision"`
}

// Download 是一次下载的结果，Data 为原始 JSON。
type Download struct {
	Data         []byte
	DocumentID   string
	ModifiedTime time.Time
}

// UploadResult 是一次上传的结果。
type UploadResult struct {
	DocumentID string
	Version    string
	ExportDate time.Time
}

// Store 是同步流程依赖的远端存储操作。
type Store interface {
	IsAuthenticated() bool
	FindOrCreateContainer(ctx context.Context) (string, error)
	FindDocument(ctx context.Context, containerID string) (*DocumentInfo, error)
	Upload(ctx context.Context, goals []model.Goal, settings model.Settings) (UploadResult, error)
	Download(ctx context.Context) (Download, error)
}

// BuildExportPayload 生成导出/上传用的 payload：当前版本、深拷贝的数据与新的 exportDate。
func BuildExportPayload(goals []model.Goal, settings model.Settings, now time.Time) model.Payload {
	exportDate := now.UTC()
	return model.Payload{
		Version:    version.Current,
		Goals:      model.CloneGoals(goals),
		Settings:   settings.Clone(),
		ExportDate: &exportDate,
	}
}
