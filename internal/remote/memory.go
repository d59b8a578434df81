package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/goaly/internal/model"
	"github.com/google/uuid"
)

// MemoryStore 是进程内的 Store 实现，用于测试与离线运行。
type MemoryStore struct {
	mu sync.Mutex

	now           func() time.Time
	authenticated bool
	containerID   string
	doc           *DocumentInfo
	content       []byte

	uploads   int
	downloads int

	// DownloadErr/UploadErr 非空时对应操作直接返回该错误。
	DownloadErr error
	UploadErr   error
}

// NewMemoryStore 创建一个已认证、内容为空的 MemoryStore。
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now, authenticated: true}
}

// SetAuthenticated 切换认证状态。
func (m *MemoryStore) SetAuthenticated(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authenticated = ok
}

// SetContent 直接写入远端内容，模拟另一台设备的上传。
func (m *MemoryStore) SetContent(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeLocked(append([]byte(nil), data...))
}

// Content 返回当前远端内容，不存在时为 nil。
func (m *MemoryStore) Content() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.content == nil {
		return nil
	}
	return append([]byte(nil), m.content...)
}

// Uploads 返回上传次数。
func (m *MemoryStore) Uploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploads
}

// Downloads 返回下载次数。
func (m *MemoryStore) Downloads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.downloads
}

// IsAuthenticated 实现 Store。
func (m *MemoryStore) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticated
}

// FindOrCreateContainer 实现 Store。
func (m *MemoryStore) FindOrCreateContainer(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.containerID == "" {
		m.containerID = uuid.NewString()
	}
	return m.containerID, nil
}

// FindDocument 实现 Store。
func (m *MemoryStore) FindDocument(_ context.Context, containerID string) (*DocumentInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc == nil || containerID != m.containerID {
		return nil, nil
	}
	doc := *m.doc
	return &doc, nil
}

// Upload 实现 Store。
func (m *MemoryStore) Upload(ctx context.Context, goals []model.Goal, settings model.Settings) (UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return UploadResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads++
	if m.UploadErr != nil {
		return UploadResult{}, m.UploadErr
	}

	payload := BuildExportPayload(goals, settings, m.now())
	data, err := json.Marshal(payload)
	if err != nil {
		return UploadResult{}, fmt.Errorf("encode payload: %w", err)
	}
	m.writeLocked(data)

	return UploadResult{DocumentID: m.doc.ID, Version: payload.Version, ExportDate: *payload.ExportDate}, nil
}

// Download 实现 Store。
func (m *MemoryStore) Download(ctx context.Context) (Download, error) {
	if err := ctx.Err(); err != nil {
		return Download{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloads++
	if m.DownloadErr != nil {
		return Download{}, m.DownloadErr
	}
	if m.doc == nil {
		return Download{}, ErrDocumentNotFound
	}
	return Download{
		Data:         append([]byte(nil), m.content...),
		DocumentID:   m.doc.ID,
		ModifiedTime: m.doc.ModifiedTime,
	}, nil
}

func (m *MemoryStore) writeLocked(data []byte) {
	if m.containerID == "" {
		m.containerID = uuid.NewString()
	}
	if m.doc == nil {
		m.doc = &DocumentInfo{ID: uuid.NewString(), Name: DefaultDocumentName}
	}
	m.doc.Revision++
	m.doc.ModifiedTime = m.now().UTC()
	m.content = data
}
