package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/goaly/internal/migrate"
	"github.com/goaly/internal/model"
	"github.com/goaly/internal/version"
)

var (
	// ErrInvalidPayload 表示导入数据无法解析或结构不正确。
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrUnsupportedVersion 表示导入数据来自更新的版本。
	ErrUnsupportedVersion = errors.New("unsupported payload version")
	// ErrNoPendingMigration 表示当前没有待确认的迁移。
	ErrNoPendingMigration = errors.New("no pending migration")
)

// LegacyVersion 是没有 version 字段的旧数据（裸数组或早期对象）的来源版本。
const LegacyVersion = "0.0.0"

// MigrationRequest 描述一次待确认的旧版本导入。
type MigrationRequest struct {
	OriginalPayload any
	SourceVersion   string
	FileName        string
}

// MigrationPreview 是迁移的计算结果，供调用方展示后确认或取消。
type MigrationPreview struct {
	SourceVersion string        `json:"sourceVersion"`
	TargetVersion string        `json:"targetVersion"`
	FileName      string        `json:"fileName,omitempty"`
	GoalCount     int           `json:"goalCount"`
	Payload       model.Payload `json:"payload"`
}

// ImportResult 描述 Import 的结果：要么已直接应用，要么等待迁移确认。
type ImportResult struct {
	Applied           bool              `json:"applied"`
	GoalCount         int               `json:"goalCount"`
	MigrationRequired bool              `json:"migrationRequired"`
	Migration         *MigrationPreview `json:"migration,omitempty"`
}

type pendingMigration struct {
	preview MigrationPreview
}

// Import 解析导入的 JSON。当前版本的数据直接应用；旧版本数据进入待确认的迁移流程；
// 比当前更新的版本被拒绝，本地状态保持不变。
func (a *App) Import(raw []byte, fileName string) (ImportResult, error) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return ImportResult{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	source, err := detectVersion(decoded)
	if err != nil {
		return ImportResult{}, err
	}
	if version.IsNewer(source, version.Current) {
		return ImportResult{}, fmt.Errorf("%w: %s is newer than %s", ErrUnsupportedVersion, source, version.Current)
	}

	if version.IsOlder(source, version.Current) {
		preview, err := a.BeginMigration(MigrationRequest{
			OriginalPayload: decoded,
			SourceVersion:   source,
			FileName:        fileName,
		})
		if err != nil {
			return ImportResult{}, err
		}
		return ImportResult{MigrationRequired: true, Migration: &preview, GoalCount: preview.GoalCount}, nil
	}

	payload := model.PayloadFromMap(migrate.Payload(decoded), a.now().UTC())
	if err := a.ApplyImportedPayload(payload); err != nil {
		return ImportResult{}, err
	}
	return ImportResult{Applied: true, GoalCount: len(payload.Goals)}, nil
}

// BeginMigration 计算迁移结果并暂存，等待 CompleteMigration 或 CancelMigration。
// 新的请求会覆盖尚未确认的旧请求。
func (a *App) BeginMigration(req MigrationRequest) (MigrationPreview, error) {
	original := req.OriginalPayload
	if data, ok := original.([]byte); ok {
		var decoded any
		if err := json.Unmarshal(data, &decoded); err != nil {
			return MigrationPreview{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		original = decoded
	}
	switch original.(type) {
	case map[string]any, []any:
	default:
		return MigrationPreview{}, fmt.Errorf("%w: expected an object or a goal list", ErrInvalidPayload)
	}

	source := strings.TrimSpace(req.SourceVersion)
	if source == "" {
		source = LegacyVersion
	}

	payload := model.PayloadFromMap(migrate.Payload(original), a.now().UTC())
	preview := MigrationPreview{
		SourceVersion: source,
		TargetVersion: version.Current,
		FileName:      strings.TrimSpace(req.FileName),
		GoalCount:     len(payload.Goals),
		Payload:       payload,
	}

	a.mu.Lock()
	a.pending = &pendingMigration{preview: preview}
	a.mu.Unlock()

	a.logger.Info().Str("from", source).Str("to", version.Current).Int("goals", preview.GoalCount).Msg("migration staged")
	return preview, nil
}

// CompleteMigration 应用暂存的迁移结果。
func (a *App) CompleteMigration() error {
	a.mu.Lock()
	pending := a.pending
	a.mu.Unlock()
	if pending == nil {
		return ErrNoPendingMigration
	}

	if err := a.ApplyImportedPayload(pending.preview.Payload.Clone()); err != nil {
		return err
	}

	a.mu.Lock()
	if a.pending == pending {
		a.pending = nil
	}
	a.mu.Unlock()
	return nil
}

// CancelMigration 丢弃暂存的迁移，本地状态不变。
func (a *App) CancelMigration() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = nil
}

// PendingMigration 返回暂存的迁移（如果有）。
func (a *App) PendingMigration() (MigrationPreview, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending == nil {
		return MigrationPreview{}, false
	}
	preview := a.pending.preview
	preview.Payload = preview.Payload.Clone()
	return preview, true
}

// detectVersion 返回数据声明的版本：裸数组与缺失 version 的对象视为 LegacyVersion，
// 声明了但格式错误的版本号视为非法数据。
func detectVersion(decoded any) (string, error) {
	switch v := decoded.(type) {
	case []any:
		return LegacyVersion, nil
	case map[string]any:
		if goals, ok := v["goals"]; ok && goals != nil {
			if _, isList := goals.([]any); !isList {
				return "", fmt.Errorf("%w: goals must be a list", ErrInvalidPayload)
			}
		}
		raw, ok := v["version"]
		if !ok || raw == nil {
			return LegacyVersion, nil
		}
		declared, ok := raw.(string)
		if !ok || !version.Valid(strings.TrimSpace(declared)) {
			return "", fmt.Errorf("%w: %w", ErrInvalidPayload, version.ErrInvalidVersion)
		}
		return strings.TrimSpace(declared), nil
	default:
		return "", fmt.Errorf("%w: expected an object or a goal list", ErrInvalidPayload)
	}
}
