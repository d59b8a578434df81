// Package syncer 驱动一次完整的同步：构建本地 payload、下载远端、读取基线快照、
// 三方合并、应用到本地、按需上传、保存新的基线。
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goaly/internal/app"
	"github.com/goaly/internal/db"
	"github.com/goaly/internal/events"
	"github.com/goaly/internal/merge"
	"github.com/goaly/internal/migrate"
	"github.com/goaly/internal/model"
	"github.com/goaly/internal/remote"
	"github.com/rs/zerolog"
)

var (
	// ErrNotAuthenticated 表示远端未配置或未登录，本次同步没有任何副作用。
	ErrNotAuthenticated = errors.New("remote store not configured or not authenticated")
	// ErrSyncInProgress 表示已有同步在执行，本次调用被丢弃。
	ErrSyncInProgress = errors.New("sync already in progress")
)

const (
	// DefaultDebounce 是后台同步的默认防抖时间。
	DefaultDebounce = 2 * time.Second
	// DefaultBackgroundTimeout 限制单次后台同步的时长。
	DefaultBackgroundTimeout = 2 * time.Minute

	// maxMergeAttempts 限制合并期间本地状态被修改时的重新合并次数。
	maxMergeAttempts = 3
)

// Application 是同步流程读写的本地应用状态。
// ApplyPayloadAt 在 Revision 已变化时必须返回 app.ErrStateChanged 且不做修改。
type Application interface {
	Payload() model.Payload
	Revision() uint64
	ApplyPayloadAt(p model.Payload, revision uint64) error
}

// SnapshotStore 保存按远端文档 id 区分的基线快照。
type SnapshotStore interface {
	Get(key string) (string, bool, error)
	Put(key, value string) error
	Delete(key string) error
}

// Options 描述 Orchestrator 的依赖。
type Options struct {
	App       Application
	Remote    remote.Store
	Snapshots SnapshotStore
	// Bus 非空时订阅保存事件，自动安排后台同步。
	Bus               *events.Bus
	Logger            zerolog.Logger
	Debounce          time.Duration
	BackgroundTimeout time.Duration
	Now               func() time.Time
}

// Result 描述一次成功的同步。
type Result struct {
	Uploaded    bool      `json:"uploaded"`
	DocumentID  string    `json:"documentId"`
	Goals       int       `json:"goals"`
	RemoteFound bool      `json:"remoteFound"`
	BaseFound   bool      `json:"baseFound"`
	Direction   Direction `json:"direction"`
	FinishedAt  time.Time `json:"finishedAt"`
}

// StatusReport 是轻量状态检查的结果。
type StatusReport struct {
	Authenticated bool       `json:"authenticated"`
	Syncing       bool       `json:"syncing"`
	RemoteFound   bool       `json:"remoteFound"`
	Direction     Direction  `json:"direction,omitempty"`
	LastSyncAt    *time.Time `json:"lastSyncAt,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
}

// Orchestrator 负责同步流程与后台调度。
// syncing 保证同一时刻只有一个同步在执行；suppress 在整个同步期间为真，
// 使应用合并结果时发出的保存事件不会再次安排后台同步。
type Orchestrator struct {
	app       Application
	remote    remote.Store
	snapshots SnapshotStore
	logger    zerolog.Logger
	now       func() time.Time
	timeout   time.Duration

	syncing  atomic.Bool
	suppress atomic.Bool
	closed   atomic.Bool

	debouncer *Debouncer
	subs      []events.Subscription

	mu         sync.Mutex
	lastSyncAt *time.Time
	lastErr    error
}

// New 构造 Orchestrator。
func New(opts Options) *Orchestrator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	delay := opts.Debounce
	if delay <= 0 {
		delay = DefaultDebounce
	}
	timeout := opts.BackgroundTimeout
	if timeout <= 0 {
		timeout = DefaultBackgroundTimeout
	}

	o := &Orchestrator{
		app:       opts.App,
		remote:    opts.Remote,
		snapshots: opts.Snapshots,
		logger:    opts.Logger.With().Str("component", "sync").Logger(),
		now:       now,
		timeout:   timeout,
	}
	o.debouncer = NewDebouncer(delay, o.runBackground)

	if opts.Bus != nil {
		schedule := func(events.Topic) error {
			o.ScheduleBackgroundSync()
			return nil
		}
		o.subs = append(o.subs,
			opts.Bus.Subscribe(events.GoalsSaved, schedule),
			opts.Bus.Subscribe(events.SettingsSaved, schedule),
		)
	}
	return o
}

// Sync 执行一次同步。background 只影响日志级别，不影响流程。
func (o *Orchestrator) Sync(ctx context.Context, background bool) (Result, error) {
	if o.remote == nil || !o.remote.IsAuthenticated() {
		if !background {
			o.logger.Warn().Msg("sync skipped: remote store not authenticated")
		}
		return Result{}, ErrNotAuthenticated
	}
	if !o.syncing.CompareAndSwap(false, true) {
		if !background {
			o.logger.Info().Msg("sync already in progress, dropping request")
		}
		return Result{}, ErrSyncInProgress
	}
	o.suppress.Store(true)

	var applied *uint64
	defer func() {
		o.suppress.Store(false)
		o.syncing.Store(false)
		// 应用合并结果之后的本地修改没有进入本次上传，补一次后台同步。
		if applied != nil && o.app.Revision() != *applied {
			o.ScheduleBackgroundSync()
		}
	}()

	result, applied, err := o.run(ctx)
	o.record(result, err)
	if err != nil {
		event := o.logger.Error()
		if background {
			event = o.logger.Warn()
		}
		event.Err(err).Bool("background", background).Msg("sync failed")
		return Result{}, err
	}

	o.logger.Info().
		Bool("background", background).
		Bool("uploaded", result.Uploaded).
		Int("goals", result.Goals).
		Str("document", result.DocumentID).
		Msg("sync finished")
	return result, nil
}

// run 执行一次同步，第二个返回值是应用合并结果之后的本地版本号（未应用时为 nil）。
func (o *Orchestrator) run(ctx context.Context) (Result, *uint64, error) {
	var (
		remoteData []byte
		documentID string
	)
	download, err := o.remote.Download(ctx)
	switch {
	case errors.Is(err, remote.ErrDocumentNotFound):
	case err != nil:
		return Result{}, nil, fmt.Errorf("download remote payload: %w", err)
	default:
		remoteData = download.Data
		documentID = download.DocumentID
	}

	var base []byte
	if documentID != "" {
		base = o.loadSnapshot(documentID)
	}

	result := Result{
		RemoteFound: remoteData != nil,
		BaseFound:   base != nil,
	}

	// 版本号先于 payload 读取；合并期间出现本地修改时，应用会被拒绝，用新的本地状态重新合并。
	for attempt := 1; ; attempt++ {
		revision := o.app.Revision()
		local := o.app.Payload()
		result.Direction = CheckSyncDirection(&local, decodePayload(remoteData, o.now()))

		merged := merge.Merge(merge.Input{
			Base:   base,
			Local:  local,
			Remote: remoteData,
			Now:    o.now(),
		})
		err := o.app.ApplyPayloadAt(merged, revision)
		if err == nil {
			break
		}
		if errors.Is(err, app.ErrStateChanged) && attempt < maxMergeAttempts {
			o.logger.Debug().Int("attempt", attempt).Msg("local state changed during merge, merging again")
			continue
		}
		return Result{}, nil, fmt.Errorf("apply merged payload: %w", err)
	}

	revision := o.app.Revision()
	applied := o.app.Payload()
	if remoteData == nil || !merge.Equal(applied, remoteData) {
		uploaded, err := o.remote.Upload(ctx, applied.Goals, applied.Settings)
		if err != nil {
			return Result{}, &revision, fmt.Errorf("upload merged payload: %w", err)
		}
		result.Uploaded = true
		documentID = uploaded.DocumentID
	}

	if documentID != "" {
		o.saveSnapshot(documentID, applied)
	}

	result.DocumentID = documentID
	result.Goals = len(applied.Goals)
	result.FinishedAt = o.now().UTC()
	return result, &revision, nil
}

// loadSnapshot 读取基线快照；无法解析的快照被删除并按不存在处理。
func (o *Orchestrator) loadSnapshot(documentID string) []byte {
	if o.snapshots == nil {
		return nil
	}
	key := db.SnapshotKey(documentID)
	raw, ok, err := o.snapshots.Get(key)
	if err != nil {
		o.logger.Warn().Err(err).Str("document", documentID).Msg("load sync snapshot failed")
		return nil
	}
	if !ok {
		return nil
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil || decoded == nil {
		o.logger.Warn().Str("document", documentID).Msg("discarding corrupt sync snapshot")
		if err := o.snapshots.Delete(key); err != nil {
			o.logger.Warn().Err(err).Msg("delete corrupt sync snapshot failed")
		}
		return nil
	}
	return []byte(raw)
}

func (o *Orchestrator) saveSnapshot(documentID string, p model.Payload) {
	if o.snapshots == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		o.logger.Warn().Err(err).Msg("encode sync snapshot failed")
		return
	}
	if err := o.snapshots.Put(db.SnapshotKey(documentID), string(data)); err != nil {
		o.logger.Warn().Err(err).Str("document", documentID).Msg("save sync snapshot failed")
	}
}

// ScheduleBackgroundSync 安排一次防抖后的后台同步；同步进行中或被抑制时跳过。
func (o *Orchestrator) ScheduleBackgroundSync() {
	if o.closed.Load() || o.suppress.Load() || o.syncing.Load() {
		return
	}
	if o.remote == nil || !o.remote.IsAuthenticated() {
		return
	}
	o.debouncer.Trigger()
}

// Pending 报告是否有尚未执行的后台同步。
func (o *Orchestrator) Pending() bool {
	return o.debouncer.Pending()
}

func (o *Orchestrator) runBackground() {
	if o.closed.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	_, _ = o.Sync(ctx, true)
}

// Status 下载远端数据并给出同步方向，不做合并，也不修改任何状态。
func (o *Orchestrator) Status(ctx context.Context) (StatusReport, error) {
	report := StatusReport{Syncing: o.syncing.Load()}

	o.mu.Lock()
	if o.lastSyncAt != nil {
		at := *o.lastSyncAt
		report.LastSyncAt = &at
	}
	if o.lastErr != nil {
		report.LastError = o.lastErr.Error()
	}
	o.mu.Unlock()

	if o.remote == nil || !o.remote.IsAuthenticated() {
		return report, nil
	}
	report.Authenticated = true

	download, err := o.remote.Download(ctx)
	switch {
	case errors.Is(err, remote.ErrDocumentNotFound):
	case err != nil:
		return report, fmt.Errorf("download remote payload: %w", err)
	default:
		report.RemoteFound = true
	}

	local := o.app.Payload()
	if report.RemoteFound && merge.Equal(local, download.Data) {
		report.Direction = DirectionEqual
		return report, nil
	}
	// 本地没有持久化的导出时间，用最近一次修改时间代替。
	local.ExportDate = latestUpdate(local.Goals)
	report.Direction = CheckSyncDirection(&local, decodePayload(download.Data, o.now()))
	return report, nil
}

// Close 取消待执行的后台同步并退订保存事件。
func (o *Orchestrator) Close() {
	if !o.closed.CompareAndSwap(false, true) {
		return
	}
	o.debouncer.Cancel()
	for _, sub := range o.subs {
		sub.Unsubscribe()
	}
}

func (o *Orchestrator) record(result Result, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastErr = err
	if err == nil {
		at := result.FinishedAt
		o.lastSyncAt = &at
	}
}

func decodePayload(data []byte, now time.Time) *model.Payload {
	if data == nil {
		return nil
	}
	raw, err := migrate.Bytes(data)
	if err != nil {
		return nil
	}
	p := model.PayloadFromMap(raw, now)
	return &p
}

func latestUpdate(goals []model.Goal) *time.Time {
	var latest *time.Time
	for i := range goals {
		ts := goals[i].LastUpdated
		if latest == nil || ts.After(*latest) {
			latest = &ts
		}
	}
	return latest
}
