// Package merge 实现 base/local/remote 三方合并。
//
// 合并是纯函数：不做 I/O，不修改入参。三份输入都先经过 migrate 升级到当前 schema，
// 再按 goal id 逐条决议，history 在三方之间取并集。
package merge

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/goaly/internal/migrate"
	"github.com/goaly/internal/model"
	"github.com/goaly/internal/version"
)

// HistoryLimit 是单个 goal 保留的历史记录上限，超出时丢弃最旧的条目。
const HistoryLimit = 100

// Input 是一次合并的三方输入。
// Base/Local/Remote 可以是 model.Payload、*model.Payload、原始 JSON 字节，
// 或已解码的 JSON 值；nil（以及无法解析的字节）表示该方不存在。
type Input struct {
	Base   any
	Local  any
	Remote any
	Now    time.Time
}

type side struct {
	payload model.Payload
	raw     map[string]any
	index   map[string]int
}

// Merge 执行三方合并并返回新的 payload。
func Merge(in Input) model.Payload {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	base := load(in.Base, now)
	local := load(in.Local, now)
	remote := load(in.Remote, now)

	out := model.Payload{
		Version:    version.Current,
		Goals:      []model.Goal{},
		Settings:   pickSettings(local, remote),
		ExportDate: &now,
	}

	emitted := map[string]struct{}{}
	emit := func(g model.Goal) {
		if _, seen := emitted[g.ID]; seen {
			return
		}
		emitted[g.ID] = struct{}{}
		out.Goals = append(out.Goals, g)
	}

	if local != nil {
		for _, g := range local.payload.Goals {
			emit(resolve(g.ID, base, local, remote))
		}
	}
	if remote != nil {
		for _, g := range remote.payload.Goals {
			emit(resolve(g.ID, base, local, remote))
		}
	}

	return out
}

// MergeTwoWay 是没有共同祖先的合并，决议总是退化为时间戳比较。
func MergeTwoWay(local, remote any, now time.Time) model.Payload {
	return Merge(Input{Local: local, Remote: remote, Now: now})
}

func resolve(id string, base, local, remote *side) model.Goal {
	lg, inLocal := local.goal(id)
	rg, inRemote := remote.goal(id)
	bg, inBase := base.goal(id)

	switch {
	case inLocal && !inRemote:
		return lg.Clone()
	case inRemote && !inLocal:
		return rg.Clone()
	}

	winner := pickWinner(lg, rg, bg, inBase)
	sources := [][]model.HistoryEntry{winner.History, lg.History, rg.History}
	if inBase {
		sources = append(sources, bg.History)
	}

	merged := winner.Clone()
	merged.History = unionHistory(sources...)
	return merged
}

func pickWinner(local, remote, base model.Goal, hasBase bool) model.Goal {
	if hasBase {
		baseKey := goalKey(base)
		localSame := bytes.Equal(goalKey(local), baseKey)
		remoteSame := bytes.Equal(goalKey(remote), baseKey)
		switch {
		case localSame && !remoteSame:
			return remote
		case remoteSame && !localSame:
			return local
		case localSame && remoteSame:
			return local
		}
	}

	if !local.LastUpdated.Equal(remote.LastUpdated) {
		if remote.LastUpdated.After(local.LastUpdated) {
			return remote
		}
		return local
	}
	if remote.CreatedAt.After(local.CreatedAt) {
		return remote
	}
	return local
}

// unionHistory 按 id 去重（先出现者优先）、按时间升序排序并截取最近的 HistoryLimit 条。
func unionHistory(sources ...[]model.HistoryEntry) []model.HistoryEntry {
	seen := map[string]struct{}{}
	out := []model.HistoryEntry{}
	for _, entries := range sources {
		for _, entry := range entries {
			if _, ok := seen[entry.ID]; ok {
				continue
			}
			seen[entry.ID] = struct{}{}
			out = append(out, entry.Clone())
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if len(out) > HistoryLimit {
		out = out[len(out)-HistoryLimit:]
	}
	return out
}

// pickSettings 选择 exportDate 较新一方的 settings；缺失 exportDate 的一方落败，相同时取本地。
func pickSettings(local, remote *side) model.Settings {
	switch {
	case local == nil && remote == nil:
		return model.DefaultSettings()
	case remote == nil:
		return local.settings(nil)
	case local == nil:
		return remote.settings(nil)
	}

	le, re := local.payload.ExportDate, remote.payload.ExportDate
	if re != nil && (le == nil || re.After(*le)) {
		return remote.settings(local)
	}
	return local.settings(remote)
}

func (s *side) settings(fallback *side) model.Settings {
	if _, ok := s.raw["settings"].(map[string]any); ok || fallback == nil {
		return s.payload.Settings.Clone()
	}
	return fallback.payload.Settings.Clone()
}

func (s *side) goal(id string) (model.Goal, bool) {
	if s == nil {
		return model.Goal{}, false
	}
	idx, ok := s.index[id]
	if !ok {
		return model.Goal{}, false
	}
	return s.payload.Goals[idx], true
}

func load(value any, now time.Time) *side {
	raw, ok := decode(value)
	if !ok {
		return nil
	}
	migrated := migrate.Payload(raw)
	payload := model.PayloadFromMap(migrated, now)

	index := make(map[string]int, len(payload.Goals))
	for i, g := range payload.Goals {
		if _, dup := index[g.ID]; dup {
			continue
		}
		index[g.ID] = i
	}
	return &side{payload: payload, raw: migrated, index: index}
}

// decode 把各种输入形态统一为已解码的 JSON 值。
func decode(value any) (any, bool) {
	switch v := value.(type) {
	case nil:
		return nil, false
	case *model.Payload:
		if v == nil {
			return nil, false
		}
		return roundTrip(*v)
	case []byte:
		return decodeBytes(v)
	case json.RawMessage:
		return decodeBytes(v)
	case map[string]any, []any:
		return v, true
	default:
		return roundTrip(v)
	}
}

func decodeBytes(data []byte) (any, bool) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, false
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return nil, false
	}
	return raw, true
}

func roundTrip(value any) (any, bool) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, false
	}
	return decodeBytes(data)
}

func goalKey(g model.Goal) []byte {
	data, err := json.Marshal(g)
	if err != nil {
		return nil
	}
	return data
}
