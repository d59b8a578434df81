package syncer

import (
	"github.com/goaly/internal/model"
	"github.com/goaly/internal/version"
)

// Direction 是轻量状态检查给出的建议同步方向。
type Direction string

const (
	DirectionPush  Direction = "push"
	DirectionPull  Direction = "pull"
	DirectionEqual Direction = "equal"
)

// CheckSyncDirection 比较本地与远端数据，给出不经合并的方向判断。
// 依次比较：是否为空（空的一方永远不能覆盖非空的一方）、exportDate（缺失的一方落后）、
// schema 版本；都相同时视为一致。
func CheckSyncDirection(local, remote *model.Payload) Direction {
	localEmpty := local == nil || len(local.Goals) == 0
	remoteEmpty := remote == nil || len(remote.Goals) == 0
	switch {
	case !localEmpty && remoteEmpty:
		return DirectionPush
	case localEmpty && !remoteEmpty:
		return DirectionPull
	case local == nil || remote == nil:
		// 两边都为空且有一方缺失，没有可比较的内容。
		return DirectionEqual
	}

	switch {
	case local.ExportDate != nil && remote.ExportDate == nil:
		return DirectionPush
	case local.ExportDate == nil && remote.ExportDate != nil:
		return DirectionPull
	case local.ExportDate != nil && remote.ExportDate != nil:
		if local.ExportDate.After(*remote.ExportDate) {
			return DirectionPush
		}
		if remote.ExportDate.After(*local.ExportDate) {
			return DirectionPull
		}
	}

	switch {
	case version.IsNewer(local.Version, remote.Version):
		return DirectionPush
	case version.IsNewer(remote.Version, local.Version):
		return DirectionPull
	}
	return DirectionEqual
}
