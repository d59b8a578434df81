package model

// Status 表示 goal 的状态。
type Status string

const (
	StatusActive       Status = "active"
	StatusInactive     Status = "inactive"
	StatusPaused       Status = "paused"
	StatusCompleted    Status = "completed"
	StatusNotCompleted Status = "notCompleted"
)

// ParseStatus 校验状态值，未知值返回 false。
func ParseStatus(raw string) (Status, bool) {
	switch Status(raw) {
	case StatusActive, StatusInactive, StatusPaused, StatusCompleted, StatusNotCompleted:
		return Status(raw), true
	}
	return "", false
}

// Terminal 表示 completed/notCompleted，激活引擎不再改动这类 goal。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusNotCompleted
}
