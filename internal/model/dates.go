package model

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime 宽松解析日期：ISO 字符串、纯日期、毫秒时间戳均可，统一转为 UTC。
func ParseTime(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false
		}
		return v.UTC(), true
	case *time.Time:
		if v == nil || v.IsZero() {
			return time.Time{}, false
		}
		return v.UTC(), true
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return time.Time{}, false
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, trimmed); err == nil {
				return t.UTC(), true
			}
		}
		return time.Time{}, false
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(v)).UTC(), true
	case int64:
		return time.UnixMilli(v).UTC(), true
	case int:
		return time.UnixMilli(int64(v)).UTC(), true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return time.UnixMilli(n).UTC(), true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// parseOptionalTime 解析失败时返回 nil。
func parseOptionalTime(raw any) *time.Time {
	t, ok := ParseTime(raw)
	if !ok {
		return nil
	}
	return &t
}

// parseTimeOr 解析失败时回退到 fallback。
func parseTimeOr(raw any, fallback time.Time) time.Time {
	if t, ok := ParseTime(raw); ok {
		return t
	}
	return fallback.UTC()
}

// StartOfDay 返回 t 所在日期的零点（保留时区）。
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
