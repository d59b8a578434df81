package model

import (
	"sort"

	"github.com/goaly/internal/locale"
)

const (
	// DefaultMaxActiveGoals 是未配置时同时激活的 goal 上限。
	DefaultMaxActiveGoals = 3
	// DefaultLanguage 是未配置时的界面语言。
	DefaultLanguage = locale.LanguageEnglish
)

// DefaultReviewIntervals 是默认的复盘间隔（天）。
var DefaultReviewIntervals = []int{7, 14, 30}

// Settings 是按用户保存的配置。
type Settings struct {
	MaxActiveGoals  int    `json:"maxActiveGoals"`
	Language        string `json:"language"`
	ReviewIntervals []int  `json:"reviewIntervals"`
}

// DefaultSettings 返回默认配置。
func DefaultSettings() Settings {
	return Settings{
		MaxActiveGoals:  DefaultMaxActiveGoals,
		Language:        DefaultLanguage,
		ReviewIntervals: append([]int{}, DefaultReviewIntervals...),
	}
}

// Normalize 修正越界值：上限至少为 1，语言回退默认，间隔去重、升序且为正数。
func (s Settings) Normalize() Settings {
	out := Settings{
		MaxActiveGoals:  s.MaxActiveGoals,
		Language:        locale.NormalizeLanguage(s.Language),
		ReviewIntervals: NormalizeIntervals(s.ReviewIntervals),
	}
	if out.MaxActiveGoals < 1 {
		out.MaxActiveGoals = DefaultMaxActiveGoals
	}
	if out.Language == "" {
		out.Language = DefaultLanguage
	}
	return out
}

// Clone 深拷贝配置。
func (s Settings) Clone() Settings {
	out := s
	out.ReviewIntervals = append([]int{}, s.ReviewIntervals...)
	return out
}

// NormalizeIntervals 过滤非正数、去重并升序；结果为空时返回默认间隔。
func NormalizeIntervals(intervals []int) []int {
	seen := make(map[int]struct{}, len(intervals))
	out := make([]int, 0, len(intervals))
	for _, days := range intervals {
		if days <= 0 {
			continue
		}
		if _, ok := seen[days]; ok {
			continue
		}
		seen[days] = struct{}{}
		out = append(out, days)
	}
	if len(out) == 0 {
		return append([]int{}, DefaultReviewIntervals...)
	}
	sort.Ints(out)
	return out
}

// SettingsFromMap 宽松解析配置对象。
func SettingsFromMap(raw map[string]any) Settings {
	s := DefaultSettings()
	if n, ok := ParseScore(raw["maxActiveGoals"]).Int(); ok {
		s.MaxActiveGoals = n
	}
	if lang, ok := raw["language"].(string); ok {
		s.Language = lang
	}
	if list, ok := raw["reviewIntervals"].([]any); ok {
		intervals := make([]int, 0, len(list))
		for _, item := range list {
			if n, ok := ParseScore(item).Int(); ok {
				intervals = append(intervals, n)
			}
		}
		s.ReviewIntervals = intervals
	}
	return s.Normalize()
}
