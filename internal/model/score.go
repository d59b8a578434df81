package model

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Score 表示 motivation/urgency 这类整数评分。
// 无法解析的输入保留为无效值（JSON 中为 null），不做默认填充，
// 让优先级计算得到 NaN，从而暴露数据问题。
type Score struct {
	value int
	valid bool
}

// NewScore 返回一个有效评分。
func NewScore(n int) Score {
	return Score{value: n, valid: true}
}

// InvalidScore 返回无效评分。
func InvalidScore() Score {
	return Score{}
}

// Int 返回评分值及其是否有效。
func (s Score) Int() (int, bool) {
	return s.value, s.valid
}

// Valid 报告评分是否有效。
func (s Score) Valid() bool {
	return s.valid
}

// Float 返回评分的浮点值，无效时为 NaN。
func (s Score) Float() float64 {
	if !s.valid {
		return math.NaN()
	}
	return float64(s.value)
}

// MarshalJSON 实现 json.Marshaler。
func (s Score) MarshalJSON() ([]byte, error) {
	if !s.valid {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(s.value)), nil
}

// UnmarshalJSON 实现 json.Unmarshaler，任何无法解析的值都得到无效评分。
func (s *Score) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		*s = InvalidScore()
		return nil
	}
	*s = ParseScore(raw)
	return nil
}

// ParseScore 按 parseInt 语义解析任意值：数字截断取整，字符串取前导整数。
func ParseScore(raw any) Score {
	switch v := raw.(type) {
	case Score:
		return v
	case int:
		return NewScore(v)
	case int64:
		return NewScore(int(v))
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return InvalidScore()
		}
		return NewScore(int(math.Trunc(v)))
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return NewScore(int(n))
		}
		if f, err := v.Float64(); err == nil {
			return ParseScore(f)
		}
		return InvalidScore()
	case string:
		return parseLeadingInt(v)
	default:
		return InvalidScore()
	}
}

func parseLeadingInt(raw string) Score {
	s := strings.TrimLeft(raw, " \t\n\r")
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digitsStart := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digitsStart {
		return InvalidScore()
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return InvalidScore()
	}
	return NewScore(n)
}
