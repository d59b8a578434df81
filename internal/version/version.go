package version

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// Current 是当前数据结构（payload schema）的版本号。
const Current = "1.3.0"

// ErrInvalidVersion 表示版本号不符合 major.minor.patch 格式。
var ErrInvalidVersion = errors.New("invalid version")

var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// Valid 判断字符串是否为合法的语义化版本号。
func Valid(v string) bool {
	return semverPattern.MatchString(v)
}

// Compare 依次比较 major、minor、patch，返回 -1/0/1。
// 任一参数不合法时返回 ErrInvalidVersion，调用方应先用 Valid 校验。
func Compare(a, b string) (int, error) {
	pa, err := parse(a)
	if err != nil {
		return 0, err
	}
	pb, err := parse(b)
	if err != nil {
		return 0, err
	}

	for i := 0; i < 3; i++ {
		switch {
		case pa[i] < pb[i]:
			return -1, nil
		case pa[i] > pb[i]:
			return 1, nil
		}
	}
	return 0, nil
}

// IsOlder 对无法解析的 candidate 一律返回 true，按“需要迁移”处理。
func IsOlder(candidate, reference string) bool {
	if !Valid(candidate) {
		return true
	}
	cmp, err := Compare(candidate, reference)
	if err != nil {
		return true
	}
	return cmp < 0
}

// IsSame 对不合法的 candidate 返回 false。
func IsSame(candidate, reference string) bool {
	if !Valid(candidate) {
		return false
	}
	cmp, err := Compare(candidate, reference)
	return err == nil && cmp == 0
}

// IsNewer 对不合法的 candidate 返回 false。
func IsNewer(candidate, reference string) bool {
	if !Valid(candidate) {
		return false
	}
	cmp, err := Compare(candidate, reference)
	return err == nil && cmp > 0
}

func parse(v string) ([3]int, error) {
	var out [3]int
	if !Valid(v) {
		return out, fmt.Errorf("%w: %q", ErrInvalidVersion, v)
	}

	start, idx := 0, 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == '.' {
			n, err := strconv.Atoi(v[start:i])
			if err != nil {
				return out, fmt.Errorf("%w: %q", ErrInvalidVersion, v)
			}
			out[idx] = n
			idx++
			start = i + 1
		}
	}
	return out, nil
}
