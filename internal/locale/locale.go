package locale

import "strings"

const (
	LanguageEnglish = "en"
	LanguageGerman  = "de"
	LanguageChinese = "zh"
)

// Supported 按优先顺序列出支持的界面语言。
var Supported = []string{LanguageEnglish, LanguageGerman, LanguageChinese}

// NormalizeLanguage 将 locale 代码（en-US、de_DE、zh-Hans 等）归一为支持的语言，未知返回空串。
func NormalizeLanguage(raw string) string {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "zh") || trimmed == "cn" {
		return LanguageChinese
	}
	if strings.HasPrefix(trimmed, "de") {
		return LanguageGerman
	}
	if strings.HasPrefix(trimmed, "en") {
		return LanguageEnglish
	}
	return ""
}

// LanguageFromAcceptLanguage 返回 Accept-Language 头中第一个受支持的语言。
func LanguageFromAcceptLanguage(header string) string {
	for _, part := range strings.Split(header, ",") {
		tag := part
		if idx := strings.Index(tag, ";"); idx >= 0 {
			tag = tag[:idx]
		}
		if lang := NormalizeLanguage(tag); lang != "" {
			return lang
		}
	}
	return ""
}
