package handler

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/goaly/internal/locale"
)

const localeContextKey = "__request_locale"

// LocaleMiddleware 确定本次请求的界面语言并写入 Content-Language，客户端据此选择文案。
func (a *API) LocaleMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		language := a.resolveLanguage(c)
		c.Set(localeContextKey, language)
		c.Header("Content-Language", language)
		appendVaryHeader(c, "Accept-Language")
		c.Next()
	}
}

// resolveLanguage 依次检查 ?lang、Accept-Language 与用户设置的语言。
func (a *API) resolveLanguage(c *gin.Context) string {
	if override := locale.NormalizeLanguage(c.Query("lang")); override != "" {
		return override
	}
	if fromHeader := locale.LanguageFromAcceptLanguage(c.GetHeader("Accept-Language")); fromHeader != "" {
		return fromHeader
	}
	if a != nil && a.app != nil {
		if configured := locale.NormalizeLanguage(a.app.Settings().Language); configured != "" {
			return configured
		}
	}
	return locale.LanguageEnglish
}

// RequestLanguage 返回中间件解析的语言，未经过中间件时为空串。
func RequestLanguage(c *gin.Context) string {
	if cached, exists := c.Get(localeContextKey); exists {
		if language, ok := cached.(string); ok {
			return language
		}
	}
	return ""
}

func appendVaryHeader(c *gin.Context, headers ...string) {
	existing := c.Writer.Header().Get("Vary")
	seen := make(map[string]struct{})
	order := make([]string, 0, len(headers))
	for _, token := range append(strings.Split(existing, ","), headers...) {
		trimmed := strings.TrimSpace(token)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		order = append(order, trimmed)
	}
	if len(order) > 0 {
		c.Header("Vary", strings.Join(order, ", "))
	}
}
