package handler

import (
	"errors"
	"html"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goaly/internal/app"
	"github.com/goaly/internal/model"
	"github.com/goaly/internal/remote"
	"github.com/goaly/internal/service"
	"github.com/goaly/internal/syncer"
	"github.com/goaly/internal/version"
	"github.com/microcosm-cc/bluemonday"
)

var textPolicy = bluemonday.StrictPolicy()

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

func bindJSON(c *gin.Context, dst interface{}, message string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, message)
		return false
	}
	return true
}

// sanitizeText 去掉所有标记，只保留纯文本。
func sanitizeText(raw string) string {
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(raw)))
}

// parseDateParam 解析 YYYY-MM-DD 或 RFC3339 日期，空串返回 nil。
func parseDateParam(raw string) (*time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	parsed, ok := model.ParseTime(trimmed)
	if !ok {
		return nil, errors.New("invalid date")
	}
	return &parsed, nil
}

// respondServiceError 把领域错误映射为 HTTP 状态码。
func (a *API) respondServiceError(c *gin.Context, err error, fallback string) {
	switch {
	// 校验错误优先：暂停依赖不存在时错误链上同时带有 ErrGoalNotFound。
	case errors.Is(err, service.ErrInvalidGoalInput),
		errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrInvalidPause),
		errors.Is(err, service.ErrInvalidSettings),
		errors.Is(err, app.ErrInvalidPayload),
		errors.Is(err, version.ErrInvalidVersion):
		respondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrGoalNotFound):
		respondError(c, http.StatusNotFound, "目标不存在")
	case errors.Is(err, service.ErrStepNotFound):
		respondError(c, http.StatusNotFound, "步骤不存在")
	case errors.Is(err, service.ErrResourceNotFound):
		respondError(c, http.StatusNotFound, "资料不存在")
	case errors.Is(err, app.ErrNoPendingMigration):
		respondError(c, http.StatusNotFound, "没有待确认的迁移")
	case errors.Is(err, app.ErrUnsupportedVersion):
		respondError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, syncer.ErrSyncInProgress):
		respondError(c, http.StatusConflict, "同步正在进行")
	case errors.Is(err, syncer.ErrNotAuthenticated), errors.Is(err, remote.ErrNotAuthenticated):
		respondError(c, http.StatusPreconditionFailed, "远端存储未登录")
	case errors.Is(err, remote.ErrUnauthorized):
		respondError(c, http.StatusBadGateway, "远端存储拒绝了凭据")
	default:
		a.logger.Error().Err(err).Str("path", c.FullPath()).Msg(fallback)
		respondError(c, http.StatusInternalServerError, fallback)
	}
}

type goalResponse struct {
	model.Goal
	Priority *float64 `json:"priority"`
}

func (a *API) toGoalResponse(g model.Goal) goalResponse {
	resp := goalResponse{Goal: g}
	if p, ok := a.app.Goals().Priority(g.ID); ok && !math.IsNaN(p) && !math.IsInf(p, 0) {
		resp.Priority = &p
	}
	return resp
}
