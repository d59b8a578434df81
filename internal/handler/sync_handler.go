package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/goaly/internal/remote"
	"github.com/goaly/internal/syncer"
)

// maxImportSize 限制导入文件大小
const maxImportSize = 32 << 20

type remoteLoginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Sync 立即执行一次同步
func (a *API) Sync(c *gin.Context) {
	if a.sync == nil {
		respondError(c, http.StatusPreconditionFailed, "未配置远端存储")
		return
	}

	result, err := a.sync.Sync(c.Request.Context(), false)
	if err != nil {
		a.respondServiceError(c, err, "同步失败")
		return
	}
	c.JSON(http.StatusOK, result)
}

// SyncStatus 返回同步状态与方向
func (a *API) SyncStatus(c *gin.Context) {
	if a.sync == nil {
		c.JSON(http.StatusOK, syncer.StatusReport{})
		return
	}

	report, err := a.sync.Status(c.Request.Context())
	if err != nil {
		a.respondServiceError(c, err, "获取同步状态失败")
		return
	}
	c.JSON(http.StatusOK, report)
}

// RemoteLogin 登录远端存储
func (a *API) RemoteLogin(c *gin.Context) {
	if a.remote == nil {
		respondError(c, http.StatusPreconditionFailed, "未配置远端存储")
		return
	}

	var payload remoteLoginPayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}
	if strings.TrimSpace(payload.Username) == "" || payload.Password == "" {
		respondError(c, http.StatusBadRequest, "用户名和密码不能为空")
		return
	}

	if err := a.remote.Login(c.Request.Context(), strings.TrimSpace(payload.Username), payload.Password); err != nil {
		if errors.Is(err, remote.ErrUnauthorized) {
			respondError(c, http.StatusUnauthorized, "远端存储用户名或密码错误")
			return
		}
		a.respondServiceError(c, err, "登录远端存储失败")
		return
	}
	c.Status(http.StatusNoContent)
}

// RemoteLogout 退出远端存储
func (a *API) RemoteLogout(c *gin.Context) {
	if a.remote == nil {
		c.Status(http.StatusNoContent)
		return
	}
	if err := a.remote.Logout(); err != nil {
		a.respondServiceError(c, err, "退出远端存储失败")
		return
	}
	c.Status(http.StatusNoContent)
}

// Export 下载当前数据
func (a *API) Export(c *gin.Context) {
	payload := a.app.Payload()
	c.Header("Content-Disposition", `attachment; filename="goaly-export.json"`)
	c.JSON(http.StatusOK, payload)
}

// Import 导入 JSON 数据；旧版本数据返回迁移预览，等待确认
func (a *API) Import(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportSize))
	if err != nil {
		respondError(c, http.StatusBadRequest, "读取请求失败")
		return
	}

	result, err := a.app.Import(raw, sanitizeText(c.Query("fileName")))
	if err != nil {
		a.respondServiceError(c, err, "导入失败")
		return
	}

	status := http.StatusOK
	if result.MigrationRequired {
		status = http.StatusAccepted
	}
	c.JSON(status, result)
}

// PendingMigration 返回待确认的迁移
func (a *API) PendingMigration(c *gin.Context) {
	preview, ok := a.app.PendingMigration()
	if !ok {
		respondError(c, http.StatusNotFound, "没有待确认的迁移")
		return
	}
	c.JSON(http.StatusOK, preview)
}

// CompleteMigration 确认并应用迁移
func (a *API) CompleteMigration(c *gin.Context) {
	if err := a.app.CompleteMigration(); err != nil {
		a.respondServiceError(c, err, "应用迁移失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": true, "goalCount": len(a.app.Goals().Snapshot())})
}

// CancelMigration 放弃迁移
func (a *API) CancelMigration(c *gin.Context) {
	a.app.CancelMigration()
	c.Status(http.StatusNoContent)
}
