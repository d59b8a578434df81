package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/goaly/internal/service"
)

type settingsPayload struct {
	MaxActiveGoals  *int    `json:"maxActiveGoals"`
	Language        *string `json:"language"`
	ReviewIntervals []int   `json:"reviewIntervals"`
}

// GetSettings 返回当前设置
func (a *API) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, a.app.Settings())
}

// UpdateSettings 修改设置，缺失字段保持不变
func (a *API) UpdateSettings(c *gin.Context) {
	var payload settingsPayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	input := service.SettingsInput{
		MaxActiveGoals:  payload.MaxActiveGoals,
		ReviewIntervals: payload.ReviewIntervals,
	}
	if payload.Language != nil {
		language := sanitizeText(*payload.Language)
		input.Language = &language
	}

	settings, err := a.app.UpdateSettings(input)
	if err != nil {
		a.respondServiceError(c, err, "保存设置失败")
		return
	}
	c.JSON(http.StatusOK, settings)
}
