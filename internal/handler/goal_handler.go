package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/goaly/internal/model"
	"github.com/goaly/internal/service"
)

type goalPayload struct {
	Title      string   `json:"title"`
	Motivation int      `json:"motivation"`
	Urgency    int      `json:"urgency"`
	Deadline   string   `json:"deadline"`
	Steps      []string `json:"steps"`
}

type goalUpdatePayload struct {
	Title      *string `json:"title"`
	Motivation *int    `json:"motivation"`
	Urgency    *int    `json:"urgency"`
	// Deadline 为空串时清除截止日期，缺失时不修改。
	Deadline *string `json:"deadline"`
}

type statusPayload struct {
	Status string `json:"status"`
}

type pausePayload struct {
	Until       string `json:"until"`
	UntilGoalID string `json:"untilGoalId"`
}

type stepPayload struct {
	Text string `json:"text"`
}

type resourcePayload struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

type reviewPayload struct {
	Motivation *int   `json:"motivation"`
	Urgency    *int   `json:"urgency"`
	Note       string `json:"note"`
}

// ListGoals 返回按优先级排序的目标列表
func (a *API) ListGoals(c *gin.Context) {
	filter := service.GoalFilter{
		Status: model.Status(strings.TrimSpace(c.Query("status"))),
		Search: c.Query("search"),
	}

	goals := a.app.Goals().List(filter)
	items := make([]goalResponse, 0, len(goals))
	for _, g := range goals {
		items = append(items, a.toGoalResponse(g))
	}
	c.JSON(http.StatusOK, gin.H{"goals": items})
}

// GetGoal 返回单个目标
func (a *API) GetGoal(c *gin.Context) {
	goal, err := a.app.Goals().Get(c.Param("id"))
	if err != nil {
		a.respondServiceError(c, err, "获取目标失败")
		return
	}
	c.JSON(http.StatusOK, a.toGoalResponse(goal))
}

// CreateGoal 新建目标
func (a *API) CreateGoal(c *gin.Context) {
	var payload goalPayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	deadline, err := parseDateParam(payload.Deadline)
	if err != nil {
		respondError(c, http.StatusBadRequest, "截止日期格式错误")
		return
	}

	steps := make([]string, 0, len(payload.Steps))
	for _, step := range payload.Steps {
		if text := sanitizeText(step); text != "" {
			steps = append(steps, text)
		}
	}

	goal, err := a.app.Goals().CreateGoal(service.GoalInput{
		Title:      sanitizeText(payload.Title),
		Motivation: payload.Motivation,
		Urgency:    payload.Urgency,
		Deadline:   deadline,
		Steps:      steps,
	}, a.app.MaxActiveGoals())
	if err != nil {
		a.respondServiceError(c, err, "创建目标失败")
		return
	}
	c.JSON(http.StatusCreated, a.toGoalResponse(goal))
}

// UpdateGoal 修改目标字段
func (a *API) UpdateGoal(c *gin.Context) {
	var payload goalUpdatePayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	update := service.GoalUpdate{
		Motivation: payload.Motivation,
		Urgency:    payload.Urgency,
	}
	if payload.Title != nil {
		title := sanitizeText(*payload.Title)
		update.Title = &title
	}
	if payload.Deadline != nil {
		deadline, err := parseDateParam(*payload.Deadline)
		if err != nil {
			respondError(c, http.StatusBadRequest, "截止日期格式错误")
			return
		}
		update.Deadline = deadline
		update.ClearDeadline = deadline == nil
	}

	goal, err := a.app.Goals().UpdateGoal(c.Param("id"), update, a.app.MaxActiveGoals())
	if err != nil {
		a.respondServiceError(c, err, "更新目标失败")
		return
	}
	c.JSON(http.StatusOK, a.toGoalResponse(goal))
}

// DeleteGoal 删除目标
func (a *API) DeleteGoal(c *gin.Context) {
	if err := a.app.Goals().DeleteGoal(c.Param("id"), a.app.MaxActiveGoals()); err != nil {
		a.respondServiceError(c, err, "删除目标失败")
		return
	}
	c.Status(http.StatusNoContent)
}

// SetGoalStatus 显式设置目标状态
func (a *API) SetGoalStatus(c *gin.Context) {
	var payload statusPayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	goal, err := a.app.Goals().SetGoalStatus(c.Param("id"), model.Status(strings.TrimSpace(payload.Status)), a.app.MaxActiveGoals())
	if err != nil {
		a.respondServiceError(c, err, "更新状态失败")
		return
	}
	c.JSON(http.StatusOK, a.toGoalResponse(goal))
}

// PauseGoal 暂停目标
func (a *API) PauseGoal(c *gin.Context) {
	var payload pausePayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	until, err := parseDateParam(payload.Until)
	if err != nil {
		respondError(c, http.StatusBadRequest, "暂停日期格式错误")
		return
	}

	goal, err := a.app.Goals().PauseGoal(c.Param("id"), service.PauseInput{
		Until:       until,
		UntilGoalID: payload.UntilGoalID,
	}, a.app.MaxActiveGoals())
	if err != nil {
		a.respondServiceError(c, err, "暂停目标失败")
		return
	}
	c.JSON(http.StatusOK, a.toGoalResponse(goal))
}

// UnpauseGoal 取消暂停
func (a *API) UnpauseGoal(c *gin.Context) {
	goal, err := a.app.Goals().UnpauseGoal(c.Param("id"), a.app.MaxActiveGoals())
	if err != nil {
		a.respondServiceError(c, err, "取消暂停失败")
		return
	}
	c.JSON(http.StatusOK, a.toGoalResponse(goal))
}

// ActivateGoals 手动执行一次激活引擎
func (a *API) ActivateGoals(c *gin.Context) {
	if err := a.app.Goals().AutoActivateByPriority(a.app.MaxActiveGoals()); err != nil {
		a.respondServiceError(c, err, "激活目标失败")
		return
	}
	a.ListGoals(c)
}

// AddStep 追加步骤
func (a *API) AddStep(c *gin.Context) {
	var payload stepPayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	goal, err := a.app.Goals().AddStep(c.Param("id"), sanitizeText(payload.Text))
	if err != nil {
		a.respondServiceError(c, err, "添加步骤失败")
		return
	}
	c.JSON(http.StatusCreated, a.toGoalResponse(goal))
}

// ToggleStep 切换步骤完成状态
func (a *API) ToggleStep(c *gin.Context) {
	goal, err := a.app.Goals().ToggleStep(c.Param("id"), c.Param("stepId"))
	if err != nil {
		a.respondServiceError(c, err, "更新步骤失败")
		return
	}
	c.JSON(http.StatusOK, a.toGoalResponse(goal))
}

// RemoveStep 删除步骤
func (a *API) RemoveStep(c *gin.Context) {
	goal, err := a.app.Goals().RemoveStep(c.Param("id"), c.Param("stepId"))
	if err != nil {
		a.respondServiceError(c, err, "删除步骤失败")
		return
	}
	c.JSON(http.StatusOK, a.toGoalResponse(goal))
}

// AddResource 添加资料
func (a *API) AddResource(c *gin.Context) {
	var payload resourcePayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	goal, err := a.app.Goals().AddResource(c.Param("id"), sanitizeText(payload.Text), sanitizeText(payload.Type))
	if err != nil {
		a.respondServiceError(c, err, "添加资料失败")
		return
	}
	c.JSON(http.StatusCreated, a.toGoalResponse(goal))
}

// RemoveResource 删除资料
func (a *API) RemoveResource(c *gin.Context) {
	goal, err := a.app.Goals().RemoveResource(c.Param("id"), c.Param("resourceId"))
	if err != nil {
		a.respondServiceError(c, err, "删除资料失败")
		return
	}
	c.JSON(http.StatusOK, a.toGoalResponse(goal))
}

// RecordReview 提交一次复盘
func (a *API) RecordReview(c *gin.Context) {
	var payload reviewPayload
	if !bindJSON(c, &payload, "请求格式错误") {
		return
	}

	goal, err := a.app.Reviews().RecordReview(c.Param("id"), service.ReviewInput{
		Motivation: payload.Motivation,
		Urgency:    payload.Urgency,
		Note:       sanitizeText(payload.Note),
	}, a.app.MaxActiveGoals())
	if err != nil {
		a.respondServiceError(c, err, "提交复盘失败")
		return
	}
	c.JSON(http.StatusOK, a.toGoalResponse(goal))
}

// DueReviews 列出到期的复盘
func (a *API) DueReviews(c *gin.Context) {
	due := a.app.Reviews().DueReviews(a.app.Now())
	items := make([]gin.H, 0, len(due))
	for _, item := range due {
		items = append(items, gin.H{
			"goal": a.toGoalResponse(item.Goal),
			"due":  item.Due,
		})
	}
	c.JSON(http.StatusOK, gin.H{"reviews": items})
}
