package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goaly/internal/model"
)

// ReviewService 负责复盘（check-in）的记录与排期。
// 它不持有状态：goal 数据来自 GoalService，复盘间隔由 intervals 提供。
type ReviewService struct {
	goals     *GoalService
	intervals func() []int
}

// ReviewInput 描述一次复盘提交，可以顺带修改评分
type ReviewInput struct {
	Motivation *int
	Urgency    *int
	Note       string
}

// DueReview 是待复盘的 goal 与其到期时间
type DueReview struct {
	Goal model.Goal
	Due  time.Time
}

// NewReviewService 构造 ReviewService。
func NewReviewService(goals *GoalService, intervals func() []int) *ReviewService {
	return &ReviewService{goals: goals, intervals: intervals}
}

func (s *ReviewService) currentIntervals() []int {
	if s.intervals == nil {
		return model.NormalizeIntervals(nil)
	}
	return model.NormalizeIntervals(s.intervals())
}

// RecordReview 记录一次复盘：追加复盘日期、推进间隔索引并计算下次复盘时间。
func (s *ReviewService) RecordReview(goalID string, input ReviewInput, maxActive int) (model.Goal, error) {
	for _, score := range []*int{input.Motivation, input.Urgency} {
		if score != nil && (*score < MinScore || *score > MaxScore) {
			return model.Goal{}, fmt.Errorf("%w: score must be between %d and %d", ErrInvalidGoalInput, MinScore, MaxScore)
		}
	}
	intervals := s.currentIntervals()

	return s.goals.mutate(goalID, maxActive, true, func(g *model.Goal, now time.Time) error {
		if g.IsTerminal() {
			return fmt.Errorf("%w: cannot review a %s goal", ErrInvalidGoalInput, g.Status)
		}

		before := map[string]any{"reviewIntervalIndex": g.ReviewInterval}
		after := map[string]any{}
		changes := []string{"reviewDates", "lastReviewAt", "nextReviewAt", "reviewIntervalIndex"}

		if input.Motivation != nil && model.NewScore(*input.Motivation) != g.Motivation {
			before["motivation"], after["motivation"] = scoreValue(g.Motivation), *input.Motivation
			g.Motivation = model.NewScore(*input.Motivation)
			changes = append(changes, "motivation")
		}
		if input.Urgency != nil && model.NewScore(*input.Urgency) != g.Urgency {
			before["urgency"], after["urgency"] = scoreValue(g.Urgency), *input.Urgency
			g.Urgency = model.NewScore(*input.Urgency)
			changes = append(changes, "urgency")
		}

		reviewedAt := now
		g.ReviewDates = append(g.ReviewDates, reviewedAt)
		g.LastReviewAt = &reviewedAt
		g.ReviewInterval = clampIndex(g.ReviewInterval+1, len(intervals))
		next := reviewedAt.AddDate(0, 0, intervals[g.ReviewInterval])
		g.NextReviewAt = &next
		g.LastUpdated = now

		after["reviewIntervalIndex"] = g.ReviewInterval
		after["nextReviewAt"] = timeValue(&next)

		entry := newHistory("reviewed", now, changes, before, after, historySourceUser)
		if note := strings.TrimSpace(input.Note); note != "" {
			entry.Meta = map[string]any{"source": historySourceUser, "note": note}
		}
		g.History = append(g.History, entry)
		return nil
	})
}

// DueReviews 返回到期需要复盘的非终态 goal，按到期时间升序。
// 没有 nextReviewAt 的 goal 以 createdAt 加第一个间隔作为到期时间。
func (s *ReviewService) DueReviews(now time.Time) []DueReview {
	intervals := s.currentIntervals()

	var due []DueReview
	for _, g := range s.goals.Snapshot() {
		if g.IsTerminal() {
			continue
		}
		at := dueAt(g, intervals)
		if !at.After(now) {
			due = append(due, DueReview{Goal: g, Due: at})
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].Due.Before(due[j].Due)
	})
	return due
}

// ApplyIntervals 在复盘间隔变化后修正每个 goal 的索引与下次复盘时间，然后重新激活。
func (s *ReviewService) ApplyIntervals(maxActive int) error {
	intervals := s.currentIntervals()

	return s.goals.update(func(now time.Time) error {
		rescheduleLocked(s.goals.goals, intervals, now)
		s.goals.activateLocked(maxActive, now)
		return nil
	})
}

// rescheduleLocked 把每个 goal 的间隔索引限制在 intervals 范围内，并按上次复盘重新计算下次复盘时间。
func rescheduleLocked(goals []model.Goal, intervals []int, now time.Time) {
	if len(intervals) == 0 {
		intervals = model.NormalizeIntervals(nil)
	}
	for i := range goals {
		g := &goals[i]
		changed := false

		if idx := clampIndex(g.ReviewInterval, len(intervals)); idx != g.ReviewInterval {
			g.ReviewInterval = idx
			changed = true
		}
		if g.LastReviewAt != nil {
			next := g.LastReviewAt.AddDate(0, 0, intervals[g.ReviewInterval])
			if g.NextReviewAt == nil || !g.NextReviewAt.Equal(next) {
				g.NextReviewAt = &next
				changed = true
			}
		}
		if changed {
			g.LastUpdated = now
		}
	}
}

func dueAt(g model.Goal, intervals []int) time.Time {
	if g.NextReviewAt != nil {
		return *g.NextReviewAt
	}
	return g.CreatedAt.AddDate(0, 0, intervals[0])
}

func clampIndex(idx, length int) int {
	if length <= 0 || idx < 0 {
		return 0
	}
	if idx > length-1 {
		return length - 1
	}
	return idx
}
