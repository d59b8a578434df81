package model

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestNewGoalDefaults(t *testing.T) {
	g := NewGoal(map[string]any{"title": "Learn Go"}, fixedNow)

	assert.NotEmpty(t, g.ID)
	assert.Equal(t, "Learn Go", g.Title)
	assert.Equal(t, StatusActive, g.Status)
	assert.Equal(t, fixedNow, g.CreatedAt)
	assert.Equal(t, fixedNow, g.LastUpdated)
	assert.Nil(t, g.Deadline)
	assert.NotNil(t, g.Steps)
	assert.NotNil(t, g.Resources)
	assert.NotNil(t, g.ReviewDates)
	assert.NotNil(t, g.History)
	assert.False(t, g.Motivation.Valid())
	assert.False(t, g.Urgency.Valid())
}

func TestNewGoalScoresKeepInvalidity(t *testing.T) {
	cases := []struct {
		raw   any
		want  int
		valid bool
	}{
		{raw: float64(4), want: 4, valid: true},
		{raw: float64(3.9), want: 3, valid: true},
		{raw: "5", want: 5, valid: true},
		{raw: " 2 apples", want: 2, valid: true},
		{raw: "abc", valid: false},
		{raw: nil, valid: false},
		{raw: true, valid: false},
	}

	for _, tc := range cases {
		got := ParseScore(tc.raw)
		n, ok := got.Int()
		assert.Equal(t, tc.valid, ok, "raw=%v", tc.raw)
		if tc.valid {
			assert.Equal(t, tc.want, n, "raw=%v", tc.raw)
		} else {
			assert.True(t, math.IsNaN(got.Float()))
		}
	}
}

func TestNewGoalToleratesBadDates(t *testing.T) {
	g := NewGoal(map[string]any{
		"id":          "g1",
		"deadline":    "not a date",
		"createdAt":   "also wrong",
		"lastUpdated": float64(1717243200000),
		"pauseUntil":  "2024-07-01",
		"reviewDates": []any{"2024-05-01T08:00:00Z", "bogus", nil},
		"status":      "weird",
	}, fixedNow)

	assert.Nil(t, g.Deadline)
	assert.Equal(t, fixedNow, g.CreatedAt)
	assert.Equal(t, time.UnixMilli(1717243200000).UTC(), g.LastUpdated)
	require.NotNil(t, g.PauseUntil)
	assert.Equal(t, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), *g.PauseUntil)
	assert.Len(t, g.ReviewDates, 1)
	assert.Equal(t, StatusActive, g.Status)
}

func TestNewGoalAssignsSubEntityIDs(t *testing.T) {
	g := NewGoal(map[string]any{
		"steps":     []any{map[string]any{"text": "one"}, "junk", map[string]any{"id": "s2", "text": "two", "order": float64(5), "completed": true}},
		"resources": []any{map[string]any{"text": "https://go.dev"}},
		"history":   []any{map[string]any{"event": "created", "changes": []any{"title", 3}}},
	}, fixedNow)

	require.Len(t, g.Steps, 2)
	assert.NotEmpty(t, g.Steps[0].ID)
	assert.Equal(t, 0, g.Steps[0].Order)
	assert.Equal(t, "s2", g.Steps[1].ID)
	assert.Equal(t, 5, g.Steps[1].Order)
	assert.True(t, g.Steps[1].Completed)

	require.Len(t, g.Resources, 1)
	assert.NotEmpty(t, g.Resources[0].ID)
	assert.Equal(t, DefaultResourceType, g.Resources[0].Type)

	require.Len(t, g.History, 1)
	assert.NotEmpty(t, g.History[0].ID)
	assert.Equal(t, fixedNow, g.History[0].Timestamp)
	assert.Equal(t, []string{"title"}, g.History[0].Changes)
}

func TestNewGoalDerivesStableSubEntityIDs(t *testing.T) {
	raw := map[string]any{
		"id":        "g1",
		"steps":     []any{map[string]any{"text": "one"}, map[string]any{"text": "two"}},
		"resources": []any{map[string]any{"text": "https://go.dev"}},
		"history":   []any{map[string]any{"event": "created"}},
	}

	first := NewGoal(raw, fixedNow)
	second := NewGoal(raw, fixedNow.Add(time.Hour))

	require.Len(t, first.Steps, 2)
	assert.Equal(t, first.Steps[0].ID, second.Steps[0].ID, "two devices loading the same data must agree on ids")
	assert.Equal(t, first.Steps[1].ID, second.Steps[1].ID)
	assert.NotEqual(t, first.Steps[0].ID, first.Steps[1].ID)
	assert.Equal(t, first.Resources[0].ID, second.Resources[0].ID)
	assert.Equal(t, first.History[0].ID, second.History[0].ID)

	other := NewGoal(map[string]any{"id": "g2", "steps": []any{map[string]any{"text": "one"}}}, fixedNow)
	assert.NotEqual(t, first.Steps[0].ID, other.Steps[0].ID)
}

func TestGoalJSONRoundTripIsStable(t *testing.T) {
	deadline := fixedNow.AddDate(0, 0, 10)
	g := NewGoal(map[string]any{
		"id":         "g1",
		"title":      "Run",
		"motivation": float64(3),
		"urgency":    "abc",
		"deadline":   deadline.Format(time.RFC3339),
	}, fixedNow)

	first, err := json.Marshal(g)
	require.NoError(t, err)

	var decoded Goal
	require.NoError(t, json.Unmarshal(first, &decoded))
	second, err := json.Marshal(decoded)
	require.NoError(t, err)

	assert.JSONEq(t, string(first), string(second))
	assert.Contains(t, string(first), `"urgency":null`)
}

func TestGoalCloneIsDeep(t *testing.T) {
	g := NewGoal(map[string]any{
		"id":      "g1",
		"steps":   []any{map[string]any{"id": "s1", "text": "a"}},
		"history": []any{map[string]any{"id": "h1", "after": map[string]any{"title": "x"}}},
	}, fixedNow)

	clone := g.Clone()
	clone.Steps[0].Text = "changed"
	clone.History[0].After.(map[string]any)["title"] = "y"

	assert.Equal(t, "a", g.Steps[0].Text)
	assert.Equal(t, "x", g.History[0].After.(map[string]any)["title"])
}

func TestSettingsNormalize(t *testing.T) {
	s := SettingsFromMap(map[string]any{
		"maxActiveGoals":  float64(0),
		"language":        "de-AT",
		"reviewIntervals": []any{float64(30), float64(7), float64(7), float64(-1), "14"},
	})

	assert.Equal(t, DefaultMaxActiveGoals, s.MaxActiveGoals)
	assert.Equal(t, "de", s.Language)
	assert.Equal(t, []int{7, 14, 30}, s.ReviewIntervals)

	empty := SettingsFromMap(map[string]any{"reviewIntervals": []any{}})
	assert.Equal(t, DefaultReviewIntervals, empty.ReviewIntervals)
	assert.Equal(t, DefaultLanguage, empty.Language)
}

func TestPayloadFromMapDropsMalformedGoals(t *testing.T) {
	p := PayloadFromMap(map[string]any{
		"version":    "1.3.0",
		"goals":      []any{map[string]any{"id": "g1"}, nil, "x"},
		"exportDate": "2024-06-01T12:00:00Z",
	}, fixedNow)

	assert.Len(t, p.Goals, 1)
	require.NotNil(t, p.ExportDate)
	assert.Equal(t, fixedNow, *p.ExportDate)
	assert.Equal(t, DefaultSettings(), p.Settings)
}
