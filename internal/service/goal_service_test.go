package service

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/goaly/internal/db"
	"github.com/goaly/internal/events"
	"github.com/goaly/internal/model"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type goalTestEnv struct {
	gdb      *gorm.DB
	bus      *events.Bus
	goals    *GoalService
	settings *SettingsService
	reviews  *ReviewService
	now      time.Time
	saves    int
}

func setupGoalTest(t *testing.T) *goalTestEnv {
	t.Helper()
	gdb, err := db.Open(filepath.Join(t.TempDir(), "goaly.db"), db.Options{Silent: true})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(gdb) })

	env := &goalTestEnv{
		gdb: gdb,
		bus: events.NewBus(zerolog.Nop()),
		now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	env.bus.Subscribe(events.GoalsSaved, func(events.Topic) error {
		env.saves++
		return nil
	})

	env.goals = NewGoalService(NewStoreGoalRepository(db.NewStore(gdb)), env.bus, zerolog.Nop())
	env.goals.SetClock(func() time.Time { return env.now })
	env.settings = NewSettingsService(gdb, env.bus, zerolog.Nop())
	env.reviews = NewReviewService(env.goals, func() []int { return env.settings.Get().ReviewIntervals })
	return env
}

func (env *goalTestEnv) create(t *testing.T, title string, motivation, urgency, maxActive int) model.Goal {
	t.Helper()
	g, err := env.goals.CreateGoal(GoalInput{Title: title, Motivation: motivation, Urgency: urgency}, maxActive)
	if err != nil {
		t.Fatalf("CreateGoal(%s) returned error: %v", title, err)
	}
	return g
}

func (env *goalTestEnv) status(t *testing.T, id string) model.Status {
	t.Helper()
	g, err := env.goals.Get(id)
	if err != nil {
		t.Fatalf("Get(%s) returned error: %v", id, err)
	}
	return g.Status
}

func countActive(goals []model.Goal) int {
	n := 0
	for _, g := range goals {
		if g.Status == model.StatusActive {
			n++
		}
	}
	return n
}

func TestCreateGoalActivatesTopPriorities(t *testing.T) {
	env := setupGoalTest(t)

	low := env.create(t, "Low", 1, 1, 2)
	if low.Status != model.StatusActive {
		t.Fatalf("expected first goal to be active, got %s", low.Status)
	}
	mid := env.create(t, "Mid", 3, 3, 2)
	high := env.create(t, "High", 5, 5, 2)

	if got := env.status(t, high.ID); got != model.StatusActive {
		t.Fatalf("expected high priority goal active, got %s", got)
	}
	if got := env.status(t, mid.ID); got != model.StatusActive {
		t.Fatalf("expected mid priority goal active, got %s", got)
	}
	if got := env.status(t, low.ID); got != model.StatusInactive {
		t.Fatalf("expected low priority goal to be demoted, got %s", got)
	}

	g, _ := env.goals.Get(low.ID)
	last := g.History[len(g.History)-1]
	if last.Event != "statusChanged" {
		t.Fatalf("expected statusChanged history entry, got %s", last.Event)
	}
	if meta, ok := last.Meta.(map[string]any); !ok || meta["source"] != "activation" {
		t.Fatalf("expected activation source, got %#v", last.Meta)
	}
}

func TestCreateGoalValidatesInput(t *testing.T) {
	env := setupGoalTest(t)

	cases := []GoalInput{
		{Title: "  ", Motivation: 3, Urgency: 3},
		{Title: "x", Motivation: 0, Urgency: 3},
		{Title: "x", Motivation: 3, Urgency: 6},
	}
	for _, input := range cases {
		if _, err := env.goals.CreateGoal(input, 3); !errors.Is(err, ErrInvalidGoalInput) {
			t.Fatalf("expected ErrInvalidGoalInput for %+v, got %v", input, err)
		}
	}
}

func TestActivationInvariant(t *testing.T) {
	for _, maxActive := range []int{-1, 0, 1, 2, 3, 10} {
		env := setupGoalTest(t)
		a := env.create(t, "A", 5, 5, 10)
		b := env.create(t, "B", 4, 4, 10)
		c := env.create(t, "C", 3, 3, 10)
		d := env.create(t, "D", 2, 2, 10)
		e := env.create(t, "E", 1, 1, 10)

		if _, err := env.goals.SetGoalStatus(b.ID, model.StatusCompleted, 10); err != nil {
			t.Fatalf("SetGoalStatus returned error: %v", err)
		}
		until := env.now.AddDate(0, 0, 5)
		if _, err := env.goals.PauseGoal(c.ID, PauseInput{Until: &until}, 10); err != nil {
			t.Fatalf("PauseGoal returned error: %v", err)
		}

		if err := env.goals.AutoActivateByPriority(maxActive); err != nil {
			t.Fatalf("AutoActivateByPriority returned error: %v", err)
		}

		eligible := []string{a.ID, d.ID, e.ID}
		want := maxActive
		if want < 0 {
			want = 0
		}
		if want > len(eligible) {
			want = len(eligible)
		}

		goals := env.goals.Snapshot()
		if got := countActive(goals); got != want {
			t.Fatalf("maxActive=%d: expected %d active goals, got %d", maxActive, want, got)
		}
		for rank, id := range eligible {
			expected := model.StatusInactive
			if rank < want {
				expected = model.StatusActive
			}
			if got := env.status(t, id); got != expected {
				t.Fatalf("maxActive=%d: goal rank %d expected %s, got %s", maxActive, rank, expected, got)
			}
		}
		if got := env.status(t, b.ID); got != model.StatusCompleted {
			t.Fatalf("terminal goal must not change, got %s", got)
		}
		if got := env.status(t, c.ID); got != model.StatusPaused {
			t.Fatalf("paused goal must stay paused, got %s", got)
		}
	}
}

func TestAutoActivateIsIdempotent(t *testing.T) {
	env := setupGoalTest(t)
	env.create(t, "A", 5, 5, 1)
	env.create(t, "B", 1, 1, 1)

	first := env.goals.Snapshot()
	env.now = env.now.Add(time.Hour)
	if err := env.goals.AutoActivateByPriority(1); err != nil {
		t.Fatalf("AutoActivateByPriority returned error: %v", err)
	}
	second := env.goals.Snapshot()

	for i := range first {
		if first[i].Status != second[i].Status {
			t.Fatalf("status changed on repeated activation: %s -> %s", first[i].Status, second[i].Status)
		}
		if len(first[i].History) != len(second[i].History) {
			t.Fatalf("history grew on repeated activation")
		}
		if !first[i].LastUpdated.Equal(second[i].LastUpdated) {
			t.Fatalf("lastUpdated bumped on repeated activation")
		}
	}
}

func TestPauseDependencyResolvesOnCompletion(t *testing.T) {
	env := setupGoalTest(t)
	blocker := env.create(t, "Blocker", 1, 1, 3)
	waiting := env.create(t, "Waiting", 5, 5, 3)

	paused, err := env.goals.PauseGoal(waiting.ID, PauseInput{UntilGoalID: blocker.ID}, 3)
	if err != nil {
		t.Fatalf("PauseGoal returned error: %v", err)
	}
	if paused.Status != model.StatusPaused {
		t.Fatalf("expected paused status, got %s", paused.Status)
	}

	if _, err := env.goals.SetGoalStatus(blocker.ID, model.StatusCompleted, 3); err != nil {
		t.Fatalf("SetGoalStatus returned error: %v", err)
	}

	g, _ := env.goals.Get(waiting.ID)
	if g.Status != model.StatusActive {
		t.Fatalf("expected waiting goal to activate once dependency completed, got %s", g.Status)
	}
	if g.PauseUntilGoalID != "" {
		t.Fatalf("expected dependency to be cleared, got %q", g.PauseUntilGoalID)
	}
}

func TestPauseUntilDateExpires(t *testing.T) {
	env := setupGoalTest(t)
	g := env.create(t, "Trip", 3, 3, 3)

	until := env.now.AddDate(0, 0, 2)
	if _, err := env.goals.PauseGoal(g.ID, PauseInput{Until: &until}, 3); err != nil {
		t.Fatalf("PauseGoal returned error: %v", err)
	}

	env.now = env.now.AddDate(0, 0, 1)
	_ = env.goals.AutoActivateByPriority(3)
	if got := env.status(t, g.ID); got != model.StatusPaused {
		t.Fatalf("expected goal to stay paused before the date, got %s", got)
	}

	env.now = env.now.AddDate(0, 0, 1)
	_ = env.goals.AutoActivateByPriority(3)
	reloaded, _ := env.goals.Get(g.ID)
	if reloaded.Status != model.StatusActive {
		t.Fatalf("expected goal to resume on the pause date, got %s", reloaded.Status)
	}
	if reloaded.PauseUntil != nil {
		t.Fatal("expected pauseUntil to be cleared")
	}
}

func TestPauseGoalValidation(t *testing.T) {
	env := setupGoalTest(t)
	g := env.create(t, "A", 3, 3, 3)

	if _, err := env.goals.PauseGoal(g.ID, PauseInput{}, 3); !errors.Is(err, ErrInvalidPause) {
		t.Fatalf("expected ErrInvalidPause without condition, got %v", err)
	}
	if _, err := env.goals.PauseGoal(g.ID, PauseInput{UntilGoalID: g.ID}, 3); !errors.Is(err, ErrInvalidPause) {
		t.Fatalf("expected ErrInvalidPause for self dependency, got %v", err)
	}
	if _, err := env.goals.PauseGoal(g.ID, PauseInput{UntilGoalID: "missing"}, 3); !errors.Is(err, ErrGoalNotFound) {
		t.Fatalf("expected ErrGoalNotFound for missing dependency, got %v", err)
	}
	if _, err := env.goals.PauseGoal("missing", PauseInput{UntilGoalID: g.ID}, 3); !errors.Is(err, ErrGoalNotFound) {
		t.Fatalf("expected ErrGoalNotFound for missing goal, got %v", err)
	}
}

func TestUnpauseGoalReturnsToActivation(t *testing.T) {
	env := setupGoalTest(t)
	g := env.create(t, "A", 3, 3, 3)
	until := env.now.AddDate(0, 1, 0)
	if _, err := env.goals.PauseGoal(g.ID, PauseInput{Until: &until}, 3); err != nil {
		t.Fatalf("PauseGoal returned error: %v", err)
	}

	resumed, err := env.goals.UnpauseGoal(g.ID, 3)
	if err != nil {
		t.Fatalf("UnpauseGoal returned error: %v", err)
	}
	if resumed.Status != model.StatusActive || resumed.PauseUntil != nil {
		t.Fatalf("expected active goal without pause, got %s %v", resumed.Status, resumed.PauseUntil)
	}
}

func TestUpdateGoalRecordsHistory(t *testing.T) {
	env := setupGoalTest(t)
	g := env.create(t, "Old", 2, 2, 3)

	env.now = env.now.Add(time.Minute)
	title := "New"
	motivation := 4
	deadline := env.now.AddDate(0, 0, 3)
	updated, err := env.goals.UpdateGoal(g.ID, GoalUpdate{Title: &title, Motivation: &motivation, Deadline: &deadline}, 3)
	if err != nil {
		t.Fatalf("UpdateGoal returned error: %v", err)
	}

	if updated.Title != "New" || !updated.LastUpdated.Equal(env.now) {
		t.Fatalf("unexpected goal after update: %+v", updated)
	}
	last := updated.History[len(updated.History)-1]
	if last.Event != "updated" || len(last.Changes) != 3 {
		t.Fatalf("unexpected history entry: %+v", last)
	}
	after := last.After.(map[string]any)
	if after["title"] != "New" || after["motivation"] != 4 {
		t.Fatalf("unexpected after values: %#v", after)
	}

	historyLen := len(updated.History)
	same, err := env.goals.UpdateGoal(g.ID, GoalUpdate{Title: &title}, 3)
	if err != nil {
		t.Fatalf("UpdateGoal returned error: %v", err)
	}
	if len(same.History) != historyLen {
		t.Fatal("expected no history entry when nothing changed")
	}

	if _, err := env.goals.UpdateGoal("missing", GoalUpdate{Title: &title}, 3); !errors.Is(err, ErrGoalNotFound) {
		t.Fatalf("expected ErrGoalNotFound, got %v", err)
	}
}

func TestDeleteGoalFreesSlot(t *testing.T) {
	env := setupGoalTest(t)
	a := env.create(t, "A", 5, 5, 1)
	b := env.create(t, "B", 1, 1, 1)

	if got := env.status(t, b.ID); got != model.StatusInactive {
		t.Fatalf("expected B inactive, got %s", got)
	}
	if err := env.goals.DeleteGoal(a.ID, 1); err != nil {
		t.Fatalf("DeleteGoal returned error: %v", err)
	}
	if got := env.status(t, b.ID); got != model.StatusActive {
		t.Fatalf("expected B to take the freed slot, got %s", got)
	}
	if err := env.goals.DeleteGoal(a.ID, 1); !errors.Is(err, ErrGoalNotFound) {
		t.Fatalf("expected ErrGoalNotFound, got %v", err)
	}
}

func TestStepsAndResources(t *testing.T) {
	env := setupGoalTest(t)
	g := env.create(t, "A", 3, 3, 3)

	for _, text := range []string{"one", "two", "three"} {
		var err error
		g, err = env.goals.AddStep(g.ID, text)
		if err != nil {
			t.Fatalf("AddStep returned error: %v", err)
		}
	}
	g, err := env.goals.ToggleStep(g.ID, g.Steps[1].ID)
	if err != nil || !g.Steps[1].Completed {
		t.Fatalf("ToggleStep failed: %v", err)
	}
	g, err = env.goals.RemoveStep(g.ID, g.Steps[0].ID)
	if err != nil {
		t.Fatalf("RemoveStep returned error: %v", err)
	}
	if len(g.Steps) != 2 || g.Steps[0].Text != "two" || g.Steps[0].Order != 0 || g.Steps[1].Order != 1 {
		t.Fatalf("unexpected steps after removal: %+v", g.Steps)
	}
	if _, err := env.goals.ToggleStep(g.ID, "missing"); !errors.Is(err, ErrStepNotFound) {
		t.Fatalf("expected ErrStepNotFound, got %v", err)
	}

	g, err = env.goals.AddResource(g.ID, "https://go.dev", "")
	if err != nil || len(g.Resources) != 1 || g.Resources[0].Type != model.DefaultResourceType {
		t.Fatalf("AddResource failed: %v %+v", err, g.Resources)
	}
	g, err = env.goals.RemoveResource(g.ID, g.Resources[0].ID)
	if err != nil || len(g.Resources) != 0 {
		t.Fatalf("RemoveResource failed: %v", err)
	}
	if _, err := env.goals.RemoveResource(g.ID, "missing"); !errors.Is(err, ErrResourceNotFound) {
		t.Fatalf("expected ErrResourceNotFound, got %v", err)
	}
}

func TestGoalsPersistAndPublish(t *testing.T) {
	env := setupGoalTest(t)
	a := env.create(t, "A", 3, 3, 3)
	if env.saves != 1 {
		t.Fatalf("expected one save event, got %d", env.saves)
	}

	// 失败的修改不应持久化，也不发布事件。
	if _, err := env.goals.ToggleStep(a.ID, "missing"); err == nil {
		t.Fatal("expected error")
	}
	if env.saves != 1 {
		t.Fatalf("expected failed mutation not to publish, got %d", env.saves)
	}

	reloaded := NewGoalService(NewStoreGoalRepository(db.NewStore(env.gdb)), env.bus, zerolog.Nop())
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	g, err := reloaded.Get(a.ID)
	if err != nil {
		t.Fatalf("expected goal to be persisted: %v", err)
	}
	if g.Title != "A" || g.Status != model.StatusActive {
		t.Fatalf("unexpected persisted goal: %+v", g)
	}
}

func TestFailedSaveRestoresGoals(t *testing.T) {
	env := setupGoalTest(t)
	a := env.create(t, "A", 3, 3, 3)
	revision := env.goals.Revision()

	if err := env.gdb.Migrator().DropTable(&db.StorageRecord{}); err != nil {
		t.Fatalf("failed to drop storage table: %v", err)
	}

	title := "renamed"
	if _, err := env.goals.UpdateGoal(a.ID, GoalUpdate{Title: &title}, 3); err == nil {
		t.Fatal("expected save error")
	}
	if _, err := env.goals.CreateGoal(GoalInput{Title: "B", Motivation: 2, Urgency: 2}, 3); err == nil {
		t.Fatal("expected save error")
	}

	goals := env.goals.Snapshot()
	if len(goals) != 1 || goals[0].Title != "A" {
		t.Fatalf("expected in-memory goals to match the last saved state, got %+v", goals)
	}
	if env.goals.Revision() != revision {
		t.Fatalf("expected revision %d to stay unchanged, got %d", revision, env.goals.Revision())
	}
	if env.saves != 1 {
		t.Fatalf("expected failed saves not to publish, got %d", env.saves)
	}
}

func TestListSortsByPriority(t *testing.T) {
	env := setupGoalTest(t)
	env.create(t, "Walk dog", 1, 1, 3)
	env.create(t, "Write book", 5, 5, 3)
	env.create(t, "Write letter", 2, 2, 3)

	all := env.goals.List(GoalFilter{})
	if all[0].Title != "Write book" || all[2].Title != "Walk dog" {
		t.Fatalf("unexpected order: %s, %s, %s", all[0].Title, all[1].Title, all[2].Title)
	}

	filtered := env.goals.List(GoalFilter{Search: "write"})
	if len(filtered) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(filtered))
	}

	p, ok := env.goals.Priority(all[0].ID)
	if !ok || p != 55 {
		t.Fatalf("unexpected priority %v (ok=%v)", p, ok)
	}
}
