package app

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/goaly/internal/db"
	"github.com/goaly/internal/events"
	"github.com/goaly/internal/model"
	"github.com/goaly/internal/service"
	"github.com/goaly/internal/version"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type appTestEnv struct {
	gdb *gorm.DB
	app *App
	now time.Time
}

func setupApp(t *testing.T) *appTestEnv {
	t.Helper()
	gdb, err := db.Open(filepath.Join(t.TempDir(), "goaly.db"), db.Options{Silent: true})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(gdb) })

	env := &appTestEnv{gdb: gdb, now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	env.app = New(Options{
		DB:     gdb,
		Bus:    events.NewBus(zerolog.Nop()),
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return env.now },
	})
	if err := env.app.Load(); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	return env
}

func TestImportCurrentVersionAppliesImmediately(t *testing.T) {
	env := setupApp(t)

	raw := []byte(`{
		"version": "` + version.Current + `",
		"goals": [
			{"id": "a", "title": "A", "motivation": 5, "urgency": 5, "status": "inactive", "createdAt": "2024-05-01T00:00:00Z", "lastUpdated": "2024-05-01T00:00:00Z"},
			{"id": "b", "title": "B", "motivation": 1, "urgency": 1, "status": "active", "createdAt": "2024-05-02T00:00:00Z", "lastUpdated": "2024-05-02T00:00:00Z"}
		],
		"settings": {"maxActiveGoals": 1, "language": "de", "reviewIntervals": [30, 7, 7]}
	}`)

	result, err := env.app.Import(raw, "backup.json")
	if err != nil {
		t.Fatalf("Import returned error: %v", err)
	}
	if !result.Applied || result.MigrationRequired || result.GoalCount != 2 {
		t.Fatalf("unexpected import result: %+v", result)
	}

	settings := env.app.Settings()
	if settings.MaxActiveGoals != 1 || settings.Language != "de" {
		t.Fatalf("unexpected settings: %+v", settings)
	}
	if len(settings.ReviewIntervals) != 2 || settings.ReviewIntervals[0] != 7 || settings.ReviewIntervals[1] != 30 {
		t.Fatalf("expected normalized intervals [7 30], got %v", settings.ReviewIntervals)
	}

	a, _ := env.app.Goals().Get("a")
	b, _ := env.app.Goals().Get("b")
	if a.Status != model.StatusActive || b.Status != model.StatusInactive {
		t.Fatalf("expected activation to re-run after import, got a=%s b=%s", a.Status, b.Status)
	}
}

func TestImportRejectsInvalidData(t *testing.T) {
	env := setupApp(t)
	if _, err := env.app.Goals().CreateGoal(service.GoalInput{Title: "keep", Motivation: 3, Urgency: 3}, 3); err != nil {
		t.Fatalf("CreateGoal returned error: %v", err)
	}

	tests := []struct {
		name string
		raw  string
		want error
	}{
		{name: "broken json", raw: `{"goals": [`, want: ErrInvalidPayload},
		{name: "scalar", raw: `42`, want: ErrInvalidPayload},
		{name: "goals not a list", raw: `{"version": "1.0.0", "goals": {}}`, want: ErrInvalidPayload},
		{name: "bad version", raw: `{"version": "one", "goals": []}`, want: version.ErrInvalidVersion},
		{name: "future version", raw: `{"version": "99.0.0", "goals": []}`, want: ErrUnsupportedVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.app.Import([]byte(tt.raw), "")
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if goals := env.app.Goals().Snapshot(); len(goals) != 1 {
		t.Fatalf("expected local state untouched, got %d goals", len(goals))
	}
	if _, ok := env.app.PendingMigration(); ok {
		t.Fatal("rejected imports must not stage a migration")
	}
}

func TestImportLegacyDataStagesMigration(t *testing.T) {
	env := setupApp(t)

	raw := []byte(`[{"id": "old", "title": "Buy milk", "description": "Buy milk", "motivation": 3, "urgency": 2, "steps": [{"text": "Existing", "order": 0}]}]`)
	result, err := env.app.Import(raw, "legacy.json")
	if err != nil {
		t.Fatalf("Import returned error: %v", err)
	}
	if result.Applied || !result.MigrationRequired || result.Migration == nil {
		t.Fatalf("expected staged migration, got %+v", result)
	}
	if result.Migration.SourceVersion != LegacyVersion || result.Migration.TargetVersion != version.Current {
		t.Fatalf("unexpected versions: %+v", result.Migration)
	}
	if len(env.app.Goals().Snapshot()) != 0 {
		t.Fatal("migration must not apply before confirmation")
	}

	preview, ok := env.app.PendingMigration()
	if !ok || preview.FileName != "legacy.json" || preview.GoalCount != 1 {
		t.Fatalf("unexpected pending migration: %+v ok=%v", preview, ok)
	}
	steps := preview.Payload.Goals[0].Steps
	if len(steps) != 2 || steps[0].Text != "Buy milk" || steps[1].Text != "Existing" || steps[1].Order != 1 {
		t.Fatalf("expected description to become the first step, got %+v", steps)
	}

	if err := env.app.CompleteMigration(); err != nil {
		t.Fatalf("CompleteMigration returned error: %v", err)
	}
	goal, err := env.app.Goals().Get("old")
	if err != nil {
		t.Fatalf("expected migrated goal, got %v", err)
	}
	if goal.Status != model.StatusActive {
		t.Fatalf("expected migrated goal to be activated, got %s", goal.Status)
	}
	if _, ok := env.app.PendingMigration(); ok {
		t.Fatal("expected pending migration to be cleared")
	}
	if err := env.app.CompleteMigration(); !errors.Is(err, ErrNoPendingMigration) {
		t.Fatalf("expected ErrNoPendingMigration, got %v", err)
	}
}

func TestCancelMigrationKeepsState(t *testing.T) {
	env := setupApp(t)

	if _, err := env.app.BeginMigration(MigrationRequest{
		OriginalPayload: []byte(`{"version": "1.0.0", "goals": [{"id": "x", "title": "X"}]}`),
		SourceVersion:   "1.0.0",
	}); err != nil {
		t.Fatalf("BeginMigration returned error: %v", err)
	}
	env.app.CancelMigration()

	if _, ok := env.app.PendingMigration(); ok {
		t.Fatal("expected no pending migration after cancel")
	}
	if err := env.app.CompleteMigration(); !errors.Is(err, ErrNoPendingMigration) {
		t.Fatalf("expected ErrNoPendingMigration, got %v", err)
	}
	if len(env.app.Goals().Snapshot()) != 0 {
		t.Fatal("cancelled migration must not touch goals")
	}

	if _, err := env.app.BeginMigration(MigrationRequest{OriginalPayload: "nope"}); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestPayloadSnapshot(t *testing.T) {
	env := setupApp(t)
	if _, err := env.app.Goals().CreateGoal(service.GoalInput{Title: "A", Motivation: 3, Urgency: 3}, 3); err != nil {
		t.Fatalf("CreateGoal returned error: %v", err)
	}

	p := env.app.Payload()
	if p.Version != version.Current {
		t.Fatalf("expected current version, got %s", p.Version)
	}
	if p.ExportDate == nil || !p.ExportDate.Equal(env.now) {
		t.Fatalf("expected exportDate %v, got %v", env.now, p.ExportDate)
	}
	if len(p.Goals) != 1 {
		t.Fatalf("expected 1 goal, got %d", len(p.Goals))
	}

	p.Goals[0].Title = "mutated"
	if g := env.app.Goals().Snapshot()[0]; g.Title != "A" {
		t.Fatal("payload must be a deep copy")
	}
}

func TestUpdateSettingsReactivates(t *testing.T) {
	env := setupApp(t)
	for i, title := range []string{"A", "B", "C"} {
		env.now = env.now.Add(time.Duration(i) * time.Minute)
		if _, err := env.app.Goals().CreateGoal(service.GoalInput{Title: title, Motivation: 3, Urgency: 3}, env.app.MaxActiveGoals()); err != nil {
			t.Fatalf("CreateGoal returned error: %v", err)
		}
	}

	one := 1
	if _, err := env.app.UpdateSettings(service.SettingsInput{MaxActiveGoals: &one}); err != nil {
		t.Fatalf("UpdateSettings returned error: %v", err)
	}

	active := 0
	for _, g := range env.app.Goals().Snapshot() {
		if g.Status == model.StatusActive {
			active++
			if g.Title != "A" {
				t.Fatalf("expected oldest goal to stay active, got %s", g.Title)
			}
		}
	}
	if active != 1 {
		t.Fatalf("expected 1 active goal, got %d", active)
	}
}

func TestLoadRestoresState(t *testing.T) {
	env := setupApp(t)
	if _, err := env.app.Goals().CreateGoal(service.GoalInput{Title: "persisted", Motivation: 3, Urgency: 3}, 3); err != nil {
		t.Fatalf("CreateGoal returned error: %v", err)
	}
	two := 2
	if _, err := env.app.UpdateSettings(service.SettingsInput{MaxActiveGoals: &two}); err != nil {
		t.Fatalf("UpdateSettings returned error: %v", err)
	}

	reloaded := New(Options{DB: env.gdb, Logger: zerolog.Nop(), Now: func() time.Time { return env.now }})
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if reloaded.MaxActiveGoals() != 2 {
		t.Fatalf("expected maxActiveGoals 2, got %d", reloaded.MaxActiveGoals())
	}
	if goals := reloaded.Goals().Snapshot(); len(goals) != 1 || goals[0].Title != "persisted" {
		t.Fatalf("unexpected reloaded goals: %+v", goals)
	}
}

func TestApplyPayloadIsAtomic(t *testing.T) {
	env := setupApp(t)
	if err := env.gdb.Migrator().DropTable(&db.StorageRecord{}); err != nil {
		t.Fatalf("failed to drop storage table: %v", err)
	}

	exportDate := env.now
	payload := model.Payload{
		Version: version.Current,
		Goals: []model.Goal{
			model.NewGoal(map[string]any{"id": "a", "title": "A", "motivation": 3, "urgency": 3}, env.now),
		},
		Settings:   model.Settings{MaxActiveGoals: 7, Language: "de", ReviewIntervals: []int{3, 9}},
		ExportDate: &exportDate,
	}
	if err := env.app.ApplyImportedPayload(payload); err == nil {
		t.Fatal("expected apply to fail when goals cannot be stored")
	}

	defaults := model.DefaultSettings()
	if got := env.app.Settings(); got.MaxActiveGoals != defaults.MaxActiveGoals || got.Language != defaults.Language {
		t.Fatalf("expected in-memory settings to stay default, got %+v", got)
	}
	if goals := env.app.Goals().Snapshot(); len(goals) != 0 {
		t.Fatalf("expected no goals after failed apply, got %d", len(goals))
	}

	reloaded := service.NewSettingsService(env.gdb, nil, zerolog.Nop())
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := reloaded.Get(); got.MaxActiveGoals != defaults.MaxActiveGoals || got.Language != defaults.Language {
		t.Fatalf("expected stored settings to be rolled back, got %+v", got)
	}
}

func TestApplyPayloadAtRejectsStaleRevision(t *testing.T) {
	env := setupApp(t)
	revision := env.app.Revision()
	payload := env.app.Payload()

	if _, err := env.app.Goals().CreateGoal(service.GoalInput{Title: "typed meanwhile", Motivation: 3, Urgency: 3}, env.app.MaxActiveGoals()); err != nil {
		t.Fatalf("CreateGoal returned error: %v", err)
	}

	err := env.app.ApplyPayloadAt(payload, revision)
	if !errors.Is(err, ErrStateChanged) {
		t.Fatalf("expected ErrStateChanged, got %v", err)
	}
	if goals := env.app.Goals().Snapshot(); len(goals) != 1 || goals[0].Title != "typed meanwhile" {
		t.Fatalf("expected the concurrent edit to survive, got %+v", goals)
	}

	if err := env.app.ApplyPayloadAt(env.app.Payload(), env.app.Revision()); err != nil {
		t.Fatalf("ApplyPayloadAt with current revision returned error: %v", err)
	}
}
