package report

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"wellnest/internal/auth"
	"wellnest/internal/config"
	"wellnest/internal/group"
	"wellnest/internal/habit"
	"wellnest/internal/model"
	"wellnest/internal/progress"
	"wellnest/internal/store"
	"wellnest/internal/visibility"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

var now = time.Date(2025, 10, 6, 15, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	g       model.Group
	teacher model.User
	ana     model.User
	bo      model.User
	cy      model.User
	dee     model.User
	today   progress.Day
}

func newFixture(t *testing.T, workers int) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, store.DriverSQLite, filepath.Join(t.TempDir(), "report.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Default().Progress
	cfg.TimeZone = "UTC"
	backfill := 5
	cfg.BackfillDays = &backfill
	groups := group.NewService(st, nil, zap.NewNop())
	habits, err := habit.NewService(st, cfg, nil, zap.NewNop())
	require.NoError(t, err)

	f := &fixture{svc: NewService(st, groups, habits, workers, zap.NewNop()), today: habits.Today(now)}
	mk := func(email string, role model.Role) model.User {
		u, _, err := st.GetOrCreateUser(ctx, email, role, "", now)
		require.NoError(t, err)
		return u
	}
	f.teacher = mk("ms.li@staff.test", model.RoleTeacher)
	f.ana = mk("ana@school.test", model.RoleStudent)
	f.bo = mk("bo@school.test", model.RoleStudent)
	f.cy = mk("cy@school.test", model.RoleStudent)
	f.dee = mk("dee@school.test", model.RoleStudent)

	f.g, err = groups.Create(ctx, f.teacher, "7B", now)
	require.NoError(t, err)
	other, err := groups.Create(ctx, f.teacher, "8A", now)
	require.NoError(t, err)
	for _, u := range []model.User{f.ana, f.bo, f.cy} {
		_, _, err := groups.Join(ctx, u, f.g.JoinCode, now)
		require.NoError(t, err)
	}
	_, _, err = groups.Join(ctx, f.dee, other.JoinCode, now)
	require.NoError(t, err)

	logged := func(u model.User, in habit.Input, offsets ...int) {
		h, err := habits.Create(ctx, u, in, now)
		require.NoError(t, err)
		for _, off := range offsets {
			_, err := habits.LogCompletion(ctx, u, h.ID, f.today.AddDays(-off), now)
			require.NoError(t, err)
		}
	}
	logged(f.ana, habit.Input{Title: "Walk", Category: "movement"}, 0, 1, 2)
	logged(f.bo, habit.Input{Title: "Yoga", Category: "mindfulness", Visibility: "ANONYMISED_ONLY"}, 0)
	logged(f.bo, habit.Input{Title: "Therapy", Visibility: "PRIVATE_TO_PEERS"}, 1)
	return f
}

func TestSummarize(t *testing.T) {
	today := progress.NewDay(2025, time.October, 6)
	habits := []model.Habit{
		{ID: "a", Category: "sleep"},
		{ID: "b", Category: "movement"},
	}
	sets := map[model.HabitID]progress.DaySet{
		"a": progress.NewDaySet(today, today.AddDays(-1), today.AddDays(-40)),
		"b": progress.NewDaySet(today, today.AddDays(-2)),
	}
	s := Summarize(habits, sets, today, 30)
	assert.Equal(t, 2, s.ActiveHabits)
	assert.Equal(t, 4, s.Completions)
	assert.Equal(t, map[string]int{"sleep": 2, "movement": 2}, s.ByCategory)
	assert.Equal(t, 3, s.Streak.Current, "union of both habits")
	assert.Equal(t, 3, s.Rate.Completed)
	assert.Equal(t, 30, s.Rate.Elapsed)
}

func TestMyProgress(t *testing.T) {
	f := newFixture(t, 2)
	p, err := f.svc.MyProgress(context.Background(), f.ana, now)
	require.NoError(t, err)

	require.Len(t, p.Habits, 1)
	assert.Equal(t, 3, p.Habits[0].Stats.Streak.Current)
	assert.Equal(t, 3, p.Overall.Completions)
	assert.Equal(t, 30, p.XP.Total())
	assert.Equal(t, 1, p.Level.Level)
	assert.Equal(t, 70, p.Level.ToNext)
}

func TestTeacherDashboard(t *testing.T) {
	for _, workers := range []int{1, 4} {
		f := newFixture(t, workers)
		d, err := f.svc.TeacherDashboard(context.Background(), f.teacher, f.g.ID, now)
		require.NoError(t, err)

		require.Len(t, d.Students, 3)
		names := []string{d.Students[0].DisplayName, d.Students[1].DisplayName, d.Students[2].DisplayName}
		assert.Equal(t, []string{"ana", "bo", "cy"}, names)
		assert.Equal(t, 3, d.Students[0].Summary.Completions)
		assert.Equal(t, 2, d.Students[1].Summary.Completions, "teachers count private habits")
		assert.Equal(t, 2, d.Students[1].Summary.Streak.Current)
		assert.Zero(t, d.Students[2].Summary.ActiveHabits)
		assert.Equal(t, 2, d.ActiveToday)
		assert.InDelta(t, (3.0/30+2.0/30)/3, d.AverageRate, 1e-9)
	}
}

func TestTeacherDashboard_OwnerOnly(t *testing.T) {
	f := newFixture(t, 2)
	_, err := f.svc.TeacherDashboard(context.Background(), f.ana, f.g.ID, now)
	assert.ErrorIs(t, err, group.ErrForbidden)
}

func TestGroupOverview(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	ov, err := f.svc.GroupOverview(ctx, f.cy, f.g.ID, now)
	require.NoError(t, err)
	byName := map[string]MemberView{}
	for _, m := range ov.Members {
		byName[m.DisplayName] = m
	}
	require.Len(t, byName["ana"].Habits, 1)
	assert.Equal(t, "Walk", byName["ana"].Habits[0].Title)
	assert.Equal(t, 3, byName["ana"].Habits[0].Streak.Current)
	assert.Empty(t, byName["bo"].Habits, "classmates see no anonymised or private habit")
	assert.Equal(t, Aggregate{
		Members:         3,
		Habits:          2,
		ActiveToday:     2,
		Completions:     4,
		Rate:            progress.Rate{Completed: 4, Elapsed: 60, Value: 4.0 / 60},
		AnonymousHabits: 1,
	}, ov.Aggregate)

	ov, err = f.svc.GroupOverview(ctx, f.teacher, f.g.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 3, ov.Aggregate.Habits)
	assert.Zero(t, ov.Aggregate.AnonymousHabits)

	_, err = f.svc.GroupOverview(ctx, f.dee, f.g.ID, now)
	assert.ErrorIs(t, err, group.ErrForbidden)
}

func TestProfile(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	p, err := f.svc.Profile(ctx, f.cy, f.bo.ID, now)
	require.NoError(t, err)
	assert.Equal(t, visibility.Classmate, p.Relationship)
	assert.Empty(t, p.Habits)
	assert.Equal(t, 20, p.XP)

	p, err = f.svc.Profile(ctx, f.teacher, f.bo.ID, now)
	require.NoError(t, err)
	assert.Equal(t, visibility.Teacher, p.Relationship)
	assert.Len(t, p.Habits, 2)

	p, err = f.svc.Profile(ctx, f.ana, f.ana.ID, now)
	require.NoError(t, err)
	assert.Equal(t, visibility.Self, p.Relationship)

	_, err = f.svc.Profile(ctx, f.dee, f.ana.ID, now)
	assert.ErrorIs(t, err, group.ErrForbidden)
	_, err = f.svc.Profile(ctx, f.ana, "usr_missing", now)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestHandlers(t *testing.T) {
	f := newFixture(t, 2)
	h := NewHandler(f.svc)
	serve := func(fn http.HandlerFunc, u model.User, id string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.SetPathValue("id", id)
		req = req.WithContext(auth.WithUser(req.Context(), u))
		rec := httptest.NewRecorder()
		fn(rec, req)
		return rec
	}

	rec := serve(h.MyProgress(), f.ana, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var p MyProgress
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	assert.Len(t, p.Habits, 1)

	assert.Equal(t, http.StatusForbidden, serve(h.Dashboard(), f.ana, string(f.g.ID)).Code)
	assert.Equal(t, http.StatusOK, serve(h.Dashboard(), f.teacher, string(f.g.ID)).Code)
	assert.Equal(t, http.StatusOK, serve(h.Overview(), f.bo, string(f.g.ID)).Code)
	assert.Equal(t, http.StatusNotFound, serve(h.Overview(), f.bo, "grp_missing").Code)
	assert.Equal(t, http.StatusForbidden, serve(h.Profile(), f.dee, string(f.ana.ID)).Code)
	assert.Equal(t, http.StatusNotFound, serve(h.Profile(), f.dee, "usr_missing").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/me/progress", nil)
	rec = httptest.NewRecorder()
	h.MyProgress()(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
