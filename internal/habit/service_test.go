package habit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wellnest/internal/auth"
	"wellnest/internal/config"
	"wellnest/internal/model"
	"wellnest/internal/progress"
	"wellnest/internal/store"
	"wellnest/internal/visibility"
)

type recorded struct {
	mu     sync.Mutex
	events []model.ActivityEvent
}

func (r *recorded) Record(_ context.Context, ev model.ActivityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorded) types() []model.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type fixedRewards int

func (f fixedRewards) EarnedRewardXP(context.Context, model.UserID, progress.Day) (int, error) {
	return int(f), nil
}

// noon on 2025-03-10 in UTC
var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func withBackfill(days int) func(*config.ProgressConfig) {
	return func(c *config.ProgressConfig) { c.BackfillDays = &days }
}

func newTestService(t *testing.T, mutate func(*config.ProgressConfig)) (*Service, *recorded, model.User) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, store.DriverSQLite, filepath.Join(t.TempDir(), "habits.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Default().Progress
	cfg.TimeZone = "UTC"
	if mutate != nil {
		mutate(&cfg)
	}
	events := &recorded{}
	svc, err := NewService(st, cfg, events, zap.NewNop())
	require.NoError(t, err)

	u, _, err := st.GetOrCreateUser(ctx, "ana@school.test", model.RoleStudent, "Ana", now)
	require.NoError(t, err)
	return svc, events, u
}

func TestCreate_DefaultsAndValidation(t *testing.T) {
	svc, events, u := newTestService(t, nil)
	ctx := context.Background()

	h, err := svc.Create(ctx, u, Input{Title: " Drink water "}, now)
	require.NoError(t, err)
	assert.Equal(t, "Drink water", h.Title)
	assert.Equal(t, "other", h.Category)
	assert.Equal(t, model.DifficultyEasy, h.Difficulty)
	assert.Equal(t, visibility.PublicToClass, h.Visibility)
	assert.Equal(t, []model.EventType{model.EventHabitCreated}, events.types())

	cases := []struct {
		in   Input
		want error
	}{
		{Input{Title: ""}, ErrInvalidTitle},
		{Input{Title: strings.Repeat("x", 81)}, ErrInvalidTitle},
		{Input{Title: "ok", Category: "gaming"}, ErrInvalidCategory},
		{Input{Title: "ok", Difficulty: "epic"}, ErrInvalidDifficulty},
		{Input{Title: "ok", Visibility: "friends"}, ErrInvalidVisibility},
	}
	for _, tc := range cases {
		_, err := svc.Create(ctx, u, tc.in, now)
		assert.ErrorIs(t, err, tc.want, "%+v", tc.in)
	}
}

func TestUpdateAndArchive(t *testing.T) {
	svc, _, u := newTestService(t, nil)
	ctx := context.Background()
	h, err := svc.Create(ctx, u, Input{Title: "Walk", Category: "movement"}, now)
	require.NoError(t, err)

	tier := "private_to_peers"
	hard := "hard"
	got, err := svc.Update(ctx, u, h.ID, Patch{Visibility: &tier, Difficulty: &hard})
	require.NoError(t, err)
	assert.Equal(t, visibility.PrivateToPeers, got.Visibility)
	assert.Equal(t, model.DifficultyHard, got.Difficulty)
	assert.Equal(t, "Walk", got.Title)

	other := model.User{ID: "usr_other"}
	_, err = svc.Update(ctx, other, h.ID, Patch{Visibility: &tier})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Archive(ctx, u, h.ID, now)
	require.NoError(t, err)
	_, err = svc.LogCompletion(ctx, u, h.ID, progress.Day{}, now)
	assert.ErrorIs(t, err, ErrArchived)

	active, err := svc.List(ctx, u, false)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestLogCompletion_IdempotentPerDay(t *testing.T) {
	svc, _, u := newTestService(t, nil)
	ctx := context.Background()
	h, err := svc.Create(ctx, u, Input{Title: "Sleep 8h", Category: "sleep", Difficulty: "medium"}, now)
	require.NoError(t, err)

	first, err := svc.LogCompletion(ctx, u, h.ID, progress.Day{}, now)
	require.NoError(t, err)
	assert.True(t, first.Counted)
	assert.Equal(t, 15, first.XPGained)
	assert.Equal(t, 1, first.Streak.Current)
	assert.NotEmpty(t, first.Completion.ID)

	second, err := svc.LogCompletion(ctx, u, h.ID, progress.Day{}, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, second.Counted)
	assert.Zero(t, second.XPGained)
	assert.Equal(t, 15, second.XP.Total())
}

func TestLogCompletion_BackfillWindow(t *testing.T) {
	svc, _, u := newTestService(t, withBackfill(2))
	ctx := context.Background()
	h, err := svc.Create(ctx, u, Input{Title: "Read"}, now)
	require.NoError(t, err)
	today := svc.Today(now)

	_, err = svc.LogCompletion(ctx, u, h.ID, today.AddDays(1), now)
	assert.ErrorIs(t, err, ErrFutureDay)
	_, err = svc.LogCompletion(ctx, u, h.ID, today.AddDays(-3), now)
	assert.ErrorIs(t, err, ErrBeyondBackfill)

	res, err := svc.LogCompletion(ctx, u, h.ID, today.AddDays(-2), now)
	require.NoError(t, err)
	assert.True(t, res.Counted)
	assert.Equal(t, 0, res.Streak.Current, "a gap of one day breaks the streak")

	_, err = svc.LogCompletion(ctx, u, h.ID, today.AddDays(-1), now)
	require.NoError(t, err)
	res, err = svc.LogCompletion(ctx, u, h.ID, progress.Day{}, now)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Streak.Current)
	assert.Equal(t, 3, res.Streak.Longest)
}

func TestLogCompletion_UsesSchoolTimeZone(t *testing.T) {
	svc, _, u := newTestService(t, func(c *config.ProgressConfig) { c.TimeZone = "America/New_York" })
	ctx := context.Background()
	h, err := svc.Create(ctx, u, Input{Title: "Stretch"}, now)
	require.NoError(t, err)

	// 03:00 UTC is still the previous evening in New York.
	late := time.Date(2025, 3, 11, 3, 0, 0, 0, time.UTC)
	res, err := svc.LogCompletion(ctx, u, h.ID, progress.Day{}, late)
	require.NoError(t, err)
	assert.Equal(t, progress.NewDay(2025, time.March, 10), res.Completion.Day)
}

func TestLogCompletion_StreakMilestoneAndLevelUp(t *testing.T) {
	svc, events, u := newTestService(t, withBackfill(10))
	ctx := context.Background()
	h, err := svc.Create(ctx, u, Input{Title: "Run", Difficulty: "hard"}, now)
	require.NoError(t, err)
	today := svc.Today(now)

	var last LogResult
	for i := 6; i >= 0; i-- {
		last, err = svc.LogCompletion(ctx, u, h.ID, today.AddDays(-i), now)
		require.NoError(t, err)
	}
	// 7 hard days = 175 plus one streak bonus of 20.
	assert.Equal(t, 195, last.XP.Total())
	assert.Equal(t, 45, last.XPGained)
	assert.Equal(t, 7, last.Streak.Current)
	assert.Equal(t, 2, last.Level.Level)

	types := events.types()
	assert.Contains(t, types, model.EventStreakMilestone)
	assert.Contains(t, types, model.EventLevelUp)
}

func TestLogCompletion_ZeroBackfillAllowsTodayOnly(t *testing.T) {
	svc, _, u := newTestService(t, withBackfill(0))
	ctx := context.Background()
	h, err := svc.Create(ctx, u, Input{Title: "Read"}, now)
	require.NoError(t, err)
	today := svc.Today(now)

	_, err = svc.LogCompletion(ctx, u, h.ID, today.AddDays(-1), now)
	assert.ErrorIs(t, err, ErrBeyondBackfill)
	res, err := svc.LogCompletion(ctx, u, h.ID, today, now)
	require.NoError(t, err)
	assert.True(t, res.Counted)
}

func TestLogCompletion_BackfillClosingGapRecordsMilestone(t *testing.T) {
	svc, events, u := newTestService(t, withBackfill(10))
	ctx := context.Background()
	h, err := svc.Create(ctx, u, Input{Title: "Read"}, now)
	require.NoError(t, err)
	today := svc.Today(now)

	for _, off := range []int{6, 5, 4, 2, 1, 0} {
		_, err := svc.LogCompletion(ctx, u, h.ID, today.AddDays(-off), now)
		require.NoError(t, err)
	}
	assert.NotContains(t, events.types(), model.EventStreakMilestone)

	res, err := svc.LogCompletion(ctx, u, h.ID, today.AddDays(-3), now)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Streak.Current)
	milestones := 0
	for _, typ := range events.types() {
		if typ == model.EventStreakMilestone {
			milestones++
		}
	}
	assert.Equal(t, 1, milestones)
}

func TestCrossedMilestone(t *testing.T) {
	assert.True(t, crossedMilestone(7, 6, 7))
	assert.True(t, crossedMilestone(7, 3, 10), "merging runs can jump past the multiple")
	assert.False(t, crossedMilestone(7, 7, 7))
	assert.False(t, crossedMilestone(7, 7, 8))
	assert.False(t, crossedMilestone(0, 0, 14))
}

func TestUserXP_IncludesRewards(t *testing.T) {
	svc, _, u := newTestService(t, nil)
	svc.SetRewardSource(fixedRewards(50))
	ctx := context.Background()
	h, err := svc.Create(ctx, u, Input{Title: "Journal"}, now)
	require.NoError(t, err)
	_, err = svc.LogCompletion(ctx, u, h.ID, progress.Day{}, now)
	require.NoError(t, err)

	xp, err := svc.UserXP(ctx, u.ID, svc.Today(now))
	require.NoError(t, err)
	assert.Equal(t, progress.XPBreakdown{Completions: 10, Challenges: 50}, xp)
}

func TestUndoCompletion(t *testing.T) {
	svc, _, u := newTestService(t, nil)
	ctx := context.Background()
	h, err := svc.Create(ctx, u, Input{Title: "Journal"}, now)
	require.NoError(t, err)
	_, err = svc.LogCompletion(ctx, u, h.ID, progress.Day{}, now)
	require.NoError(t, err)

	require.NoError(t, svc.UndoCompletion(ctx, u, h.ID, progress.Day{}, now))
	assert.ErrorIs(t, svc.UndoCompletion(ctx, u, h.ID, progress.Day{}, now), ErrCompletionNotFound)
}

func TestCompletionSet_Scopes(t *testing.T) {
	svc, _, u := newTestService(t, withBackfill(5))
	ctx := context.Background()
	a, err := svc.Create(ctx, u, Input{Title: "A"}, now)
	require.NoError(t, err)
	b, err := svc.Create(ctx, u, Input{Title: "B"}, now)
	require.NoError(t, err)
	today := svc.Today(now)

	for _, d := range []int{0, 1, 4} {
		_, err := svc.LogCompletion(ctx, u, a.ID, today.AddDays(-d), now)
		require.NoError(t, err)
	}
	_, err = svc.LogCompletion(ctx, u, b.ID, today, now)
	require.NoError(t, err)
	_, err = svc.LogCompletion(ctx, u, b.ID, today.AddDays(-2), now)
	require.NoError(t, err)

	perHabit, err := svc.CompletionSet(ctx, Scope{HabitID: a.ID}, 3, today)
	require.NoError(t, err)
	assert.Equal(t, 2, perHabit.Len())

	perUser, err := svc.CompletionSet(ctx, Scope{UserID: u.ID}, 0, today)
	require.NoError(t, err)
	assert.Equal(t, 4, perUser.Len(), "same-day completions collapse")

	_, err = svc.CompletionSet(ctx, Scope{}, 0, today)
	assert.Error(t, err)
}

func TestComputeStats(t *testing.T) {
	today := progress.NewDay(2025, time.March, 10)
	set := progress.NewDaySet(today, today.AddDays(-1), today.AddDays(-2), today.AddDays(-5), today.AddDays(3))
	st := ComputeStats(set, today, 10)
	assert.Equal(t, 3, st.Streak.Current)
	assert.Equal(t, 4, st.Total, "future days are ignored")
	assert.Equal(t, 4, st.Rate.Completed)
	assert.Equal(t, 10, st.Rate.Elapsed)
	assert.InDelta(t, 0.4, st.Rate.Value, 1e-9)
}

func request(method, target, body, id string, u model.User) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if id != "" {
		req.SetPathValue("id", id)
	}
	return req.WithContext(auth.WithUser(req.Context(), u))
}

func TestHandler_CompleteFlow(t *testing.T) {
	svc, _, u := newTestService(t, nil)
	h := NewHandler(svc)

	rec := httptest.NewRecorder()
	h.Collection(rec, request(http.MethodPost, "/api/habits", `{"title":"Walk","category":"movement","visibility":"ANONYMISED_ONLY"}`, "", u))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var hb model.Habit
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&hb))

	rec = httptest.NewRecorder()
	h.Complete(rec, request(http.MethodPost, "/api/habits/x/complete", "", string(hb.ID), u))
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	h.Complete(rec, request(http.MethodPost, "/api/habits/x/complete", "", string(hb.ID), u))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"counted":false`)

	rec = httptest.NewRecorder()
	h.Complete(rec, request(http.MethodPost, "/api/habits/x/complete", `{"day":"2999-01-01"}`, string(hb.ID), u))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Complete(rec, request(http.MethodPost, "/api/habits/x/complete", `{"day":"yesterday"}`, string(hb.ID), u))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.History(rec, request(http.MethodGet, "/api/habits/x/history?days=7", "", string(hb.ID), u))
	require.Equal(t, http.StatusOK, rec.Code)
	var hist History
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&hist))
	assert.Len(t, hist.Days, 1)
	assert.Equal(t, progress.Rate{Completed: 1, Elapsed: 7, Value: 1.0 / 7}, hist.Stats.Rate)

	rec = httptest.NewRecorder()
	h.Item(rec, request(http.MethodDelete, "/api/habits/x", "", string(hb.ID), u))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Item(rec, request(http.MethodPatch, "/api/habits/x", `{"title":"Run"}`, string(hb.ID), u))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	h.Item(rec, request(http.MethodPatch, "/api/habits/x", `{"title":"Run"}`, "hab_missing", u))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
