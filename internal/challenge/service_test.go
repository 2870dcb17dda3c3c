package challenge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wellnest/internal/auth"
	"wellnest/internal/config"
	"wellnest/internal/group"
	"wellnest/internal/habit"
	"wellnest/internal/model"
	"wellnest/internal/progress"
	"wellnest/internal/store"
)

var now = time.Date(2025, 9, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	groups  *group.Service
	habits  *habit.Service
	group   model.Group
	teacher model.User
	ana     model.User
	bo      model.User
	cy      model.User
	today   progress.Day
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, store.DriverSQLite, filepath.Join(t.TempDir(), "challenges.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Default().Progress
	cfg.TimeZone = "UTC"
	f := &fixture{groups: group.NewService(st, nil, zap.NewNop())}
	f.habits, err = habit.NewService(st, cfg, nil, zap.NewNop())
	require.NoError(t, err)
	f.svc = NewService(st, f.groups, f.habits, nil, zap.NewNop())
	f.habits.SetRewardSource(f.svc)
	f.today = f.habits.Today(now)

	mk := func(email string, role model.Role) model.User {
		u, _, err := st.GetOrCreateUser(ctx, email, role, "", now)
		require.NoError(t, err)
		return u
	}
	f.teacher = mk("ms.li@staff.test", model.RoleTeacher)
	f.ana = mk("ana@school.test", model.RoleStudent)
	f.bo = mk("bo@school.test", model.RoleStudent)
	f.cy = mk("cy@school.test", model.RoleStudent)

	f.group, err = f.groups.Create(ctx, f.teacher, "7B", now)
	require.NoError(t, err)
	for _, u := range []model.User{f.ana, f.bo, f.cy} {
		_, _, err := f.groups.Join(ctx, u, f.group.JoinCode, now)
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) logDays(t *testing.T, u model.User, in habit.Input, offsets ...int) {
	t.Helper()
	ctx := context.Background()
	h, err := f.habits.Create(ctx, u, in, now)
	require.NoError(t, err)
	for _, off := range offsets {
		_, err := f.habits.LogCompletion(ctx, u, h.ID, f.today.AddDays(-off), now)
		require.NoError(t, err)
	}
}

func (f *fixture) movementChallenge(t *testing.T) model.Challenge {
	t.Helper()
	c, err := f.svc.Create(context.Background(), f.teacher, f.group.ID, Input{
		Title:      "Move more",
		Category:   "movement",
		TargetDays: 2,
		StartDay:   f.today.AddDays(-3),
		EndDay:     f.today.AddDays(3),
		RewardXP:   50,
	}, now)
	require.NoError(t, err)
	return c
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	valid := Input{Title: "Sleep", TargetDays: 3, EndDay: f.today.AddDays(6)}

	c, err := f.svc.Create(ctx, f.teacher, f.group.ID, valid, now)
	require.NoError(t, err)
	assert.Equal(t, f.today, c.StartDay, "start defaults to today")
	assert.Equal(t, 7, c.Length())

	_, err = f.svc.Create(ctx, f.ana, f.group.ID, valid, now)
	assert.ErrorIs(t, err, group.ErrForbidden)

	cases := []struct {
		name string
		edit func(*Input)
		want error
	}{
		{"blank title", func(in *Input) { in.Title = " " }, ErrInvalidTitle},
		{"unknown category", func(in *Input) { in.Category = "gaming" }, ErrCategory},
		{"target too large", func(in *Input) { in.TargetDays = 8 }, ErrInvalidTarget},
		{"zero target", func(in *Input) { in.TargetDays = 0 }, ErrInvalidTarget},
		{"ended", func(in *Input) { in.StartDay = f.today.AddDays(-9); in.EndDay = f.today.AddDays(-1) }, ErrInvalidDates},
		{"missing end", func(in *Input) { in.EndDay = progress.Day{} }, ErrInvalidDates},
		{"too long", func(in *Input) { in.EndDay = f.today.AddDays(400) }, ErrInvalidDates},
		{"reward", func(in *Input) { in.RewardXP = 5000 }, ErrInvalidReward},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := valid
			tc.edit(&in)
			_, err := f.svc.Create(ctx, f.teacher, f.group.ID, in, now)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestBoards_FilteredByVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.logDays(t, f.ana, habit.Input{Title: "Walk", Category: "movement"}, 2, 1)
	f.logDays(t, f.bo, habit.Input{Title: "Yoga", Category: "movement", Visibility: "ANONYMISED_ONLY"}, 0)
	f.logDays(t, f.cy, habit.Input{Title: "Sleep", Category: "sleep"}, 0, 1)
	c := f.movementChallenge(t)

	boards, err := f.svc.Boards(ctx, f.cy, f.group.ID, now)
	require.NoError(t, err)
	require.Len(t, boards, 1)
	b := boards[0]
	assert.Equal(t, c.ID, b.Challenge.ID)
	assert.Equal(t, model.ChallengeActive, b.Status)
	want := []Row{{UserID: f.ana.ID, DisplayName: "ana", Days: 2, Completed: true}}
	if diff := cmp.Diff(want, b.Rows); diff != "" {
		t.Errorf("classmate rows (-want +got):\n%s", diff)
	}
	assert.Equal(t, 3, b.GroupDays)
	assert.Equal(t, 1, b.AnonymousContributors)

	boards, err = f.svc.Boards(ctx, f.teacher, f.group.ID, now)
	require.NoError(t, err)
	want = []Row{
		{UserID: f.ana.ID, DisplayName: "ana", Days: 2, Completed: true},
		{UserID: f.bo.ID, DisplayName: "bo", Days: 1},
	}
	if diff := cmp.Diff(want, boards[0].Rows); diff != "" {
		t.Errorf("teacher rows (-want +got):\n%s", diff)
	}
	assert.Zero(t, boards[0].AnonymousContributors)

	boards, err = f.svc.Boards(ctx, f.bo, f.group.ID, now)
	require.NoError(t, err)
	assert.Len(t, boards[0].Rows, 2, "owners see their own anonymised row")
}

func TestBoards_UpcomingHasNoProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.logDays(t, f.ana, habit.Input{Title: "Walk", Category: "movement"}, 0)
	_, err := f.svc.Create(ctx, f.teacher, f.group.ID, Input{
		Title: "Next week", TargetDays: 1, StartDay: f.today.AddDays(7), EndDay: f.today.AddDays(13),
	}, now)
	require.NoError(t, err)

	boards, err := f.svc.Boards(ctx, f.ana, f.group.ID, now)
	require.NoError(t, err)
	require.Len(t, boards, 1)
	assert.Equal(t, model.ChallengeUpcoming, boards[0].Status)
	assert.Empty(t, boards[0].Rows)
	assert.Zero(t, boards[0].GroupDays)
}

func TestEarnedRewardXP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.logDays(t, f.ana, habit.Input{Title: "Walk", Category: "movement"}, 2, 1)
	f.logDays(t, f.bo, habit.Input{Title: "Yoga", Category: "movement"}, 0)
	f.movementChallenge(t)

	got, err := f.svc.EarnedRewardXP(ctx, f.ana.ID, f.today)
	require.NoError(t, err)
	assert.Equal(t, 50, got)
	got, err = f.svc.EarnedRewardXP(ctx, f.bo.ID, f.today)
	require.NoError(t, err)
	assert.Zero(t, got)

	xp, err := f.habits.UserXP(ctx, f.ana.ID, f.today)
	require.NoError(t, err)
	assert.Equal(t, progress.XPBreakdown{Completions: 20, Challenges: 50}, xp)
}

func TestHandler(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	outsider := model.User{ID: "usr_outsider", Role: model.RoleStudent}

	serve := func(fn http.HandlerFunc, u model.User, method, body, id string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/api/groups/x/challenges", strings.NewReader(body))
		req.SetPathValue("id", id)
		req = req.WithContext(auth.WithUser(req.Context(), u))
		rec := httptest.NewRecorder()
		fn(rec, req)
		return rec
	}

	body := `{"title":"Hydrate","category":"nutrition","targetDays":3,"endDay":"` + f.today.AddDays(5).String() + `","rewardXp":30}`
	rec := serve(h.Collection, f.teacher, http.MethodPost, body, string(f.group.ID))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = serve(h.Collection, f.ana, http.MethodPost, body, string(f.group.ID))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(h.Collection, f.teacher, http.MethodPost, `{"title":"Hydrate","targetDays":3,"endDay":"soon"}`, string(f.group.ID))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(h.Collection, f.ana, http.MethodGet, "", string(f.group.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"title":"Hydrate"`)

	rec = serve(h.Collection, outsider, http.MethodGet, "", string(f.group.ID))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(h.Collection, f.ana, http.MethodGet, "", "grp_missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(h.Item, outsider, http.MethodGet, "", "chl_missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGet_MatchesBoard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.logDays(t, f.ana, habit.Input{Title: "Walk", Category: "movement"}, 2, 1)
	f.logDays(t, f.bo, habit.Input{Title: "Yoga", Category: "movement", Visibility: "ANONYMISED_ONLY"}, 0)
	c := f.movementChallenge(t)

	got, err := f.svc.Get(ctx, f.cy, c.ID, now)
	require.NoError(t, err)
	boards, err := f.svc.Boards(ctx, f.cy, f.group.ID, now)
	require.NoError(t, err)
	assert.Equal(t, boards[0], got, "single board matches the group listing")
	assert.Equal(t, 3, got.GroupDays)
	assert.Equal(t, 1, got.AnonymousContributors)

	_, err = f.svc.Get(ctx, model.User{ID: "usr_outsider", Role: model.RoleStudent}, c.ID, now)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHandler_Item(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	f.logDays(t, f.ana, habit.Input{Title: "Walk", Category: "movement"}, 2, 1)
	c := f.movementChallenge(t)

	get := func(u model.User) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/challenges/"+string(c.ID), nil)
		req.SetPathValue("id", string(c.ID))
		req = req.WithContext(auth.WithUser(req.Context(), u))
		rec := httptest.NewRecorder()
		h.Item(rec, req)
		return rec
	}

	rec := get(f.ana)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var b Board
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	assert.Equal(t, c.ID, b.Challenge.ID)
	require.Len(t, b.Rows, 1)
	assert.Equal(t, f.ana.ID, b.Rows[0].UserID)
	assert.True(t, b.Rows[0].Completed)
	assert.Equal(t, 2, b.GroupDays)

	rec = get(model.User{ID: "usr_outsider", Role: model.RoleStudent})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
