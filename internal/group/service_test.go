package group

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
	"wellnest/internal/model"
	"wellnest/internal/store"
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

type fixture struct {
	st      *store.Store
	svc     *Service
	events  *recorded
	teacher model.User
	ana     model.User
	bo      model.User
}

var now = time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, store.DriverSQLite, filepath.Join(t.TempDir(), "groups.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{st: st, events: &recorded{}}
	f.svc = NewService(st, f.events, zap.NewNop())
	mk := func(email string, role model.Role) model.User {
		u, _, err := st.GetOrCreateUser(ctx, email, role, "", now)
		require.NoError(t, err)
		return u
	}
	f.teacher = mk("ms.li@staff.test", model.RoleTeacher)
	f.ana = mk("ana@school.test", model.RoleStudent)
	f.bo = mk("bo@school.test", model.RoleStudent)
	return f
}

func TestGenerateCode_UsesAlphabet(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		assert.True(t, validCode(code), code)
	}
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "ABCD2345", NormalizeCode(" abcd-2345 "))
	assert.False(t, validCode("ABCD0O1I"))
	assert.False(t, validCode("ABC"))
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.ana, "7B", now)
	assert.ErrorIs(t, err, ErrTeacherOnly)
	_, err = f.svc.Create(ctx, f.teacher, "   ", now)
	assert.ErrorIs(t, err, ErrInvalidName)

	g, err := f.svc.Create(ctx, f.teacher, " 7B ", now)
	require.NoError(t, err)
	assert.Equal(t, "7B", g.Name)
	assert.Len(t, g.JoinCode, CodeLength)
}

func TestCreate_RetriesCodeCollisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	codes := []string{"AAAA2222", "AAAA2222", "BBBB3333"}
	f.svc.newCode = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}
	first, err := f.svc.Create(ctx, f.teacher, "7A", now)
	require.NoError(t, err)
	second, err := f.svc.Create(ctx, f.teacher, "7B", now)
	require.NoError(t, err)
	assert.Equal(t, "AAAA2222", first.JoinCode)
	assert.Equal(t, "BBBB3333", second.JoinCode)

	f.svc.newCode = func() (string, error) { return "AAAA2222", nil }
	_, err = f.svc.Create(ctx, f.teacher, "7C", now)
	assert.ErrorIs(t, err, ErrCodeExhausted)
}

func TestJoin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, err := f.svc.Create(ctx, f.teacher, "7B", now)
	require.NoError(t, err)

	joined, added, err := f.svc.Join(ctx, f.ana, strings.ToLower(g.JoinCode), now)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Empty(t, joined.JoinCode, "students do not see the code")

	_, added, err = f.svc.Join(ctx, f.ana, g.JoinCode, now)
	require.NoError(t, err)
	assert.False(t, added, "joining twice is a no-op")
	require.Len(t, f.events.events, 1)
	assert.Equal(t, model.EventGroupJoined, f.events.events[0].Type)

	_, _, err = f.svc.Join(ctx, f.teacher, g.JoinCode, now)
	assert.ErrorIs(t, err, ErrStudentOnly)
	_, _, err = f.svc.Join(ctx, f.bo, "ZZZZ9999", now)
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = f.svc.Join(ctx, f.bo, "nope", now)
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestJoin_ArchivedGroupIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, err := f.svc.Create(ctx, f.teacher, "7B", now)
	require.NoError(t, err)
	_, err = f.svc.Archive(ctx, f.teacher, g.ID, now)
	require.NoError(t, err)

	_, _, err = f.svc.Join(ctx, f.ana, g.JoinCode, now)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.RotateCode(ctx, f.teacher, g.ID)
	assert.ErrorIs(t, err, ErrArchived)
}

func TestRotateCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, err := f.svc.Create(ctx, f.teacher, "7B", now)
	require.NoError(t, err)

	_, err = f.svc.RotateCode(ctx, f.ana, g.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	rotated, err := f.svc.RotateCode(ctx, f.teacher, g.ID)
	require.NoError(t, err)
	assert.NotEqual(t, g.JoinCode, rotated.JoinCode)

	_, _, err = f.svc.Join(ctx, f.ana, g.JoinCode, now)
	assert.ErrorIs(t, err, ErrNotFound, "old code stops working")
	_, _, err = f.svc.Join(ctx, f.ana, rotated.JoinCode, now)
	assert.NoError(t, err)
}

func TestResolveAndTies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, err := f.svc.Create(ctx, f.teacher, "7B", now)
	require.NoError(t, err)
	_, _, err = f.svc.Join(ctx, f.ana, g.JoinCode, now)
	require.NoError(t, err)

	a, err := f.svc.Resolve(ctx, f.teacher, g.ID)
	require.NoError(t, err)
	assert.True(t, a.Owner)
	assert.Equal(t, g.JoinCode, a.Group.JoinCode)

	a, err = f.svc.Resolve(ctx, f.ana, g.ID)
	require.NoError(t, err)
	assert.True(t, a.Member)
	assert.Empty(t, a.Group.JoinCode)

	_, err = f.svc.Resolve(ctx, f.bo, g.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.Resolve(ctx, f.bo, "grp_missing")
	assert.ErrorIs(t, err, ErrNotFound)

	ties, err := f.svc.Ties(ctx, f.teacher)
	require.NoError(t, err)
	assert.True(t, ties.Teaches[string(g.ID)])
	ties, err = f.svc.Ties(ctx, f.ana)
	require.NoError(t, err)
	assert.True(t, ties.MemberOf[string(g.ID)])

	require.NoError(t, f.svc.Leave(ctx, f.ana, g.ID))
	assert.ErrorIs(t, f.svc.Leave(ctx, f.ana, g.ID), ErrNotMember)
}

func serve(h http.HandlerFunc, u model.User, method, target, body string, pathID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if pathID != "" {
		req.SetPathValue("id", pathID)
	}
	req = req.WithContext(auth.WithUser(req.Context(), u))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestHandler_Flow(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)

	rec := serve(h.Collection, f.ana, http.MethodPost, "/api/groups", `{"name":"7B"}`, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(h.Collection, f.teacher, http.MethodPost, "/api/groups", `{"name":"7B"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var g model.Group
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&g))

	rec = serve(h.Join, f.ana, http.MethodPost, "/api/groups/join", `{"code":"`+g.JoinCode+`"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"joined":true`)

	rec = serve(h.Members, f.ana, http.MethodGet, "/api/groups/x/members", "", string(g.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"displayName":"ana"`)
	assert.NotContains(t, rec.Body.String(), "ana@school.test")

	rec = serve(h.Members, f.teacher, http.MethodGet, "/api/groups/x/members", "", string(g.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ana@school.test")

	rec = serve(h.Members, f.bo, http.MethodGet, "/api/groups/x/members", "", string(g.ID))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(h.Collection, f.ana, http.MethodGet, "/api/groups", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"7B"`)

	rec = serve(h.Archive, f.teacher, http.MethodPost, "/api/groups/x/archive", "", string(g.ID))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(h.Leave, f.ana, http.MethodPost, "/api/groups/x/leave", "", string(g.ID))
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = serve(h.Leave, f.ana, http.MethodPost, "/api/groups/x/leave", "", string(g.ID))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(h.Join, f.ana, http.MethodGet, "/api/groups/join", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
