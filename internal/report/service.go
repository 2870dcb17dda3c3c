// Package report builds the read-only progress views: a student's own
// progress, the teacher dashboard, the group overview and user profiles.
// Every view derives its numbers from the same habit statistics.
package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"wellnest/internal/group"
	"wellnest/internal/habit"
	"wellnest/internal/metrics"
	"wellnest/internal/model"
	"wellnest/internal/progress"
	"wellnest/internal/visibility"
)

var tracer = otel.Tracer("wellnest/report")

var ErrUserNotFound = errors.New("user not found")

type Users interface {
	GetUserByID(ctx context.Context, id model.UserID) (model.User, bool, error)
}

type Service struct {
	users   Users
	groups  *group.Service
	habits  *habit.Service
	workers int
	logger  *zap.Logger
}

func NewService(users Users, groups *group.Service, habits *habit.Service, workers int, logger *zap.Logger) *Service {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{users: users, groups: groups, habits: habits, workers: workers, logger: logger.Named("report")}
}

// failSpan marks the span failed and hands err back.
func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func observe(report string, start time.Time) {
	metrics.ReportDuration.WithLabelValues(report).Observe(time.Since(start).Seconds())
}

// Summary aggregates a set of habits into one row of numbers.
type Summary struct {
	ActiveHabits int             `json:"activeHabits"`
	Streak       progress.Streak `json:"streak"`
	Rate         progress.Rate   `json:"rate"`
	// Completions counts habit-days inside the window.
	Completions int            `json:"completions"`
	ByCategory  map[string]int `json:"byCategory"`
}

// Summarize treats a day as active when any of habits was completed on it.
func Summarize(habits []model.Habit, sets map[model.HabitID]progress.DaySet, today progress.Day, window int) Summary {
	from := progress.Window{Today: today, Days: window}.From()
	out := Summary{ByCategory: map[string]int{}}
	for _, h := range habits {
		if !h.Archived() {
			out.ActiveHabits++
		}
		n := sets[h.ID].Between(from, today).Len()
		out.Completions += n
		if n > 0 {
			out.ByCategory[h.Category] += n
		}
	}
	active := habit.Union(sets, habits)
	out.Streak = progress.Streaks(active, today)
	out.Rate = progress.TrailingRate(active, window, today)
	return out
}

type HabitProgress struct {
	Habit model.Habit `json:"habit"`
	Stats habit.Stats `json:"stats"`
}

type MyProgress struct {
	Today   progress.Day         `json:"today"`
	Window  int                  `json:"window"`
	Habits  []HabitProgress      `json:"habits"`
	Overall Summary              `json:"overall"`
	XP      progress.XPBreakdown `json:"xp"`
	Level   progress.Level       `json:"level"`
}

func activeOnly(habits []model.Habit) []model.Habit {
	var out []model.Habit
	for _, h := range habits {
		if !h.Archived() {
			out = append(out, h)
		}
	}
	return out
}

func (s *Service) habitProgress(habits []model.Habit, sets map[model.HabitID]progress.DaySet, today progress.Day) []HabitProgress {
	out := make([]HabitProgress, 0, len(habits))
	for _, h := range habits {
		set := sets[h.ID]
		if set == nil {
			set = progress.NewDaySet()
		}
		out = append(out, HabitProgress{Habit: h, Stats: habit.ComputeStats(set, today, s.habits.Window())})
	}
	return out
}

// MyProgress reports the viewer's own habits, streaks, XP and level.
func (s *Service) MyProgress(ctx context.Context, u model.User, now time.Time) (MyProgress, error) {
	defer observe("me", time.Now())
	ctx, span := tracer.Start(ctx, "report.MyProgress")
	defer span.End()

	today := s.habits.Today(now)
	habits, sets, err := s.habits.Histories(ctx, []model.UserID{u.ID}, today)
	if err != nil {
		return MyProgress{}, failSpan(span, err)
	}
	xp, err := s.habits.UserXP(ctx, u.ID, today)
	if err != nil {
		return MyProgress{}, failSpan(span, err)
	}
	span.SetAttributes(attribute.Int("habits", len(habits)))
	return MyProgress{
		Today:   today,
		Window:  s.habits.Window(),
		Habits:  s.habitProgress(activeOnly(habits), sets, today),
		Overall: Summarize(habits, sets, today, s.habits.Window()),
		XP:      xp,
		Level:   s.habits.Levels().Of(xp.Total()),
	}, nil
}

// StudentSummary is one dashboard row.
type StudentSummary struct {
	UserID      model.UserID   `json:"userId"`
	DisplayName string         `json:"displayName"`
	JoinedAt    time.Time      `json:"joinedAt"`
	Summary     Summary        `json:"summary"`
	XP          int            `json:"xp"`
	Level       progress.Level `json:"level"`
}

type Dashboard struct {
	Group    model.Group      `json:"group"`
	Today    progress.Day     `json:"today"`
	Window   int              `json:"window"`
	Students []StudentSummary `json:"students"`
	// ActiveToday counts students with a completion today.
	ActiveToday int `json:"activeToday"`
	// AverageRate is the mean active-day rate across students.
	AverageRate float64 `json:"averageRate"`
}

// TeacherDashboard summarizes every student in a group the teacher owns.
// Students are computed concurrently with at most the configured number of
// workers.
func (s *Service) TeacherDashboard(ctx context.Context, teacher model.User, groupID model.GroupID, now time.Time) (Dashboard, error) {
	defer observe("dashboard", time.Now())
	ctx, span := tracer.Start(ctx, "report.TeacherDashboard")
	defer span.End()
	span.SetAttributes(attribute.String("group.id", string(groupID)))

	fail := func(err error) (Dashboard, error) {
		return Dashboard{}, failSpan(span, err)
	}
	access, err := s.groups.Resolve(ctx, teacher, groupID)
	if err != nil {
		return fail(err)
	}
	if !access.Owner {
		return fail(group.ErrForbidden)
	}
	members, err := s.groups.Members(ctx, teacher, groupID)
	if err != nil {
		return fail(err)
	}

	today := s.habits.Today(now)
	window := s.habits.Window()
	rows := make([]StudentSummary, len(members))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, m := range members {
		g.Go(func() error {
			row, err := s.studentSummary(gctx, m, today, window)
			if err != nil {
				return fmt.Errorf("student %s: %w", m.User.ID, err)
			}
			rows[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fail(err)
	}

	d := Dashboard{Group: access.Group, Today: today, Window: window, Students: rows}
	total := 0.0
	for _, r := range rows {
		if r.Summary.Streak.LastDay == today {
			d.ActiveToday++
		}
		total += r.Summary.Rate.Value
	}
	if len(rows) > 0 {
		d.AverageRate = total / float64(len(rows))
	}
	sort.SliceStable(d.Students, func(i, j int) bool {
		return d.Students[i].DisplayName < d.Students[j].DisplayName
	})
	span.SetAttributes(attribute.Int("students", len(rows)))
	return d, nil
}

func (s *Service) studentSummary(ctx context.Context, m model.Member, today progress.Day, window int) (StudentSummary, error) {
	ctx, span := tracer.Start(ctx, "report.studentSummary")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", string(m.User.ID)))

	habits, sets, err := s.habits.Histories(ctx, []model.UserID{m.User.ID}, today)
	if err != nil {
		return StudentSummary{}, failSpan(span, err)
	}
	xp, err := s.habits.UserXP(ctx, m.User.ID, today)
	if err != nil {
		return StudentSummary{}, failSpan(span, err)
	}
	return StudentSummary{
		UserID:      m.User.ID,
		DisplayName: m.User.Name(),
		JoinedAt:    m.JoinedAt,
		Summary:     Summarize(habits, sets, today, window),
		XP:          xp.Total(),
		Level:       s.habits.Levels().Of(xp.Total()),
	}, nil
}

// HabitView is a habit shown with its owner's identity.
type HabitView struct {
	ID       model.HabitID   `json:"id"`
	Title    string          `json:"title"`
	Category string          `json:"category"`
	Streak   progress.Streak `json:"streak"`
	Tier     int             `json:"tier"`
}

type MemberView struct {
	UserID      model.UserID `json:"userId"`
	DisplayName string       `json:"displayName"`
	Habits      []HabitView  `json:"habits"`
}

// Aggregate totals every contribution the viewer may count, with or without
// identity.
type Aggregate struct {
	Members     int           `json:"members"`
	Habits      int           `json:"habits"`
	ActiveToday int           `json:"activeToday"`
	Completions int           `json:"completions"`
	Rate        progress.Rate `json:"rate"`
	// AnonymousHabits counts habits that only feed these totals.
	AnonymousHabits int `json:"anonymousHabits"`
}

type Overview struct {
	Group     model.Group  `json:"group"`
	Today     progress.Day `json:"today"`
	Window    int          `json:"window"`
	Members   []MemberView `json:"members"`
	Aggregate Aggregate    `json:"aggregate"`
}

// GroupOverview shows a group through the viewer's eyes: identity-visible
// habits with streaks, and anonymised totals for everything countable.
func (s *Service) GroupOverview(ctx context.Context, viewer model.User, groupID model.GroupID, now time.Time) (Overview, error) {
	defer observe("overview", time.Now())
	ctx, span := tracer.Start(ctx, "report.GroupOverview")
	defer span.End()
	span.SetAttributes(attribute.String("group.id", string(groupID)))

	access, err := s.groups.Resolve(ctx, viewer, groupID)
	if err != nil {
		return Overview{}, failSpan(span, err)
	}
	members, err := s.groups.Members(ctx, viewer, groupID)
	if err != nil {
		return Overview{}, failSpan(span, err)
	}
	ids := make([]model.UserID, len(members))
	for i, m := range members {
		ids[i] = m.User.ID
	}
	today := s.habits.Today(now)
	window := s.habits.Window()
	habits, sets, err := s.habits.Histories(ctx, ids, today)
	if err != nil {
		return Overview{}, failSpan(span, err)
	}
	byOwner := map[model.UserID][]model.Habit{}
	for _, h := range activeOnly(habits) {
		byOwner[h.OwnerID] = append(byOwner[h.OwnerID], h)
	}

	ov := Overview{Group: access.Group, Today: today, Window: window, Members: []MemberView{}}
	ov.Aggregate.Members = len(members)
	for _, m := range members {
		rel := visibility.InGroup(string(viewer.ID), string(m.User.ID), access.Owner)
		detailed, aggregate := visibility.Split(byOwner[m.User.ID], rel)
		view := MemberView{UserID: m.User.ID, DisplayName: m.User.Name(), Habits: []HabitView{}}
		for _, h := range detailed {
			set := sets[h.ID]
			view.Habits = append(view.Habits, HabitView{
				ID:       h.ID,
				Title:    h.Title,
				Category: h.Category,
				Streak:   progress.Streaks(set, today),
				Tier:     progress.HabitTier(set.Between(progress.Day{}, today).Len()),
			})
		}
		ov.Members = append(ov.Members, view)

		counted := append(append([]model.Habit{}, detailed...), aggregate...)
		ov.Aggregate.Habits += len(counted)
		ov.Aggregate.AnonymousHabits += len(aggregate)
		activeToday := false
		for _, h := range counted {
			r := progress.TrailingRate(sets[h.ID], window, today)
			ov.Aggregate.Rate.Completed += r.Completed
			ov.Aggregate.Rate.Elapsed += r.Elapsed
			ov.Aggregate.Completions += r.Completed
			if sets[h.ID].Has(today) {
				activeToday = true
			}
		}
		if activeToday {
			ov.Aggregate.ActiveToday++
		}
	}
	if ov.Aggregate.Rate.Elapsed > 0 {
		ov.Aggregate.Rate.Value = float64(ov.Aggregate.Rate.Completed) / float64(ov.Aggregate.Rate.Elapsed)
	}
	return ov, nil
}

type ProfileUser struct {
	ID          model.UserID `json:"id"`
	DisplayName string       `json:"displayName"`
	Role        model.Role   `json:"role"`
}

type Profile struct {
	User         ProfileUser             `json:"user"`
	Relationship visibility.Relationship `json:"relationship"`
	XP           int                     `json:"xp"`
	Level        progress.Level          `json:"level"`
	Habits       []HabitProgress         `json:"habits"`
}

// Profile shows a user to a viewer. Habits are filtered by the viewer's
// relationship; strangers are refused.
func (s *Service) Profile(ctx context.Context, viewer model.User, userID model.UserID, now time.Time) (Profile, error) {
	defer observe("profile", time.Now())
	ctx, span := tracer.Start(ctx, "report.Profile")
	defer span.End()

	owner, ok, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	if !ok {
		return Profile{}, ErrUserNotFound
	}
	ties, err := s.groups.Ties(ctx, viewer)
	if err != nil {
		return Profile{}, err
	}
	ownerGroups, err := s.groups.GroupsOf(ctx, owner.ID)
	if err != nil {
		return Profile{}, err
	}
	rel := visibility.Relate(string(viewer.ID), string(owner.ID), ties, ownerGroups)
	span.SetAttributes(attribute.String("relationship", string(rel)))
	if rel == visibility.Stranger {
		return Profile{}, group.ErrForbidden
	}

	today := s.habits.Today(now)
	habits, sets, err := s.habits.Histories(ctx, []model.UserID{owner.ID}, today)
	if err != nil {
		return Profile{}, err
	}
	xp, err := s.habits.UserXP(ctx, owner.ID, today)
	if err != nil {
		return Profile{}, err
	}
	detailed, _ := visibility.Split(activeOnly(habits), rel)
	return Profile{
		User:         ProfileUser{ID: owner.ID, DisplayName: owner.Name(), Role: owner.Role},
		Relationship: rel,
		XP:           xp.Total(),
		Level:        s.habits.Levels().Of(xp.Total()),
		Habits:       s.habitProgress(detailed, sets, today),
	}, nil
}
