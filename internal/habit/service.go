// Package habit owns personal habits and their daily completions, and turns
// completion history into streaks, rates and XP.
package habit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"wellnest/internal/config"
	"wellnest/internal/metrics"
	"wellnest/internal/model"
	"wellnest/internal/progress"
	"wellnest/internal/store"
	"wellnest/internal/visibility"
)

var (
	ErrNotFound           = errors.New("habit not found")
	ErrCompletionNotFound = errors.New("no completion on that day")
	ErrInvalidTitle       = errors.New("title must be 1-80 characters")
	ErrInvalidCategory    = errors.New("unknown category")
	ErrInvalidDifficulty  = errors.New("difficulty must be easy, medium or hard")
	ErrInvalidVisibility  = errors.New("unknown visibility tier")
	ErrArchived           = errors.New("habit is archived")
	ErrFutureDay          = errors.New("cannot log a day in the future")
	ErrBeyondBackfill     = errors.New("day is outside the backfill window")
)

type Repo interface {
	NewHabitID() model.HabitID
	NewCompletionID() model.CompletionID
	CreateHabit(ctx context.Context, h model.Habit) error
	GetHabit(ctx context.Context, id model.HabitID) (model.Habit, bool, error)
	ListHabits(ctx context.Context, ownerIDs []model.UserID, includeArchived bool) ([]model.Habit, error)
	UpdateHabit(ctx context.Context, h model.Habit) error
	InsertCompletion(ctx context.Context, c model.Completion) (bool, error)
	DeleteCompletion(ctx context.Context, habitID model.HabitID, day progress.Day) (bool, error)
	ListCompletions(ctx context.Context, f store.CompletionFilter) ([]model.Completion, error)
}

// Recorder receives activity events. Recording is best effort.
type Recorder interface {
	Record(ctx context.Context, ev model.ActivityEvent)
}

// RewardSource reports XP a user has earned from finished challenges.
type RewardSource interface {
	EarnedRewardXP(ctx context.Context, userID model.UserID, today progress.Day) (int, error)
}

type Service struct {
	repo    Repo
	events  Recorder
	rewards RewardSource
	logger  *zap.Logger

	loc      *time.Location
	window   int
	backfill int
	weights  progress.Weights
	levels   progress.Levels
}

func NewService(repo Repo, cfg config.ProgressConfig, events Recorder, logger *zap.Logger) (*Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("progress time zone: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		events:   events,
		logger:   logger.Named("habit"),
		loc:      loc,
		window:   cfg.StatsWindowDays,
		backfill: cfg.Backfill(),
		weights:  cfg.XP.Weights(),
		levels:   cfg.XP.Levels(),
	}, nil
}

// SetRewardSource wires challenge rewards into XP totals.
func (s *Service) SetRewardSource(r RewardSource) {
	s.rewards = r
}

func (s *Service) Location() *time.Location { return s.loc }
func (s *Service) Window() int { return s.window }
func (s *Service) Weights() progress.Weights { return s.weights }
func (s *Service) Levels() progress.Levels { return s.levels }
func (s *Service) Today(now time.Time) progress.Day { return progress.DayOf(now, s.loc) }

func (s *Service) record(ctx context.Context, ev model.ActivityEvent) {
	if s.events != nil {
		s.events.Record(ctx, ev)
	}
}

type Input struct {
	Title      string `json:"title"`
	Category   string `json:"category"`
	Difficulty string `json:"difficulty"`
	Visibility string `json:"visibility"`
}

func validTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if n := len([]rune(title)); n == 0 || n > 80 {
		return "", ErrInvalidTitle
	}
	return title, nil
}

func parseCategory(c string) (string, error) {
	c = strings.ToLower(strings.TrimSpace(c))
	if c == "" {
		return "other", nil
	}
	if !model.ValidCategory(c) {
		return "", ErrInvalidCategory
	}
	return c, nil
}

func parseVisibility(v string) (visibility.Tier, error) {
	tier, err := visibility.ParseTier(v)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidVisibility, v)
	}
	return tier, nil
}

func (s *Service) Create(ctx context.Context, owner model.User, in Input, now time.Time) (model.Habit, error) {
	title, err := validTitle(in.Title)
	if err != nil {
		return model.Habit{}, err
	}
	category, err := parseCategory(in.Category)
	if err != nil {
		return model.Habit{}, err
	}
	difficulty, ok := model.ParseDifficulty(in.Difficulty)
	if !ok {
		return model.Habit{}, ErrInvalidDifficulty
	}
	tier, err := parseVisibility(in.Visibility)
	if err != nil {
		return model.Habit{}, err
	}
	h := model.Habit{
		ID:         s.repo.NewHabitID(),
		OwnerID:    owner.ID,
		Title:      title,
		Category:   category,
		Difficulty: difficulty,
		Visibility: tier,
		CreatedAt:  now,
	}
	if err := s.repo.CreateHabit(ctx, h); err != nil {
		return model.Habit{}, err
	}
	s.record(ctx, model.ActivityEvent{Type: model.EventHabitCreated, UserID: owner.ID, HabitID: h.ID, At: now})
	return h, nil
}

func (s *Service) List(ctx context.Context, owner model.User, includeArchived bool) ([]model.Habit, error) {
	return s.repo.ListHabits(ctx, []model.UserID{owner.ID}, includeArchived)
}

// Owned loads a habit and checks that owner owns it. Habits of other users
// report ErrNotFound so ids cannot be probed.
func (s *Service) Owned(ctx context.Context, owner model.User, id model.HabitID) (model.Habit, error) {
	h, ok, err := s.repo.GetHabit(ctx, id)
	if err != nil {
		return model.Habit{}, err
	}
	if !ok || h.OwnerID != owner.ID {
		return model.Habit{}, ErrNotFound
	}
	return h, nil
}

// Patch holds optional habit changes.
type Patch struct {
	Title      *string `json:"title"`
	Category   *string `json:"category"`
	Difficulty *string `json:"difficulty"`
	Visibility *string `json:"visibility"`
}

func (s *Service) Update(ctx context.Context, owner model.User, id model.HabitID, p Patch) (model.Habit, error) {
	h, err := s.Owned(ctx, owner, id)
	if err != nil {
		return model.Habit{}, err
	}
	if h.Archived() {
		return model.Habit{}, ErrArchived
	}
	if p.Title != nil {
		if h.Title, err = validTitle(*p.Title); err != nil {
			return model.Habit{}, err
		}
	}
	if p.Category != nil {
		if h.Category, err = parseCategory(*p.Category); err != nil {
			return model.Habit{}, err
		}
	}
	if p.Difficulty != nil {
		d, ok := model.ParseDifficulty(*p.Difficulty)
		if !ok {
			return model.Habit{}, ErrInvalidDifficulty
		}
		h.Difficulty = d
	}
	if p.Visibility != nil {
		if h.Visibility, err = parseVisibility(*p.Visibility); err != nil {
			return model.Habit{}, err
		}
	}
	if err := s.repo.UpdateHabit(ctx, h); err != nil {
		return model.Habit{}, err
	}
	return h, nil
}

// Archive hides a habit from daily use. Its history and XP are kept.
func (s *Service) Archive(ctx context.Context, owner model.User, id model.HabitID, now time.Time) (model.Habit, error) {
	h, err := s.Owned(ctx, owner, id)
	if err != nil {
		return model.Habit{}, err
	}
	if h.Archived() {
		return h, nil
	}
	h.ArchivedAt = &now
	if err := s.repo.UpdateHabit(ctx, h); err != nil {
		return model.Habit{}, err
	}
	return h, nil
}

// resolveDay defaults to today and enforces the backfill window.
func (s *Service) resolveDay(day progress.Day, today progress.Day) (progress.Day, error) {
	if day.IsZero() {
		return today, nil
	}
	if day.After(today) {
		return progress.Day{}, ErrFutureDay
	}
	if today.Sub(day) > s.backfill {
		return progress.Day{}, ErrBeyondBackfill
	}
	return day, nil
}

// LogResult reports what a logged completion changed.
type LogResult struct {
	Completion model.Completion     `json:"completion"`
	Counted    bool                 `json:"counted"`
	Streak     progress.Streak      `json:"streak"`
	XPGained   int                  `json:"xpGained"`
	XP         progress.XPBreakdown `json:"xp"`
	Level      progress.Level       `json:"level"`
	LeveledUp  bool                 `json:"leveledUp"`
}

// LogCompletion records that the habit was done on day, or today when day is
// zero. A second log for the same day is not counted again. A streak milestone
// is recorded whenever the log carries the current streak past a multiple of
// the streak length, including backfills that close a gap.
func (s *Service) LogCompletion(ctx context.Context, owner model.User, id model.HabitID, day progress.Day, now time.Time) (LogResult, error) {
	h, err := s.Owned(ctx, owner, id)
	if err != nil {
		return LogResult{}, err
	}
	if h.Archived() {
		return LogResult{}, ErrArchived
	}
	today := s.Today(now)
	if day, err = s.resolveDay(day, today); err != nil {
		return LogResult{}, err
	}

	before, err := s.UserXP(ctx, owner.ID, today)
	if err != nil {
		return LogResult{}, err
	}

	c := model.Completion{ID: s.repo.NewCompletionID(), HabitID: h.ID, UserID: owner.ID, Day: day, LoggedAt: now}
	counted, err := s.repo.InsertCompletion(ctx, c)
	if err != nil {
		return LogResult{}, err
	}
	metrics.CompletionsLogged.WithLabelValues(metrics.CountedLabel(counted)).Inc()
	if !counted {
		// The stored row for this day keeps its own id.
		c.ID = ""
	}

	set, err := s.CompletionSet(ctx, Scope{HabitID: h.ID}, 0, today)
	if err != nil {
		return LogResult{}, err
	}
	res := LogResult{Completion: c, Counted: counted, Streak: progress.Streaks(set, today), XP: before}
	res.Level = s.levels.Of(before.Total())
	if !counted {
		return res, nil
	}

	after, err := s.UserXP(ctx, owner.ID, today)
	if err != nil {
		return LogResult{}, err
	}
	prevLevel := res.Level
	res.XP = after
	res.XPGained = after.Total() - before.Total()
	res.Level = s.levels.Of(after.Total())
	res.LeveledUp = res.Level.Level > prevLevel.Level

	if res.XPGained > 0 {
		metrics.XPAwarded.Add(float64(res.XPGained))
	}
	s.record(ctx, model.ActivityEvent{
		Type:     model.EventHabitLogged,
		UserID:   owner.ID,
		HabitID:  h.ID,
		Metadata: map[string]any{"day": day.String(), "streak": res.Streak.Current},
		At:       now,
	})
	if crossedMilestone(s.weights.StreakLength, progress.CurrentStreak(without(set, day), today), res.Streak.Current) {
		s.record(ctx, model.ActivityEvent{
			Type:     model.EventStreakMilestone,
			UserID:   owner.ID,
			HabitID:  h.ID,
			Metadata: map[string]any{"streak": res.Streak.Current},
			At:       now,
		})
	}
	if res.LeveledUp {
		metrics.LevelUps.Inc()
		s.record(ctx, model.ActivityEvent{
			Type:     model.EventLevelUp,
			UserID:   owner.ID,
			Metadata: map[string]any{"level": res.Level.Level},
			At:       now,
		})
		s.logger.Info("level up", zap.String("user_id", string(owner.ID)), zap.Int("level", res.Level.Level))
	}
	return res, nil
}

// UndoCompletion removes a completion inside the backfill window.
func (s *Service) UndoCompletion(ctx context.Context, owner model.User, id model.HabitID, day progress.Day, now time.Time) error {
	h, err := s.Owned(ctx, owner, id)
	if err != nil {
		return err
	}
	if day, err = s.resolveDay(day, s.Today(now)); err != nil {
		return err
	}
	removed, err := s.repo.DeleteCompletion(ctx, h.ID, day)
	if err != nil {
		return err
	}
	if !removed {
		return ErrCompletionNotFound
	}
	return nil
}

// Scope selects the completions a set is built from: one habit, or every
// habit of one user.
type Scope struct {
	HabitID model.HabitID
	UserID  model.UserID
}

// CompletionSet builds the distinct completion days for scope inside the
// window ending today. A window <= 0 has no lower bound.
func (s *Service) CompletionSet(ctx context.Context, scope Scope, window int, today progress.Day) (progress.DaySet, error) {
	w := progress.Window{Today: today, Days: window}
	f := store.CompletionFilter{Since: w.From(), Until: today}
	switch {
	case scope.HabitID != "":
		f.HabitIDs = []model.HabitID{scope.HabitID}
	case scope.UserID != "":
		f.UserIDs = []model.UserID{scope.UserID}
	default:
		return nil, errors.New("completion scope needs a habit or a user")
	}
	completions, err := s.repo.ListCompletions(ctx, f)
	if err != nil {
		return nil, err
	}
	days := make([]progress.Day, len(completions))
	for i, c := range completions {
		days[i] = c.Day
	}
	return progress.CollectDays(days, w), nil
}

// Histories loads habits (archived included) and their full completion sets
// for the given users.
func (s *Service) Histories(ctx context.Context, userIDs []model.UserID, today progress.Day) ([]model.Habit, map[model.HabitID]progress.DaySet, error) {
	habits, err := s.repo.ListHabits(ctx, userIDs, true)
	if err != nil {
		return nil, nil, err
	}
	completions, err := s.repo.ListCompletions(ctx, store.CompletionFilter{UserIDs: userIDs, Until: today})
	if err != nil {
		return nil, nil, err
	}
	return habits, Sets(completions), nil
}

// UserXP totals a user's XP from habit history and challenge rewards.
func (s *Service) UserXP(ctx context.Context, userID model.UserID, today progress.Day) (progress.XPBreakdown, error) {
	habits, sets, err := s.Histories(ctx, []model.UserID{userID}, today)
	if err != nil {
		return progress.XPBreakdown{}, err
	}
	xp := XP(habits, sets, today, s.weights)
	if s.rewards != nil {
		reward, err := s.rewards.EarnedRewardXP(ctx, userID, today)
		if err != nil {
			return progress.XPBreakdown{}, fmt.Errorf("challenge rewards: %w", err)
		}
		xp.Challenges = reward
	}
	return xp, nil
}

// History is one habit's days over a lookback window. Stats.Rate covers the
// same window; streaks and totals use every completion.
type History struct {
	Habit model.Habit    `json:"habit"`
	Days  []progress.Day `json:"days"`
	Stats Stats          `json:"stats"`
}

func (s *Service) History(ctx context.Context, owner model.User, id model.HabitID, days int, now time.Time) (History, error) {
	h, err := s.Owned(ctx, owner, id)
	if err != nil {
		return History{}, err
	}
	today := s.Today(now)
	all, err := s.CompletionSet(ctx, Scope{HabitID: h.ID}, 0, today)
	if err != nil {
		return History{}, err
	}
	recent := all.Between(progress.Window{Today: today, Days: days}.From(), today)
	return History{Habit: h, Days: recent.Sorted(), Stats: ComputeStats(all, today, days)}, nil
}

func without(set progress.DaySet, day progress.Day) progress.DaySet {
	out := make(progress.DaySet, len(set))
	for d := range set {
		if d != day {
			out.Add(d)
		}
	}
	return out
}

// crossedMilestone reports whether a streak moving from prev to cur passed a
// multiple of n.
func crossedMilestone(n, prev, cur int) bool {
	return n > 0 && cur/n > prev/n
}
