// Package challenge runs group challenges: a teacher sets a target number of
// active days for a category and members earn reward XP by reaching it.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"wellnest/internal/group"
	"wellnest/internal/habit"
	"wellnest/internal/model"
	"wellnest/internal/progress"
	"wellnest/internal/store"
	"wellnest/internal/visibility"
)

const (
	maxLengthDays = 366
	maxRewardXP   = 1000
)

var (
	ErrNotFound      = errors.New("challenge not found")
	ErrInvalidTitle  = errors.New("title must be 1-80 characters")
	ErrInvalidTarget = errors.New("target days must fit inside the challenge")
	ErrInvalidDates  = errors.New("challenge dates are invalid")
	ErrInvalidReward = errors.New("reward xp must be between 0 and 1000")
	ErrCategory      = errors.New("unknown category")
)

type Repo interface {
	NewChallengeID() model.ChallengeID
	CreateChallenge(ctx context.Context, c model.Challenge) error
	GetChallenge(ctx context.Context, id model.ChallengeID) (model.Challenge, bool, error)
	ListChallenges(ctx context.Context, groupIDs []model.GroupID) ([]model.Challenge, error)
	ListMembers(ctx context.Context, groupID model.GroupID) ([]model.Member, error)
	GroupIDsForMember(ctx context.Context, userID model.UserID) ([]model.GroupID, error)
	ListHabits(ctx context.Context, ownerIDs []model.UserID, includeArchived bool) ([]model.Habit, error)
	ListCompletions(ctx context.Context, f store.CompletionFilter) ([]model.Completion, error)
}

// Groups checks a viewer's access to a group.
type Groups interface {
	Resolve(ctx context.Context, viewer model.User, id model.GroupID) (group.Access, error)
}

// Calendar maps instants to school days.
type Calendar interface {
	Today(now time.Time) progress.Day
}

type Recorder interface {
	Record(ctx context.Context, ev model.ActivityEvent)
}

type Service struct {
	repo     Repo
	groups   Groups
	calendar Calendar
	events   Recorder
	logger   *zap.Logger
}

func NewService(repo Repo, groups Groups, calendar Calendar, events Recorder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		groups:   groups,
		calendar: calendar,
		events:   events,
		logger:   logger.Named("challenge"),
	}
}

// Input describes a new challenge. A zero StartDay means today.
type Input struct {
	Title      string       `json:"title"`
	Category   string       `json:"category"`
	TargetDays int          `json:"targetDays"`
	StartDay   progress.Day `json:"startDay"`
	EndDay     progress.Day `json:"endDay"`
	RewardXP   int          `json:"rewardXp"`
}

func (in Input) validate(today progress.Day) (model.Challenge, error) {
	title := strings.TrimSpace(in.Title)
	if n := len([]rune(title)); n == 0 || n > 80 {
		return model.Challenge{}, ErrInvalidTitle
	}
	category := strings.ToLower(strings.TrimSpace(in.Category))
	if category != "" && !model.ValidCategory(category) {
		return model.Challenge{}, ErrCategory
	}
	c := model.Challenge{
		Title:      title,
		Category:   category,
		TargetDays: in.TargetDays,
		StartDay:   in.StartDay,
		EndDay:     in.EndDay,
		RewardXP:   in.RewardXP,
	}
	if c.StartDay.IsZero() {
		c.StartDay = today
	}
	if c.EndDay.IsZero() || c.EndDay.Before(c.StartDay) || c.EndDay.Before(today) {
		return model.Challenge{}, fmt.Errorf("%w: end day must be on or after the start day and today", ErrInvalidDates)
	}
	if c.Length() > maxLengthDays {
		return model.Challenge{}, fmt.Errorf("%w: longer than %d days", ErrInvalidDates, maxLengthDays)
	}
	if c.TargetDays < 1 || c.TargetDays > c.Length() {
		return model.Challenge{}, ErrInvalidTarget
	}
	if c.RewardXP < 0 || c.RewardXP > maxRewardXP {
		return model.Challenge{}, ErrInvalidReward
	}
	return c, nil
}

// Create sets a challenge for a group the teacher owns.
func (s *Service) Create(ctx context.Context, teacher model.User, groupID model.GroupID, in Input, now time.Time) (model.Challenge, error) {
	access, err := s.groups.Resolve(ctx, teacher, groupID)
	if err != nil {
		return model.Challenge{}, err
	}
	if !access.Owner {
		return model.Challenge{}, group.ErrForbidden
	}
	if access.Group.Archived() {
		return model.Challenge{}, group.ErrArchived
	}
	c, err := in.validate(s.calendar.Today(now))
	if err != nil {
		return model.Challenge{}, err
	}
	c.ID = s.repo.NewChallengeID()
	c.GroupID = groupID
	c.CreatedBy = teacher.ID
	c.CreatedAt = now
	if err := s.repo.CreateChallenge(ctx, c); err != nil {
		return model.Challenge{}, err
	}
	if s.events != nil {
		s.events.Record(ctx, model.ActivityEvent{
			Type:     model.EventChallengeSet,
			UserID:   teacher.ID,
			GroupID:  groupID,
			Metadata: map[string]any{"challengeId": string(c.ID), "title": c.Title},
			At:       now,
		})
	}
	s.logger.Info("challenge created",
		zap.String("challenge_id", string(c.ID)),
		zap.String("group_id", string(groupID)),
		zap.Int("target_days", c.TargetDays),
	)
	return c, nil
}

// Row is one member's visible progress on a board.
type Row struct {
	UserID      model.UserID `json:"userId"`
	DisplayName string       `json:"displayName"`
	Days        int          `json:"days"`
	Completed   bool         `json:"completed"`
}

// Board is a challenge as one viewer may see it.
type Board struct {
	Challenge model.Challenge       `json:"challenge"`
	Status    model.ChallengeStatus `json:"status"`
	Rows      []Row                 `json:"rows"`
	// GroupDays sums member-days from every contribution the viewer may count,
	// including ones shown without identity.
	GroupDays int `json:"groupDays"`
	// AnonymousContributors counts members whose days are only in GroupDays.
	AnonymousContributors int `json:"anonymousContributors"`
}

// Boards lists a group's challenges with member progress filtered for viewer.
func (s *Service) Boards(ctx context.Context, viewer model.User, groupID model.GroupID, now time.Time) ([]Board, error) {
	access, err := s.groups.Resolve(ctx, viewer, groupID)
	if err != nil {
		return nil, err
	}
	challenges, err := s.repo.ListChallenges(ctx, []model.GroupID{groupID})
	if err != nil {
		return nil, err
	}
	return s.boards(ctx, access, viewer, challenges, now)
}

// Get returns one challenge board for a member or owner of its group. Anyone
// else gets ErrNotFound.
func (s *Service) Get(ctx context.Context, viewer model.User, id model.ChallengeID, now time.Time) (Board, error) {
	c, ok, err := s.repo.GetChallenge(ctx, id)
	if err != nil {
		return Board{}, err
	}
	if !ok {
		return Board{}, ErrNotFound
	}
	access, err := s.groups.Resolve(ctx, viewer, c.GroupID)
	if err != nil {
		if errors.Is(err, group.ErrForbidden) {
			return Board{}, ErrNotFound
		}
		return Board{}, err
	}
	boards, err := s.boards(ctx, access, viewer, []model.Challenge{c}, now)
	if err != nil {
		return Board{}, err
	}
	return boards[0], nil
}

// boards builds one board per challenge, all from the same group.
func (s *Service) boards(ctx context.Context, access group.Access, viewer model.User, challenges []model.Challenge, now time.Time) ([]Board, error) {
	boards := make([]Board, 0, len(challenges))
	if len(challenges) == 0 {
		return boards, nil
	}
	today := s.calendar.Today(now)

	members, err := s.repo.ListMembers(ctx, access.Group.ID)
	if err != nil {
		return nil, err
	}
	ids := make([]model.UserID, len(members))
	for i, m := range members {
		ids[i] = m.User.ID
	}
	habits, completions, err := s.history(ctx, ids, challenges, today)
	if err != nil {
		return nil, err
	}
	byOwner := map[model.UserID][]model.Habit{}
	for _, h := range habits {
		byOwner[h.OwnerID] = append(byOwner[h.OwnerID], h)
	}
	sets := habit.Sets(completions)

	for _, c := range challenges {
		boards = append(boards, board(c, access, viewer, members, byOwner, sets, today))
	}
	return boards, nil
}

func board(c model.Challenge, access group.Access, viewer model.User, members []model.Member,
	byOwner map[model.UserID][]model.Habit, sets map[model.HabitID]progress.DaySet, today progress.Day) Board {
	b := Board{Challenge: c, Status: c.StatusOn(today), Rows: []Row{}}
	if b.Status == model.ChallengeUpcoming {
		return b
	}
	for _, m := range members {
		rel := visibility.InGroup(string(viewer.ID), string(m.User.ID), access.Owner)
		detailed, aggregate := visibility.Split(matching(c, byOwner[m.User.ID]), rel)
		visible := Progress(c, detailed, sets, today)
		counted := Progress(c, append(detailed, aggregate...), sets, today)
		b.GroupDays += counted
		if len(detailed) > 0 {
			b.Rows = append(b.Rows, Row{
				UserID:      m.User.ID,
				DisplayName: m.User.Name(),
				Days:        visible,
				Completed:   visible >= c.TargetDays,
			})
		} else if counted > 0 {
			b.AnonymousContributors++
		}
	}
	sort.SliceStable(b.Rows, func(i, j int) bool {
		if b.Rows[i].Days != b.Rows[j].Days {
			return b.Rows[i].Days > b.Rows[j].Days
		}
		return b.Rows[i].DisplayName < b.Rows[j].DisplayName
	})
	return b
}

func matching(c model.Challenge, habits []model.Habit) []model.Habit {
	var out []model.Habit
	for _, h := range habits {
		if c.Matches(h) {
			out = append(out, h)
		}
	}
	return out
}

// Progress counts the distinct days inside [start, min(end, today)] on which
// any of habits was completed.
func Progress(c model.Challenge, habits []model.Habit, sets map[model.HabitID]progress.DaySet, today progress.Day) int {
	if today.Before(c.StartDay) {
		return 0
	}
	end := c.EndDay
	if today.Before(end) {
		end = today
	}
	return habit.Union(sets, habits).Between(c.StartDay, end).Len()
}

// history loads habits and the completions that can fall inside any of the
// challenges.
func (s *Service) history(ctx context.Context, userIDs []model.UserID, challenges []model.Challenge, today progress.Day) ([]model.Habit, []model.Completion, error) {
	if len(userIDs) == 0 {
		return nil, nil, nil
	}
	habits, err := s.repo.ListHabits(ctx, userIDs, true)
	if err != nil {
		return nil, nil, err
	}
	since := challenges[0].StartDay
	for _, c := range challenges[1:] {
		if c.StartDay.Before(since) {
			since = c.StartDay
		}
	}
	completions, err := s.repo.ListCompletions(ctx, store.CompletionFilter{UserIDs: userIDs, Since: since, Until: today})
	if err != nil {
		return nil, nil, err
	}
	return habits, completions, nil
}

// EarnedRewardXP sums the rewards of challenges the user has completed in the
// groups they belong to. Archived habits still count.
func (s *Service) EarnedRewardXP(ctx context.Context, userID model.UserID, today progress.Day) (int, error) {
	groupIDs, err := s.repo.GroupIDsForMember(ctx, userID)
	if err != nil {
		return 0, err
	}
	challenges, err := s.repo.ListChallenges(ctx, groupIDs)
	if err != nil {
		return 0, err
	}
	started := challenges[:0:0]
	for _, c := range challenges {
		if c.StatusOn(today) != model.ChallengeUpcoming {
			started = append(started, c)
		}
	}
	if len(started) == 0 {
		return 0, nil
	}
	habits, completions, err := s.history(ctx, []model.UserID{userID}, started, today)
	if err != nil {
		return 0, err
	}
	sets := habit.Sets(completions)
	total := 0
	for _, c := range started {
		if Progress(c, matching(c, habits), sets, today) >= c.TargetDays {
			total += c.RewardXP
		}
	}
	return total, nil
}
