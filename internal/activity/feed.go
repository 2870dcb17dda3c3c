package activity

import (
	"context"
	"time"

	"go.uber.org/zap"

	"wellnest/internal/group"
	"wellnest/internal/model"
	"wellnest/internal/store"
	"wellnest/internal/visibility"
)

const maxFeedLimit = 200

type FeedRepo interface {
	Repo
	ListHabits(ctx context.Context, ownerIDs []model.UserID, includeArchived bool) ([]model.Habit, error)
	GetUsers(ctx context.Context, ids []model.UserID) (map[model.UserID]model.User, error)
	CountCompletionsSince(ctx context.Context, since time.Time) (int, error)
}

type Groups interface {
	Resolve(ctx context.Context, viewer model.User, id model.GroupID) (group.Access, error)
}

type Service struct {
	repo         FeedRepo
	groups       Groups
	logger       *zap.Logger
	defaultLimit int
}

func NewService(repo FeedRepo, groups Groups, defaultLimit int, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultLimit <= 0 {
		defaultLimit = 50
	}
	return &Service{repo: repo, groups: groups, logger: logger.Named("activity"), defaultLimit: defaultLimit}
}

type Actor struct {
	UserID      model.UserID `json:"userId"`
	DisplayName string       `json:"displayName"`
}

// Item is one feed entry a viewer may see with identity.
type Item struct {
	ID       string          `json:"id"`
	Type     model.EventType `json:"type"`
	Actor    Actor           `json:"actor"`
	HabitID  model.HabitID   `json:"habitId,omitempty"`
	Habit    string          `json:"habit,omitempty"`
	Category string          `json:"category,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
	At       time.Time       `json:"at"`
}

type Feed struct {
	Items []Item `json:"items"`
	// AnonymousCount counts events the viewer may only know happened.
	AnonymousCount int `json:"anonymousCount"`
}

// GroupFeed returns a group's recent activity filtered for viewer. Events
// about a habit follow the habit's visibility tier; events without a habit
// are shown to everyone in the group.
func (s *Service) GroupFeed(ctx context.Context, viewer model.User, groupID model.GroupID, limit int) (Feed, error) {
	access, err := s.groups.Resolve(ctx, viewer, groupID)
	if err != nil {
		return Feed{}, err
	}
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if limit > maxFeedLimit {
		limit = maxFeedLimit
	}
	events, err := s.repo.ListEvents(ctx, store.EventFilter{GroupID: groupID, Limit: limit})
	if err != nil {
		return Feed{}, err
	}
	feed := Feed{Items: []Item{}}
	if len(events) == 0 {
		return feed, nil
	}

	seen := map[model.UserID]bool{}
	var actorIDs []model.UserID
	for _, ev := range events {
		if !seen[ev.UserID] {
			seen[ev.UserID] = true
			actorIDs = append(actorIDs, ev.UserID)
		}
	}
	users, err := s.repo.GetUsers(ctx, actorIDs)
	if err != nil {
		return Feed{}, err
	}
	habits, err := s.repo.ListHabits(ctx, actorIDs, true)
	if err != nil {
		return Feed{}, err
	}
	byID := make(map[model.HabitID]model.Habit, len(habits))
	for _, h := range habits {
		byID[h.ID] = h
	}

	for _, ev := range events {
		item := Item{
			ID:       ev.ID,
			Type:     ev.Type,
			Actor:    Actor{UserID: ev.UserID, DisplayName: users[ev.UserID].Name()},
			Metadata: ev.Metadata,
			At:       ev.At,
		}
		if ev.HabitID == "" {
			feed.Items = append(feed.Items, item)
			continue
		}
		h, ok := byID[ev.HabitID]
		if !ok {
			continue
		}
		rel := visibility.InGroup(string(viewer.ID), string(ev.UserID), access.Owner)
		e := visibility.Decide(h.Visibility, rel)
		switch {
		case e.ShowDetail:
			item.HabitID = h.ID
			item.Habit = h.Title
			item.Category = h.Category
			feed.Items = append(feed.Items, item)
		case e.CountInAggregate:
			feed.AnonymousCount++
		}
	}
	return feed, nil
}

