// Package group manages class groups, their join codes and memberships.
package group

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"wellnest/internal/metrics"
	"wellnest/internal/model"
	"wellnest/internal/visibility"
)

var (
	ErrNotFound      = errors.New("group not found")
	ErrForbidden     = errors.New("not allowed for this group")
	ErrInvalidName   = errors.New("group name must be 1-60 characters")
	ErrInvalidCode   = errors.New("join code is invalid")
	ErrArchived      = errors.New("group is archived")
	ErrTeacherOnly   = errors.New("teacher account required")
	ErrStudentOnly   = errors.New("only students can join groups")
	ErrNotMember     = errors.New("not a member of this group")
	ErrCodeExhausted = errors.New("could not allocate a unique join code")
)

// CodeAlphabet omits characters that are easy to confuse when read aloud
// or copied from a board: 0/O, 1/I/L.
const CodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const CodeLength = 8

type Repo interface {
	NewGroupID() model.GroupID
	CreateGroup(ctx context.Context, g model.Group) error
	GetGroup(ctx context.Context, id model.GroupID) (model.Group, bool, error)
	GetGroupByJoinCode(ctx context.Context, code string) (model.Group, bool, error)
	ListGroupsTaughtBy(ctx context.Context, teacherID model.UserID) ([]model.Group, error)
	ListGroupsForMember(ctx context.Context, userID model.UserID) ([]model.Group, error)
	SetJoinCode(ctx context.Context, id model.GroupID, code string) error
	ArchiveGroup(ctx context.Context, id model.GroupID, at time.Time) error
	AddMember(ctx context.Context, m model.Membership) (bool, error)
	RemoveMember(ctx context.Context, groupID model.GroupID, userID model.UserID) (bool, error)
	IsMember(ctx context.Context, groupID model.GroupID, userID model.UserID) (bool, error)
	ListMembers(ctx context.Context, groupID model.GroupID) ([]model.Member, error)
	GroupIDsForMember(ctx context.Context, userID model.UserID) ([]model.GroupID, error)
	GroupIDsTaughtBy(ctx context.Context, teacherID model.UserID) ([]model.GroupID, error)
}

// Recorder receives activity events. Recording is best effort.
type Recorder interface {
	Record(ctx context.Context, ev model.ActivityEvent)
}

type Service struct {
	repo   Repo
	events Recorder
	logger *zap.Logger

	// newCode is swapped in tests to force collisions.
	newCode func() (string, error)
}

func NewService(repo Repo, events Recorder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:    repo,
		events:  events,
		logger:  logger.Named("group"),
		newCode: generateCode,
	}
}

func generateCode() (string, error) {
	var b strings.Builder
	limit := big.NewInt(int64(len(CodeAlphabet)))
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(CodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeCode uppercases a typed code and drops spaces and dashes.
func NormalizeCode(code string) string {
	code = strings.ToUpper(code)
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' || r == '\t' {
			return -1
		}
		return r
	}, code)
}

func validCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(CodeAlphabet, rune(code[i])) {
			return false
		}
	}
	return true
}

func (s *Service) uniqueCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return "", err
		}
		_, taken, err := s.repo.GetGroupByJoinCode(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
		s.logger.Debug("join code collision", zap.Int("attempt", attempt+1))
	}
	return "", ErrCodeExhausted
}

func (s *Service) record(ctx context.Context, ev model.ActivityEvent) {
	if s.events != nil {
		s.events.Record(ctx, ev)
	}
}

// Create opens a new group owned by teacher.
func (s *Service) Create(ctx context.Context, teacher model.User, name string, now time.Time) (model.Group, error) {
	if !teacher.IsTeacher() {
		return model.Group{}, ErrTeacherOnly
	}
	name = strings.TrimSpace(name)
	if n := len([]rune(name)); n == 0 || n > 60 {
		return model.Group{}, ErrInvalidName
	}
	code, err := s.uniqueCode(ctx)
	if err != nil {
		return model.Group{}, err
	}
	g := model.Group{
		ID:        s.repo.NewGroupID(),
		Name:      name,
		TeacherID: teacher.ID,
		JoinCode:  code,
		CreatedAt: now,
	}
	if err := s.repo.CreateGroup(ctx, g); err != nil {
		return model.Group{}, err
	}
	s.logger.Info("group created", zap.String("group_id", string(g.ID)), zap.String("teacher_id", string(teacher.ID)))
	return g, nil
}

// List returns the groups viewer teaches followed by the groups viewer
// belongs to. Join codes are only shown to the owning teacher.
func (s *Service) List(ctx context.Context, viewer model.User) ([]model.Group, error) {
	out := []model.Group{}
	if viewer.IsTeacher() {
		taught, err := s.repo.ListGroupsTaughtBy(ctx, viewer.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, taught...)
	}
	joined, err := s.repo.ListGroupsForMember(ctx, viewer.ID)
	if err != nil {
		return nil, err
	}
	for _, g := range joined {
		out = append(out, redact(g, viewer))
	}
	return out, nil
}

func redact(g model.Group, viewer model.User) model.Group {
	if g.TeacherID != viewer.ID {
		g.JoinCode = ""
	}
	return g
}

// Join adds student to the group with the given code. It reports false when
// the student was already a member.
func (s *Service) Join(ctx context.Context, student model.User, code string, now time.Time) (model.Group, bool, error) {
	if student.IsTeacher() {
		return model.Group{}, false, ErrStudentOnly
	}
	code = NormalizeCode(code)
	if !validCode(code) {
		return model.Group{}, false, ErrInvalidCode
	}
	g, ok, err := s.repo.GetGroupByJoinCode(ctx, code)
	if err != nil {
		return model.Group{}, false, err
	}
	if !ok || g.Archived() {
		return model.Group{}, false, ErrNotFound
	}
	added, err := s.repo.AddMember(ctx, model.Membership{GroupID: g.ID, UserID: student.ID, JoinedAt: now})
	if err != nil {
		return model.Group{}, false, err
	}
	if added {
		metrics.GroupJoins.Inc()
		s.record(ctx, model.ActivityEvent{
			Type:    model.EventGroupJoined,
			UserID:  student.ID,
			GroupID: g.ID,
			At:      now,
		})
	}
	return redact(g, student), added, nil
}

func (s *Service) Leave(ctx context.Context, student model.User, groupID model.GroupID) error {
	removed, err := s.repo.RemoveMember(ctx, groupID, student.ID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotMember
	}
	return nil
}

func (s *Service) owned(ctx context.Context, teacher model.User, id model.GroupID) (model.Group, error) {
	g, ok, err := s.repo.GetGroup(ctx, id)
	if err != nil {
		return model.Group{}, err
	}
	if !ok {
		return model.Group{}, ErrNotFound
	}
	if g.TeacherID != teacher.ID {
		return model.Group{}, ErrForbidden
	}
	return g, nil
}

// RotateCode replaces the join code, invalidating the old one.
func (s *Service) RotateCode(ctx context.Context, teacher model.User, id model.GroupID) (model.Group, error) {
	g, err := s.owned(ctx, teacher, id)
	if err != nil {
		return model.Group{}, err
	}
	if g.Archived() {
		return model.Group{}, ErrArchived
	}
	code, err := s.uniqueCode(ctx)
	if err != nil {
		return model.Group{}, err
	}
	if err := s.repo.SetJoinCode(ctx, id, code); err != nil {
		return model.Group{}, err
	}
	g.JoinCode = code
	return g, nil
}

func (s *Service) Archive(ctx context.Context, teacher model.User, id model.GroupID, now time.Time) (model.Group, error) {
	g, err := s.owned(ctx, teacher, id)
	if err != nil {
		return model.Group{}, err
	}
	if g.Archived() {
		return g, nil
	}
	if err := s.repo.ArchiveGroup(ctx, id, now); err != nil {
		return model.Group{}, err
	}
	g.ArchivedAt = &now
	return g, nil
}

// Access is a viewer's standing in one group.
type Access struct {
	Group  model.Group
	Owner  bool
	Member bool
}

// Resolve loads a group and checks that viewer teaches or belongs to it.
func (s *Service) Resolve(ctx context.Context, viewer model.User, id model.GroupID) (Access, error) {
	g, ok, err := s.repo.GetGroup(ctx, id)
	if err != nil {
		return Access{}, err
	}
	if !ok {
		return Access{}, ErrNotFound
	}
	a := Access{Group: redact(g, viewer), Owner: g.TeacherID == viewer.ID}
	if !a.Owner {
		if a.Member, err = s.repo.IsMember(ctx, id, viewer.ID); err != nil {
			return Access{}, err
		}
		if !a.Member {
			return Access{}, ErrForbidden
		}
	}
	return a, nil
}

// Members lists the group's students for its teacher or members.
func (s *Service) Members(ctx context.Context, viewer model.User, id model.GroupID) ([]model.Member, error) {
	if _, err := s.Resolve(ctx, viewer, id); err != nil {
		return nil, err
	}
	return s.repo.ListMembers(ctx, id)
}

// Ties collects the group relationships visibility decisions need.
func (s *Service) Ties(ctx context.Context, viewer model.User) (visibility.Ties, error) {
	var taught []model.GroupID
	if viewer.IsTeacher() {
		var err error
		if taught, err = s.repo.GroupIDsTaughtBy(ctx, viewer.ID); err != nil {
			return visibility.Ties{}, fmt.Errorf("groups taught: %w", err)
		}
	}
	joined, err := s.repo.GroupIDsForMember(ctx, viewer.ID)
	if err != nil {
		return visibility.Ties{}, fmt.Errorf("groups joined: %w", err)
	}
	return visibility.NewTies(GroupIDStrings(taught), GroupIDStrings(joined)), nil
}

// GroupsOf returns the ids of the groups user belongs to as a member.
func (s *Service) GroupsOf(ctx context.Context, userID model.UserID) ([]string, error) {
	ids, err := s.repo.GroupIDsForMember(ctx, userID)
	if err != nil {
		return nil, err
	}
	return GroupIDStrings(ids), nil
}

func GroupIDStrings(ids []model.GroupID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
