// Package visibility decides what a viewer may learn about another user's
// habits from the habit's visibility tier and the viewer's relationship to
// its owner.
package visibility

import (
	"errors"
	"strings"
)

type Tier string

const (
	PublicToClass  Tier = "PUBLIC_TO_CLASS"
	AnonymisedOnly Tier = "ANONYMISED_ONLY"
	PrivateToPeers Tier = "PRIVATE_TO_PEERS"
)

var ErrUnknownTier = errors.New("unknown visibility tier")

// ParseTier accepts the canonical names case-insensitively. Empty means the
// default tier, PublicToClass.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToUpper(strings.TrimSpace(s))) {
	case "", PublicToClass:
		return PublicToClass, nil
	case AnonymisedOnly:
		return AnonymisedOnly, nil
	case PrivateToPeers:
		return PrivateToPeers, nil
	default:
		return "", ErrUnknownTier
	}
}

func (t Tier) Valid() bool {
	switch t {
	case PublicToClass, AnonymisedOnly, PrivateToPeers:
		return true
	}
	return false
}

type Relationship string

const (
	Self      Relationship = "self"
	Teacher   Relationship = "teacher"
	Classmate Relationship = "classmate"
	Stranger  Relationship = "stranger"
)

// Exposure is what a single viewer may see of one habit.
type Exposure struct {
	// ShowIdentity allows the owner's name next to the habit.
	ShowIdentity bool `json:"showIdentity"`
	// ShowDetail allows the habit's title and per-day records.
	ShowDetail bool `json:"showDetail"`
	// CountInAggregate allows the habit's completions in group totals.
	CountInAggregate bool `json:"countInAggregate"`
}

var (
	full      = Exposure{ShowIdentity: true, ShowDetail: true, CountInAggregate: true}
	aggregate = Exposure{CountInAggregate: true}
	none      = Exposure{}
)

// Decide maps a tier and relationship to an exposure. Owners and their
// teachers always see everything; strangers never see anything.
func Decide(tier Tier, rel Relationship) Exposure {
	switch rel {
	case Self, Teacher:
		return full
	case Classmate:
		switch tier {
		case PublicToClass:
			return full
		case AnonymisedOnly:
			return aggregate
		default:
			return none
		}
	default:
		return none
	}
}

func (e Exposure) Visible() bool {
	return e.ShowIdentity || e.ShowDetail || e.CountInAggregate
}

// Ties describes the viewer's group relationships.
type Ties struct {
	// Teaches holds ids of groups the viewer owns as teacher.
	Teaches map[string]bool
	// MemberOf holds ids of groups the viewer has joined.
	MemberOf map[string]bool
}

func NewTies(teaches, memberOf []string) Ties {
	t := Ties{Teaches: map[string]bool{}, MemberOf: map[string]bool{}}
	for _, id := range teaches {
		t.Teaches[id] = true
	}
	for _, id := range memberOf {
		t.MemberOf[id] = true
	}
	return t
}

// Relate resolves how viewer relates to owner given the groups owner belongs
// to. Teaching one of owner's groups outranks sharing one as a classmate.
func Relate(viewerID, ownerID string, viewer Ties, ownerGroups []string) Relationship {
	if viewerID != "" && viewerID == ownerID {
		return Self
	}
	classmate := false
	for _, g := range ownerGroups {
		if viewer.Teaches[g] {
			return Teacher
		}
		if viewer.MemberOf[g] {
			classmate = true
		}
	}
	if classmate {
		return Classmate
	}
	return Stranger
}

// InGroup resolves the relationship inside a single group the viewer already
// belongs to or owns. Other members are classmates unless the viewer owns it.
func InGroup(viewerID, ownerID string, viewerOwnsGroup bool) Relationship {
	switch {
	case viewerID != "" && viewerID == ownerID:
		return Self
	case viewerOwnsGroup:
		return Teacher
	default:
		return Classmate
	}
}

// Item is anything owned by a user under a visibility tier.
type Item interface {
	VisibilityTier() Tier
}

// Split partitions items for a viewer: detailed items may be listed with
// identity, aggregate items only feed totals. Hidden items are dropped.
func Split[T Item](items []T, rel Relationship) (detailed, aggregateOnly []T) {
	for _, it := range items {
		e := Decide(it.VisibilityTier(), rel)
		switch {
		case e.ShowDetail:
			detailed = append(detailed, it)
		case e.CountInAggregate:
			aggregateOnly = append(aggregateOnly, it)
		}
	}
	return detailed, aggregateOnly
}
