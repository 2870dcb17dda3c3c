package visibility

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecide_Matrix(t *testing.T) {
	tiers := []Tier{PublicToClass, AnonymisedOnly, PrivateToPeers}

	for _, tier := range tiers {
		assert.Equal(t, full, Decide(tier, Self), "self sees %s", tier)
		assert.Equal(t, full, Decide(tier, Teacher), "teacher sees %s", tier)
		assert.Equal(t, none, Decide(tier, Stranger), "stranger sees nothing of %s", tier)
	}

	assert.Equal(t, full, Decide(PublicToClass, Classmate))
	assert.Equal(t, Exposure{CountInAggregate: true}, Decide(AnonymisedOnly, Classmate))
	assert.False(t, Decide(PrivateToPeers, Classmate).Visible())
}

func TestRelate(t *testing.T) {
	teacher := NewTies([]string{"g1"}, nil)
	peer := NewTies(nil, []string{"g1", "g2"})
	outsider := NewTies(nil, []string{"g9"})

	assert.Equal(t, Self, Relate("u1", "u1", peer, []string{"g1"}))
	assert.Equal(t, Teacher, Relate("t1", "u1", teacher, []string{"g2", "g1"}))
	assert.Equal(t, Classmate, Relate("u2", "u1", peer, []string{"g2"}))
	assert.Equal(t, Stranger, Relate("u3", "u1", outsider, []string{"g1", "g2"}))
	assert.Equal(t, Stranger, Relate("", "", Ties{}, nil))
}

func TestRelate_TeacherOutranksClassmate(t *testing.T) {
	both := NewTies([]string{"g2"}, []string{"g1"})
	assert.Equal(t, Teacher, Relate("x", "u1", both, []string{"g1", "g2"}))
}

func TestInGroup(t *testing.T) {
	assert.Equal(t, Self, InGroup("u1", "u1", false))
	assert.Equal(t, Self, InGroup("t1", "t1", true), "owners looking at themselves stay self")
	assert.Equal(t, Teacher, InGroup("t1", "u1", true))
	assert.Equal(t, Classmate, InGroup("u2", "u1", false))
	assert.Equal(t, Classmate, InGroup("", "", false))
}

func TestParseTier(t *testing.T) {
	got, err := ParseTier("anonymised_only")
	require.NoError(t, err)
	assert.Equal(t, AnonymisedOnly, got)

	got, err = ParseTier("")
	require.NoError(t, err)
	assert.Equal(t, PublicToClass, got)

	_, err = ParseTier("friends")
	assert.ErrorIs(t, err, ErrUnknownTier)
}

type habitStub struct {
	name string
	tier Tier
}

func (h habitStub) VisibilityTier() Tier { return h.tier }

func TestSplit(t *testing.T) {
	items := []habitStub{
		{name: "sleep", tier: PublicToClass},
		{name: "journal", tier: AnonymisedOnly},
		{name: "therapy", tier: PrivateToPeers},
	}

	detailed, agg := Split(items, Classmate)
	require.Len(t, detailed, 1)
	assert.Equal(t, "sleep", detailed[0].name)
	require.Len(t, agg, 1)
	assert.Equal(t, "journal", agg[0].name)

	detailed, agg = Split(items, Teacher)
	assert.Len(t, detailed, 3)
	assert.Empty(t, agg)

	detailed, agg = Split(items, Stranger)
	assert.Empty(t, detailed)
	assert.Empty(t, agg)
}
