package coupon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_Empty(t *testing.T) {
	got, rej := Resolve(nil)
	assert.Nil(t, rej)
	assert.Empty(t, got)
}

func TestResolve_SingleNonStackable(t *testing.T) {
	c := baseCoupon("SOLO")
	c.Stackable = false

	got, rej := Resolve([]*Coupon{c})
	require.Nil(t, rej)
	require.Len(t, got, 1)
	assert.Equal(t, "SOLO", got[0].Code)
}

func TestResolve_NonStackableConflict(t *testing.T) {
	a := baseCoupon("A")
	b := baseCoupon("B")
	b.Stackable = false

	got, rej := Resolve([]*Coupon{a, b})
	require.NotNil(t, rej)
	assert.Equal(t, ReasonNonStackableConflict, rej.Reason)
	assert.Equal(t, "B", rej.Code)
	assert.Nil(t, got)
}

func TestResolve_StackGroupKeepsBestPriority(t *testing.T) {
	a := baseCoupon("SUMMER1")
	a.StackGroup = ptr("SUMMER")
	a.Priority = 1
	b := baseCoupon("SUMMER2")
	b.StackGroup = ptr("SUMMER")
	b.Priority = 2

	got, rej := Resolve([]*Coupon{b, a})
	require.Nil(t, rej)
	require.Len(t, got, 1)
	assert.Equal(t, "SUMMER1", got[0].Code)
}

func TestResolve_StackGroupTieBreaks(t *testing.T) {
	// Same priority: the larger discount value wins.
	a := baseCoupon("TEN")
	a.StackGroup = ptr("G")
	a.Value = d("10")
	b := baseCoupon("TWENTY")
	b.StackGroup = ptr("G")
	b.Value = d("20")

	got, rej := Resolve([]*Coupon{a, b})
	require.Nil(t, rej)
	require.Len(t, got, 1)
	assert.Equal(t, "TWENTY", got[0].Code)

	// Same priority and value: the earlier creation time wins.
	older := baseCoupon("OLD")
	older.StackGroup = ptr("G")
	older.CreatedAt = testNow.Add(-48 * time.Hour)
	newer := baseCoupon("NEW")
	newer.StackGroup = ptr("G")
	newer.CreatedAt = testNow.Add(-1 * time.Hour)

	got, rej = Resolve([]*Coupon{newer, older})
	require.Nil(t, rej)
	require.Len(t, got, 1)
	assert.Equal(t, "OLD", got[0].Code)
}

func TestResolve_NilGroupsNeverExclude(t *testing.T) {
	a := baseCoupon("A")
	b := baseCoupon("B")
	c := baseCoupon("C")

	got, rej := Resolve([]*Coupon{c, a, b})
	require.Nil(t, rej)
	assert.Len(t, got, 3)
}

func TestResolve_OrdersByPriorityThenCode(t *testing.T) {
	a := baseCoupon("ZETA")
	a.Priority = 1
	b := baseCoupon("ALPHA")
	b.Priority = 2
	c := baseCoupon("BETA")
	c.Priority = 2

	got, rej := Resolve([]*Coupon{c, b, a})
	require.Nil(t, rej)
	require.Len(t, got, 3)
	assert.Equal(t, "ZETA", got[0].Code)
	assert.Equal(t, "ALPHA", got[1].Code)
	assert.Equal(t, "BETA", got[2].Code)
}

func TestResolve_MixedGroupsAndSingles(t *testing.T) {
	free := baseCoupon("FREESHIP")
	free.Priority = 2
	s1 := baseCoupon("SUMMER1")
	s1.StackGroup = ptr("SUMMER")
	s1.Priority = 3
	s2 := baseCoupon("SUMMER2")
	s2.StackGroup = ptr("SUMMER")
	s2.Priority = 5
	loyal := baseCoupon("LOYAL")
	loyal.StackGroup = ptr("LOYALTY")
	loyal.Priority = 1

	got, rej := Resolve([]*Coupon{s2, free, loyal, s1})
	require.Nil(t, rej)
	require.Len(t, got, 3)

	// One per group is an invariant, not just a preference.
	groups := make(map[string]int)
	for _, c := range got {
		if c.StackGroup != nil {
			groups[*c.StackGroup]++
		}
	}
	for g, n := range groups {
		assert.Equal(t, 1, n, "group %s", g)
	}

	assert.Equal(t, "LOYAL", got[0].Code)
	assert.Equal(t, "FREESHIP", got[1].Code)
	assert.Equal(t, "SUMMER1", got[2].Code)
}
