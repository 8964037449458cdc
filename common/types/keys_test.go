package types_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rangekv/go-rangekv/common/types"
)

func TestRightBoundOrdering(t *testing.T) {
	a := types.BoundAt(types.Key("a"))
	b := types.BoundAt(types.Key("b"))
	inf := types.Unbounded()

	require.Negative(t, a.Compare(b))
	require.Positive(t, b.Compare(a))
	require.Zero(t, a.Compare(types.BoundAt(types.Key("a"))))
	require.Positive(t, inf.Compare(b))
	require.Negative(t, b.Compare(inf))
	require.Zero(t, inf.Compare(types.Unbounded()))
}

func TestRightBoundCompareKey(t *testing.T) {
	b := types.BoundAt(types.Key("m"))
	require.Positive(t, b.CompareKey(types.Key("a")))
	require.Zero(t, b.CompareKey(types.Key("m")))
	require.Positive(t, types.Unbounded().CompareKey(types.Key("zzz")))
}

func TestBoundAfterContainsKey(t *testing.T) {
	r := types.KeyRange{Left: types.Key("a"), Right: types.BoundAfter(types.Key("c"))}
	require.True(t, r.Contains(types.Key("a")))
	require.True(t, r.Contains(types.Key("c")))
	require.False(t, r.Contains(types.Key("c\x00")))
	require.False(t, r.Contains(types.Key("d")))
}

func TestKeyRangeIntersect(t *testing.T) {
	ab := types.KeyRange{Left: types.Key("a"), Right: types.BoundAt(types.Key("m"))}
	gz := types.KeyRange{Left: types.Key("g"), Right: types.BoundAt(types.Key("z"))}
	got := ab.Intersect(gz)
	require.Equal(t, types.Key("g"), got.Left)
	require.Equal(t, types.BoundAt(types.Key("m")), got.Right)

	disjoint := types.KeyRange{Left: types.Key("x"), Right: types.Unbounded()}
	require.True(t, ab.Intersect(disjoint).IsEmpty())
	require.False(t, ab.Overlaps(disjoint))
	require.True(t, ab.Overlaps(gz))
}

func TestFullKeyRange(t *testing.T) {
	full := types.FullKeyRange()
	require.False(t, full.IsEmpty())
	require.True(t, full.Contains(types.Key{}))
	require.True(t, full.Contains(types.Key("anything")))
}

func TestRegionContains(t *testing.T) {
	full := types.FullRegion()
	require.True(t, full.Contains(types.Key("k")))

	narrow := types.RegionFrom(types.KeyRange{
		Left:  types.Key("b"),
		Right: types.BoundAt(types.Key("c")),
	})
	require.True(t, narrow.Contains(types.Key("b")))
	require.False(t, narrow.Contains(types.Key("c")))
}
