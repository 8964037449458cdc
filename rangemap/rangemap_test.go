package rangemap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rangekv/go-rangekv/codec"
	"github.com/rangekv/go-rangekv/common/types"
	"github.com/rangekv/go-rangekv/rangemap"
)

func rng(left, right string) types.KeyRange {
	r := types.KeyRange{Left: types.Key(left)}
	if right == "" {
		r.Right = types.Unbounded()
	} else {
		r.Right = types.BoundAt(types.Key(right))
	}
	return r
}

func TestNewAndDomain(t *testing.T) {
	m := rangemap.New(rng("a", "z"), 7)
	require.False(t, m.IsEmpty())
	require.True(t, m.Domain().Equal(rng("a", "z")))

	require.True(t, rangemap.New(rng("a", "a"), 7).IsEmpty())
}

func TestMask(t *testing.T) {
	m := rangemap.New(rng("a", ""), 1)
	m.Update(rangemap.New(rng("g", "p"), 2))

	got := m.Mask(rng("c", "k"))
	entries := got.Entries()
	require.Len(t, entries, 2)
	require.True(t, entries[0].Range.Equal(rng("c", "g")))
	require.Equal(t, 1, entries[0].Value)
	require.True(t, entries[1].Range.Equal(rng("g", "k")))
	require.Equal(t, 2, entries[1].Value)
}

func TestConcat(t *testing.T) {
	a := rangemap.New(rng("a", "g"), 1)
	b := rangemap.New(rng("g", "z"), 2)
	m := a.Concat(b)
	require.True(t, m.Domain().Equal(rng("a", "z")))
	require.Len(t, m.Entries(), 2)

	require.True(t, a.Concat(rangemap.Empty[int]()).Domain().Equal(rng("a", "g")))
	require.Panics(t, func() {
		a.Concat(rangemap.New(rng("x", "z"), 3))
	})
}

func TestUpdate(t *testing.T) {
	m := rangemap.New(rng("a", ""), 1)
	m.Update(rangemap.New(rng("g", "p"), 2))

	v, ok := m.ValueAt(types.Key("c"))
	require.True(t, ok)
	require.Equal(t, 1, v)
	v, ok = m.ValueAt(types.Key("h"))
	require.True(t, ok)
	require.Equal(t, 2, v)
	v, ok = m.ValueAt(types.Key("q"))
	require.True(t, ok)
	require.Equal(t, 1, v)
	require.True(t, m.Domain().Equal(rng("a", "")))

	// Overwriting through the unbounded right edge.
	m.Update(rangemap.New(rng("t", ""), 3))
	v, ok = m.ValueAt(types.Key("zz"))
	require.True(t, ok)
	require.Equal(t, 3, v)
}

func TestTransform(t *testing.T) {
	m := rangemap.New(rng("a", "g"), 21)
	doubled := rangemap.Transform(m, func(v int) int { return v * 2 })
	v, ok := doubled.ValueAt(types.Key("b"))
	require.True(t, ok)
	require.Equal(t, 42, v)
}

func TestFromEntries(t *testing.T) {
	m, err := rangemap.FromEntries([]rangemap.Entry[int]{
		{Range: rng("g", "z"), Value: 2},
		{Range: rng("a", "g"), Value: 1},
	})
	require.NoError(t, err)
	require.True(t, m.Domain().Equal(rng("a", "z")))

	_, err = rangemap.FromEntries([]rangemap.Entry[int]{
		{Range: rng("a", "c"), Value: 1},
		{Range: rng("g", "z"), Value: 2},
	})
	require.Error(t, err)
}

func TestEqualFunc(t *testing.T) {
	a := rangemap.New(rng("a", "z"), 1)
	b := rangemap.New(rng("a", "g"), 1).Concat(rangemap.New(rng("g", "z"), 1))
	require.True(t, rangemap.EqualFunc(a, b, func(x, y int) bool { return x == y }))

	c := rangemap.New(rng("a", "z"), 2)
	require.False(t, rangemap.EqualFunc(a, c, func(x, y int) bool { return x == y }))
}

func TestCodecRoundTrip(t *testing.T) {
	m := rangemap.New(rng("a", ""), 1)
	m.Update(rangemap.New(rng("g", "p"), 2))

	data, err := codec.Encode(m)
	require.NoError(t, err)
	var got rangemap.Map[int]
	require.NoError(t, codec.Decode(data, &got))
	require.True(t, rangemap.EqualFunc(m, got, func(x, y int) bool { return x == y }))
}
