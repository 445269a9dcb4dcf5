package ot

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformDiamond(t *testing.T) {
	text := "Hello World"
	a := New().Retain(6).Insert("Beautiful ").Retain(5)
	b := New().Retain(11).Insert("!")

	ap, err := Transform(a, b, true)
	require.NoError(t, err)
	bp, err := Transform(b, a, false)
	require.NoError(t, err)

	viaA, err := Apply(text, a)
	require.NoError(t, err)
	viaA, err = Apply(viaA, bp)
	require.NoError(t, err)

	viaB, err := Apply(text, b)
	require.NoError(t, err)
	viaB, err = Apply(viaB, ap)
	require.NoError(t, err)

	assert.Equal(t, "Hello Beautiful World!", viaA)
	assert.Equal(t, viaA, viaB)
}

func TestTransformInsertTie(t *testing.T) {
	// The only ambiguous case: concurrent inserts at the same position.
	// The senior operation's text surfaces first.
	a := New().Insert("a").Retain(4)
	b := New().Insert("b").Retain(4)

	ap, bp, err := TransformPair(a, b)
	require.NoError(t, err)

	viaA, err := Apply("text", a)
	require.NoError(t, err)
	viaA, err = Apply(viaA, bp)
	require.NoError(t, err)
	assert.Equal(t, "abtext", viaA)

	viaB, err := Apply("text", b)
	require.NoError(t, err)
	viaB, err = Apply(viaB, ap)
	require.NoError(t, err)
	assert.Equal(t, "abtext", viaB)
}

func TestTransformOverlappingDeletes(t *testing.T) {
	a := New().Retain(1).Delete(3).Retain(2)
	b := New().Retain(2).Delete(3).Retain(1)

	ap, bp, err := TransformPair(a, b)
	require.NoError(t, err)

	viaA, err := Apply("abcdef", a)
	require.NoError(t, err)
	viaA, err = Apply(viaA, bp)
	require.NoError(t, err)

	viaB, err := Apply("abcdef", b)
	require.NoError(t, err)
	viaB, err = Apply(viaB, ap)
	require.NoError(t, err)

	assert.Equal(t, "af", viaA)
	assert.Equal(t, viaA, viaB)
}

func TestTransformDivergentBase(t *testing.T) {
	_, err := Transform(New().Retain(3), New().Retain(4), true)
	assert.ErrorIs(t, err, ErrDivergentBase)
}

func TestTransformDiamondRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	for i := 0; i < 500; i++ {
		text := randText(rng, rng.Intn(30))
		a := randOp(rng, text)
		b := randOp(rng, text)

		ap, err := Transform(a, b, true)
		require.NoError(t, err)
		bp, err := Transform(b, a, false)
		require.NoError(t, err)

		viaA, err := Apply(text, a)
		require.NoError(t, err)
		viaA, err = Apply(viaA, bp)
		require.NoError(t, err)

		viaB, err := Apply(text, b)
		require.NoError(t, err)
		viaB, err = Apply(viaB, ap)
		require.NoError(t, err)

		require.Equal(t, viaA, viaB, "text %q, a %v, b %v", text, a, b)
	}
}
