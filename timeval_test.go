package omnicache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTimeval_Arithmetic(t *testing.T) {
	assert.Equal(t, Float(5), Float(2).Add(Float(3)))
	assert.Equal(t, Int(5), Int(2).Add(Int(3)))
	assert.Equal(t, Float(-1), Float(2).Sub(Float(3)))
	assert.Equal(t, Float(6), Float(2).Mul(Float(3)))
	assert.Equal(t, Float(2), Float(6).Div(Float(3)))
	assert.Equal(t, Int(2), Int(7).Mod(Int(5)))
	assert.Equal(t, Float(2), Float(7).Mod(Float(5)))
	assert.Equal(t, Float(-2), Float(-7).Mod(Float(5)), "truncated remainder, not floored")
}

func TestTimeval_Compare(t *testing.T) {
	assert.True(t, Float(1).Lt(Float(2)))
	assert.True(t, Float(2).Le(Float(2)))
	assert.True(t, Float(2).Eq(Float(2)))
	assert.True(t, Float(3).Ge(Float(2)))
	assert.True(t, Float(3).Gt(Float(2)))
	assert.True(t, Int(1).Lt(Int(2)))
}

func TestTimeval_MismatchedTagsPanic(t *testing.T) {
	assert.Panics(t, func() { Float(1).Add(Int(1)) })
	assert.Panics(t, func() { Float(1).Lt(Int(1)) })
	assert.Panics(t, func() { Int(1).Eq(Float(1)) })
}

func TestTimeval_DivByZeroPanics(t *testing.T) {
	assert.Panics(t, func() { Float(1).Div(Float(0)) })
	assert.Panics(t, func() { Int(1).Div(Int(0)) })
	assert.Panics(t, func() { Float(1).Mod(Float(0)) })
	assert.Panics(t, func() { Int(1).Mod(Int(0)) })
}

func TestTimeval_FloatLiteralCompare(t *testing.T) {
	assert.True(t, Float(0).EqFloat(0))
	assert.True(t, Int(0).EqFloat(0))
	assert.True(t, Float(1).LtFloat(2))
	assert.False(t, Int(3).LtFloat(2))
}

func TestTimeval_Conversions(t *testing.T) {
	assert.Equal(t, float32(2.5), Float(2.5).AsFloat32())
	assert.Equal(t, uint32(7), Int(7).AsUint32())
	assert.Equal(t, uint32(2), Float(2.9).AsUint32())
}
