package raster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeoTransformRoundTrip(t *testing.T) {
	gt := [6]float64{600000, 10, 0, 5000040, 0, -10}
	a := FromGeoTransform(gt)
	assert.Equal(t, Affine{10, 0, 600000, 0, -10, 5000040}, a)
	assert.Equal(t, gt, a.GeoTransform())

	x, y := a.Apply(3, 4)
	assert.Equal(t, 600030.0, x)
	assert.Equal(t, 5000000.0, y)
}

func TestAffineInvert(t *testing.T) {
	a := Affine{10, 0.5, 600000, 0.25, -10, 5000040}
	inv, err := a.Invert()
	require.NoError(t, err)

	x, y := a.Apply(12.5, 7.25)
	c, r := inv.Apply(x, y)
	assert.InDelta(t, 12.5, c, 1e-9)
	assert.InDelta(t, 7.25, r, 1e-9)
	assert.True(t, a.Mult(inv).AlmostEqual(Identity(), 1e-6))

	_, err = Affine{1, 2, 0, 2, 4, 0}.Invert()
	assert.Error(t, err)
}

func TestAffineMult(t *testing.T) {
	a := Affine{10, 0, 600000, 0, -10, 5000040}

	shifted := a.Mult(Translation(5, 2))
	assert.Equal(t, Affine{10, 0, 600050, 0, -10, 5000020}, shifted)

	scaled := a.Mult(Scale(2, 2))
	sx, sy := scaled.PixelSize()
	assert.Equal(t, 20.0, sx)
	assert.Equal(t, 20.0, sy)
	assert.True(t, scaled.IsRectilinear())
}

func TestAffineAlmostEqual(t *testing.T) {
	a := Affine{10, 0, 600000, 0, -10, 5000040}
	assert.True(t, a.AlmostEqual(Affine{10, 0, 600000.000001, 0, -10, 5000040}, 1e-6))
	assert.False(t, a.AlmostEqual(Affine{10, 0, 600001, 0, -10, 5000040}, 1e-6))

	deg := Affine{0.0001, 0, 3.5, 0, -0.0001, 45}
	assert.False(t, deg.AlmostEqual(Affine{0.0001, 0, 3.5001, 0, -0.0001, 45}, 1e-6))
}
