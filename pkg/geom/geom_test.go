package geom_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chazu/millwright/pkg/geom"
)

func TestKeyRoundsAndCollapsesNegativeZero(t *testing.T) {
	a := geom.Vec3{X: 1.00049, Y: -0.0000001, Z: 2}
	b := geom.Vec3{X: 1.0001, Y: 0, Z: 2.0004}
	assert.Equal(t, "1.000,0.000,2.000", a.Key())
	assert.Equal(t, a.Key(), b.Key())
}

func TestCrossAndNormalize(t *testing.T) {
	x := geom.Vec3{X: 1}
	y := geom.Vec3{Y: 1}
	assert.Equal(t, geom.Vec3{Z: 1}, x.Cross(y))
	assert.InDelta(t, 1.0, geom.Vec3{X: 3, Y: 4}.Normalize().Len(), 1e-12)
	assert.Equal(t, geom.Vec3{}, geom.Vec3{}.Normalize())
}

func TestBoundsUnionTreatsEmptyAsIdentity(t *testing.T) {
	b := geom.Bounds{Min: geom.Vec3{X: 1, Y: 1, Z: 1}, Max: geom.Vec3{X: 2, Y: 2, Z: 2}}
	assert.Equal(t, b, geom.Bounds{}.Union(b))
	assert.Equal(t, b, b.Union(geom.Bounds{}))

	o := geom.Bounds{Min: geom.Vec3{X: -1}, Max: geom.Vec3{X: 0, Y: 5, Z: 1}}
	u := b.Union(o)
	assert.Equal(t, geom.Vec3{X: -1, Y: 0, Z: 0}, u.Min)
	assert.Equal(t, geom.Vec3{X: 2, Y: 5, Z: 2}, u.Max)
}

func TestIntersectRay(t *testing.T) {
	box := geom.Bounds{Max: geom.Vec3{X: 10, Y: 10, Z: 10}}

	down := geom.Ray{Origin: geom.Vec3{X: 5, Y: 5, Z: 50}, Dir: geom.Vec3{Z: -1}}
	d, ok := box.IntersectRay(down)
	assert.True(t, ok)
	assert.InDelta(t, 40.0, d, 1e-9)

	miss := geom.Ray{Origin: geom.Vec3{X: 15, Y: 5, Z: 50}, Dir: geom.Vec3{Z: -1}}
	_, ok = box.IntersectRay(miss)
	assert.False(t, ok)

	away := geom.Ray{Origin: geom.Vec3{X: 5, Y: 5, Z: 50}, Dir: geom.Vec3{Z: 1}}
	_, ok = box.IntersectRay(away)
	assert.False(t, ok)

	inside := geom.Ray{Origin: geom.Vec3{X: 5, Y: 5, Z: 5}, Dir: geom.Vec3{X: 1}}
	d, ok = box.IntersectRay(inside)
	assert.True(t, ok)
	assert.Zero(t, d)
}
