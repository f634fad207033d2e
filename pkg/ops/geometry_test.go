package ops_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/millwright/pkg/ops"
	"github.com/chazu/millwright/pkg/part"
)

func TestToggleIdempotence(t *testing.T) {
	elements := []ops.Subset{
		ops.Trace{ID: "w1-z10-0", Z: 10},
		ops.FaceGroup{Faces: []int{3, 1, 2}},
		ops.Point{X: 1, Y: 2, Z: 3},
	}
	for _, e := range elements {
		gs := ops.GeometrySet{"w1": {ops.Trace{ID: "other"}}}
		before := gs.Clone()

		assert.True(t, gs.Toggle("w1", e))
		assert.False(t, gs.Toggle("w1", e))
		assert.Equal(t, before, gs, "%T", e)
	}
}

func TestFaceGroupKeyIgnoresOrder(t *testing.T) {
	a := ops.FaceGroup{Faces: []int{5, 2, 9}}
	b := ops.FaceGroup{Faces: []int{9, 5, 2}}
	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, []int{5, 2, 9}, a.Faces, "key must not reorder the group")
	assert.True(t, a.Contains(2))
	assert.False(t, a.Contains(3))
}

func TestHoleKeyIsPosition(t *testing.T) {
	h := ops.Hole{X: 1, Y: 2, Z: 0, Depth: 5, Diameter: 6}
	sel := h
	sel.Selected = true
	assert.Equal(t, h.Key(), sel.Key())
}

func TestPutReportsChange(t *testing.T) {
	gs := ops.GeometrySet{}
	p := ops.Point{X: 1}
	assert.True(t, gs.Put("w1", p, true))
	assert.False(t, gs.Put("w1", p, true))
	assert.True(t, gs.Put("w1", p, false))
	assert.False(t, gs.Put("w1", p, false))
	assert.Empty(t, gs["w1"])
}

func TestPrune(t *testing.T) {
	gs := ops.GeometrySet{
		"keep": {ops.Point{}},
		"gone": {ops.Point{}},
	}
	n := gs.Prune(func(id part.ID) bool { return id == "keep" })
	assert.Equal(t, 1, n)
	assert.Equal(t, []part.ID{"keep"}, gs.PartIDs())
}

func TestCloneDoesNotShareFaceSlices(t *testing.T) {
	gs := ops.GeometrySet{"w1": {ops.FaceGroup{Faces: []int{1, 2}}}}
	cp := gs.Clone()
	cp["w1"][0].(ops.FaceGroup).Faces[0] = 42
	assert.Equal(t, 1, gs["w1"][0].(ops.FaceGroup).Faces[0])
}

func TestTypeText(t *testing.T) {
	for _, ty := range ops.Types() {
		b, err := ty.MarshalText()
		require.NoError(t, err)
		var back ops.Type
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, ty, back)
	}
	_, err := ops.ParseType("teleport")
	assert.Error(t, err)
	assert.Equal(t, "laser-on", ops.TypeLaserOn.String())
	assert.Equal(t, "Outline", ops.TypeOutline.Label())
}

func TestSetKeyPerType(t *testing.T) {
	want := map[ops.Type]ops.SetKey{
		ops.TypeTrace:   ops.SetAreas,
		ops.TypePocket:  ops.SetSurfaces,
		ops.TypeHelical: ops.SetCylinders,
		ops.TypeDrill:   ops.SetDrills,
		ops.TypeOutline: ops.SetTabs,
	}
	for _, ty := range ops.Types() {
		assert.Equal(t, want[ty], ty.SetKey(), ty.String())
	}
}
