package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptySchema(t *testing.T) {
	s := New()
	assert.True(t, s.IsEmpty())
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Channels())
}

func TestChannelsInCallOrder(t *testing.T) {
	s := New().X().Y().Z()

	require.Equal(t, 3, s.Len())
	assert.Equal(t, []Channel{
		{Name: "X", Type: Floating, Size: 4},
		{Name: "Y", Type: Floating, Size: 4},
		{Name: "Z", Type: Floating, Size: 4},
	}, s.Channels())
}

func TestOverrides(t *testing.T) {
	s := New().X(As(Unsigned), Bytes(2)).Red(As(Floating), Bytes(8))

	assert.Equal(t, []Channel{
		{Name: "X", Type: Unsigned, Size: 2},
		{Name: "Red", Type: Floating, Size: 8},
	}, s.Channels())
}

func TestStandardLayout(t *testing.T) {
	s := Standard()

	assert.Equal(t, []Channel{
		{Name: "X", Type: Floating, Size: 4},
		{Name: "Y", Type: Floating, Size: 4},
		{Name: "Z", Type: Floating, Size: 4},
		{Name: "Intensity", Type: Unsigned, Size: 2},
		{Name: "Red", Type: Unsigned, Size: 2},
		{Name: "Green", Type: Unsigned, Size: 2},
		{Name: "Blue", Type: Unsigned, Size: 2},
	}, s.Channels())
	assert.Equal(t, 20, s.PointSize())
	assert.Equal(t, 12, XYZ().PointSize())
}

func TestBuilderDoesNotAlias(t *testing.T) {
	base := New().X().Y()
	a := base.Z()
	b := base.Red()

	assert.Equal(t, 2, base.Len())
	assert.Equal(t, "Z", a.Channels()[2].Name)
	assert.Equal(t, "Red", b.Channels()[2].Name)
}

func TestDuplicatesAreAppended(t *testing.T) {
	s := New().X().X().Add("Classification", Unsigned, 1)
	require.Equal(t, 3, s.Len())
	assert.Equal(t, "X", s.Channels()[1].Name)
	assert.Equal(t, Channel{Name: "Classification", Type: Unsigned, Size: 1}, s.Channels()[2])
}

func TestJSONEncoding(t *testing.T) {
	data, err := json.Marshal(New().X().Intensity())
	require.NoError(t, err)
	assert.JSONEq(t, `{"dimensions":[
		{"name":"X","type":"floating","size":4},
		{"name":"Intensity","type":"unsigned","size":2}
	]}`, string(data))

	empty, err := json.Marshal(New())
	require.NoError(t, err)
	assert.JSONEq(t, `{"dimensions":[]}`, string(empty))

	var back Schema
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, 2, back.Len())
	assert.Equal(t, Unsigned, back.Channels()[1].Type)
}
