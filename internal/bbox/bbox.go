// Package bbox provides the axis-aligned bounding box used to restrict and
// partition point-cloud reads.
//
// The box is geared towards geo data: the ground lies in the X,Y plane and
// Z is height. Split operations never touch Z. Top refers to the lower-Y
// half and left to the lower-X half.
package bbox

import (
	"errors"
	"fmt"
	"math"
)

// MaxSplitDepth bounds SplitToDepth; depth 10 already yields about a
// million leaves.
const MaxSplitDepth = 10

var (
	ErrInvalidDimensions = errors.New("bbox: mins and maxs should have 3 elements each")
	ErrInvalidBounds     = errors.New("bbox: all elements of maxs should be greater than mins")
	ErrInvalidArgument   = errors.New("bbox: invalid argument")
)

// Box is an immutable axis-aligned 3-D region. Every transform returns a
// new Box.
type Box struct {
	mins [3]float64
	maxs [3]float64
}

// New validates mins and maxs and returns the box they describe.
func New(mins, maxs []float64) (Box, error) {
	if len(mins) != 3 || len(maxs) != 3 {
		return Box{}, ErrInvalidDimensions
	}
	for i := range mins {
		if !finite(mins[i]) || !finite(maxs[i]) {
			return Box{}, fmt.Errorf("%w: axis %d is not finite (%g, %g)", ErrInvalidBounds, i, mins[i], maxs[i])
		}
		if mins[i] >= maxs[i] {
			return Box{}, fmt.Errorf("%w: axis %d has min %g >= max %g", ErrInvalidBounds, i, mins[i], maxs[i])
		}
	}
	return Box{
		mins: [3]float64{mins[0], mins[1], mins[2]},
		maxs: [3]float64{maxs[0], maxs[1], maxs[2]},
	}, nil
}

// MustNew is New for constant boxes; it panics on invalid input.
func MustNew(mins, maxs []float64) Box {
	b, err := New(mins, maxs)
	if err != nil {
		panic(err)
	}
	return b
}

func (b Box) Mins() [3]float64 { return b.mins }
func (b Box) Maxs() [3]float64 { return b.maxs }

// IsZero reports whether b is the zero Box, which New never returns.
func (b Box) IsZero() bool {
	return b == Box{}
}

// Center returns the midpoint of each axis.
func (b Box) Center() [3]float64 {
	var c [3]float64
	for i := range c {
		c[i] = (b.mins[i] + b.maxs[i]) / 2
	}
	return c
}

// Planar returns the wire encoding [minX, minY, maxX, maxY]; Z is omitted.
func (b Box) Planar() [4]float64 {
	return [4]float64{b.mins[0], b.mins[1], b.maxs[0], b.maxs[1]}
}

// SplitH splits at the Y midpoint and returns [top, bottom]. Halves are
// not re-validated: a box only a few ulps wide yields a half with equal
// min and max.
func (b Box) SplitH() [2]Box {
	n, x := b.mins, b.maxs
	ys := n[1] + (x[1]-n[1])/2

	top := Box{mins: n, maxs: [3]float64{x[0], ys, x[2]}}
	bottom := Box{mins: [3]float64{n[0], ys, n[2]}, maxs: x}
	return [2]Box{top, bottom}
}

// SplitV splits at the X midpoint and returns [left, right].
func (b Box) SplitV() [2]Box {
	n, x := b.mins, b.maxs
	xs := n[0] + (x[0]-n[0])/2

	left := Box{mins: n, maxs: [3]float64{xs, x[1], x[2]}}
	right := Box{mins: [3]float64{xs, n[1], n[2]}, maxs: x}
	return [2]Box{left, right}
}

// SplitQuad returns [topLeft, topRight, bottomLeft, bottomRight].
func (b Box) SplitQuad() [4]Box {
	h := b.SplitH()
	t := h[0].SplitV()
	u := h[1].SplitV()
	return [4]Box{t[0], t[1], u[0], u[1]}
}

// SplitToDepth quad-splits the box depth times and returns the 4^depth
// leaves. A depth below 1 is treated as 1; one above MaxSplitDepth is
// rejected.
func (b Box) SplitToDepth(depth int) ([]Box, error) {
	if depth > MaxSplitDepth {
		return nil, fmt.Errorf("%w: split depth %d exceeds %d", ErrInvalidArgument, depth, MaxSplitDepth)
	}
	if depth < 1 {
		depth = 1
	}
	out := make([]Box, 0, 1<<(2*depth))
	var split func(Box, int)
	split = func(box Box, d int) {
		quads := box.SplitQuad()
		if d == depth {
			out = append(out, quads[:]...)
			return
		}
		for _, q := range quads {
			split(q, d+1)
		}
	}
	split(b, 1)
	return out, nil
}

// Inflate grows every axis by the same amount on both sides.
func (b Box) Inflate(by float64) Box {
	return b.grow([3]float64{by, by, by})
}

// InflateAxes grows each axis by its own amount.
func (b Box) InflateAxes(by []float64) (Box, error) {
	v, err := axes(by)
	if err != nil {
		return Box{}, err
	}
	return b.grow(v), nil
}

// Deflate is Inflate with the amount negated.
func (b Box) Deflate(by float64) Box {
	return b.Inflate(-by)
}

// DeflateAxes is InflateAxes with every amount negated.
func (b Box) DeflateAxes(by []float64) (Box, error) {
	v, err := axes(by)
	if err != nil {
		return Box{}, err
	}
	for i := range v {
		v[i] = -v[i]
	}
	return b.grow(v), nil
}

// OffsetBy translates the box by -by on each axis.
func (b Box) OffsetBy(by []float64) (Box, error) {
	v, err := axes(by)
	if err != nil {
		return Box{}, err
	}
	out := b
	for i := range v {
		out.mins[i] -= v[i]
		out.maxs[i] -= v[i]
	}
	return out, nil
}

func (b Box) String() string {
	return fmt.Sprintf("[%g %g %g]-[%g %g %g]",
		b.mins[0], b.mins[1], b.mins[2], b.maxs[0], b.maxs[1], b.maxs[2])
}

func (b Box) grow(by [3]float64) Box {
	out := b
	for i := range by {
		out.mins[i] -= by[i]
		out.maxs[i] += by[i]
	}
	return out
}

func axes(by []float64) ([3]float64, error) {
	if len(by) != 3 {
		return [3]float64{}, fmt.Errorf("%w: expected 3 elements, got %d", ErrInvalidArgument, len(by))
	}
	return [3]float64{by[0], by[1], by[2]}, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
