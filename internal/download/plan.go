// Package download fetches a session's points region by region over
// several connections and stores each region on disk.
package download

import "github.com/codefionn/greyhound/internal/bbox"

// Region is one planned read.
type Region struct {
	Index int
	Box   bbox.Box
}

// Plan quad-splits box depth times and numbers the resulting regions.
// depth is limited to bbox.MaxSplitDepth.
func Plan(box bbox.Box, depth int) ([]Region, error) {
	boxes, err := box.SplitToDepth(depth)
	if err != nil {
		return nil, err
	}
	regions := make([]Region, len(boxes))
	for i, b := range boxes {
		regions[i] = Region{Index: i, Box: b}
	}
	return regions, nil
}
