package solo

import (
	"arcade-service/pkg/utils/random"
)

// Segment is one slice of the wheel. Boxes resolve to a prize drawn from
// their own weighted ranges.
type Segment struct {
	Name   string
	Weight float64
	Prize  int64
	Box    []PrizeRange
}

type PrizeRange struct {
	Lo     int64
	Hi     int64
	Weight float64
}

var Wheel = []Segment{
	{Name: "0", Weight: 50, Prize: 0},
	{Name: "50", Weight: 25, Prize: 50},
	{Name: "100", Weight: 13, Prize: 100},
	{Name: "250", Weight: 6, Prize: 250},
	{Name: "Gold Box", Weight: 3, Box: []PrizeRange{
		{250, 275, 60}, {276, 300, 22}, {301, 350, 10}, {351, 400, 5}, {401, 450, 2}, {451, 500, 1},
	}},
	{Name: "Platinum Box", Weight: 1, Box: []PrizeRange{
		{400, 425, 60}, {426, 450, 22}, {451, 500, 11}, {501, 525, 6}, {536, 550, 2}, {551, 600, 1},
	}},
	{Name: "Diamond Box", Weight: 0.5, Box: []PrizeRange{
		{600, 625, 75}, {626, 650, 13}, {651, 700, 6}, {701, 725, 3}, {736, 750, 2}, {751, 800, 1},
	}},
	{Name: "Mystery Box", Weight: 1.5, Box: []PrizeRange{
		{0, 0, 25}, {1, 1, 25}, {10, 10, 12}, {20, 20, 8}, {50, 50, 7}, {70, 70, 6}, {100, 100, 5},
		{150, 150, 4}, {200, 200, 3}, {300, 300, 2}, {500, 500, 1}, {750, 750, 1}, {850, 850, 0.5}, {1000, 1000, 0.5},
	}},
}

// Spin picks a segment and resolves its prize.
func Spin(src random.Source, wheel []Segment) (Segment, int64) {
	weights := make([]float64, len(wheel))
	for i, s := range wheel {
		weights[i] = s.Weight
	}
	seg := wheel[random.Weighted(src, weights)]
	if len(seg.Box) == 0 {
		return seg, seg.Prize
	}

	boxWeights := make([]float64, len(seg.Box))
	for i, r := range seg.Box {
		boxWeights[i] = r.Weight
	}
	r := seg.Box[random.Weighted(src, boxWeights)]
	return seg, random.Between(src, r.Lo, r.Hi)
}
