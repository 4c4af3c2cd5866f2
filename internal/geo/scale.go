package geo

import "github.com/paulmach/orb"

// Scale levels bin footprints by approximate geographic scale, from global
// (level_00) to hyper-local (level_07). Point footprints have their own level.
const (
	LevelPoints = "level_points"
)

var scaleThresholdsKm2 = []struct {
	minKm2 float64
	level  string
}{
	{175_000_000, "level_00"},
	{35_000_000, "level_01"},
	{5_000_000, "level_02"},
	{1_000_000, "level_03"},
	{500_000, "level_04"},
	{100_000, "level_05"},
	{50_000, "level_06"},
}

// ScaleLevels lists every level name in order.
func ScaleLevels() []string {
	levels := make([]string, 0, len(scaleThresholdsKm2)+2)
	for _, t := range scaleThresholdsKm2 {
		levels = append(levels, t.level)
	}
	return append(levels, "level_07", LevelPoints)
}

// LevelForArea classifies an area in square kilometres.
func LevelForArea(km2 float64) string {
	for _, t := range scaleThresholdsKm2 {
		if km2 >= t.minKm2 {
			return t.level
		}
	}
	return "level_07"
}

// ScaleLevel classifies a WGS 84 footprint.
func ScaleLevel(g orb.Geometry) string {
	if IsPoint(g) {
		return LevelPoints
	}
	return LevelForArea(AreaKm2(g))
}
