// Package classify turns raw audio feature frames into discrete emotion
// and music-segment labels. Both detectors share the same soft
// range-matching primitive and publish their transitions on the bus.
package classify

// Range is a closed [Min,Max] band for one feature.
type Range struct {
	Min float64
	Max float64
}

// Match scores how well v fits the band: 1 inside, decaying linearly to 0
// outside, scaled by the distance relative to the violated bound.
func (r Range) Match(v float64) float64 {
	switch {
	case v < r.Min:
		return max0(1 - (r.Min-v)/r.Min)
	case v > r.Max:
		return max0(1 - (v-r.Max)/r.Max)
	default:
		return 1
	}
}

func max0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
