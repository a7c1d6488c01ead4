package seed

// #region rng

// RNG yields uniform floats in [0,1).
type RNG func() float64

// NewXorshift builds the fast stream generator used for draw-by-draw
// randomness. Zero seeds collapse the state, so they are remapped to 1.
func NewXorshift(seed int64) RNG {
	x := uint32(seed)
	if x == 0 {
		x = 1
	}
	return func() float64 {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		return float64(x) / float64(0xFFFFFFFF)
	}
}

// pcgIncrement is the fixed odd stream constant.
const pcgIncrement uint64 = 0xda3e39cb94b95bdb

// NewPCG builds the higher-quality generator used when statistical
// quality matters more than speed, such as filling the seed pool.
func NewPCG(seed int64) RNG {
	state := uint64(seed)
	if state == 0 {
		state = 1
	}
	return func() float64 {
		state = state*6364136223846793005 + (pcgIncrement | 1)
		xorshifted := uint32(((state >> 18) ^ state) >> 27)
		rot := uint32(state>>59) & 31
		out := (xorshifted >> rot) | (xorshifted << ((-rot) & 31))
		return float64(out) / float64(0xFFFFFFFF)
	}
}

// #endregion rng
