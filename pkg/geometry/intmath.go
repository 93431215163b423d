package geometry

// FloorDiv divides a by b rounding toward negative infinity. b must be positive.
//
// Go's / truncates toward zero, so FloorDiv(-1, 512) is -1 where -1/512 is 0.
func FloorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
