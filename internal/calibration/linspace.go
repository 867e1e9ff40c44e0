package calibration

// Linspace returns n evenly spaced values in [min, max] inclusive
// (spec.md §4.6 step 2). n<=1 returns []float64{min}.
func Linspace(min, max float64, n int) []float64 {
	if n <= 1 {
		return []float64{min}
	}
	out := make([]float64, n)
	step := (max - min) / float64(n-1)
	for i := 0; i < n; i++ {
		out[i] = min + step*float64(i)
	}
	out[n-1] = max
	return out
}
