package indicators

import "math"

// SMA over the last p points; the result is aligned to the input with NaN for warm-up.
func SMA(x []float64, p int) []float64 {
	out := nanSlice(len(x))
	if p <= 0 {
		return out
	}
	var sum float64
	for i := range x {
		sum += x[i]
		if i >= p {
			sum -= x[i-p]
		}
		if i >= p-1 {
			out[i] = sum / float64(p)
		}
	}
	return out
}

// EMA with smoothing 2/(p+1), seeded with SMA(p) at index p-1.
func EMA(x []float64, p int) []float64 {
	out := nanSlice(len(x))
	if p <= 0 || len(x) < p {
		return out
	}
	k := 2.0 / float64(p+1)
	var seed float64
	for i := 0; i < p; i++ {
		seed += x[i]
	}
	out[p-1] = seed / float64(p)
	for i := p; i < len(x); i++ {
		out[i] = (x[i]-out[i-1])*k + out[i-1]
	}
	return out
}

// StdDev is the rolling population standard deviation over window p.
func StdDev(x []float64, p int) []float64 {
	out := nanSlice(len(x))
	if p <= 0 {
		return out
	}
	for i := p - 1; i < len(x); i++ {
		var sum, sq float64
		for _, v := range x[i-p+1 : i+1] {
			sum += v
		}
		mean := sum / float64(p)
		for _, v := range x[i-p+1 : i+1] {
			sq += (v - mean) * (v - mean)
		}
		out[i] = math.Sqrt(sq / float64(p))
	}
	return out
}

// Last returns the final value and whether it is defined.
func Last(x []float64) (float64, bool) {
	if len(x) == 0 {
		return 0, false
	}
	v := x[len(x)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
