package indicators

// Bands are Bollinger Bands aligned to the input series.
type Bands struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Bollinger builds bands at k population standard deviations around SMA(p).
func Bollinger(closes []float64, p int, k float64) Bands {
	mid := SMA(closes, p)
	std := StdDev(closes, p)
	b := Bands{Upper: nanSlice(len(closes)), Middle: mid, Lower: nanSlice(len(closes))}
	for i := range closes {
		b.Upper[i] = mid[i] + k*std[i]
		b.Lower[i] = mid[i] - k*std[i]
	}
	return b
}
