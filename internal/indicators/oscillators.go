package indicators

import "math"

// RSI with Wilder smoothing. The first value lands at index p.
func RSI(closes []float64, p int) []float64 {
	out := nanSlice(len(closes))
	if p <= 0 || len(closes) <= p {
		return out
	}
	var avgGain, avgLoss float64
	for i := 1; i <= p; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			avgGain += d
		} else {
			avgLoss -= d
		}
	}
	avgGain /= float64(p)
	avgLoss /= float64(p)
	out[p] = rsiValue(avgGain, avgLoss)

	for i := p + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*float64(p-1) + gain) / float64(p)
		avgLoss = (avgLoss*float64(p-1) + loss) / float64(p)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(gain, loss float64) float64 {
	if loss == 0 {
		if gain == 0 {
			return 50
		}
		return 100
	}
	rs := gain / loss
	return 100 - 100/(1+rs)
}

// TrueRange per bar; the first bar uses high-low only.
func TrueRange(high, low, close []float64) []float64 {
	n := minLen(high, low, close)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		tr := high[i] - low[i]
		if i > 0 {
			tr = math.Max(tr, math.Abs(high[i]-close[i-1]))
			tr = math.Max(tr, math.Abs(low[i]-close[i-1]))
		}
		out[i] = tr
	}
	return out
}

// ATR with Wilder smoothing, seeded with the mean true range at index p-1.
func ATR(high, low, close []float64, p int) []float64 {
	tr := TrueRange(high, low, close)
	out := nanSlice(len(tr))
	if p <= 0 || len(tr) < p {
		return out
	}
	var seed float64
	for i := 0; i < p; i++ {
		seed += tr[i]
	}
	out[p-1] = seed / float64(p)
	for i := p; i < len(tr); i++ {
		out[i] = (out[i-1]*float64(p-1) + tr[i]) / float64(p)
	}
	return out
}

// DirectionalIndex holds ADX and its directional components.
type DirectionalIndex struct {
	ADX     []float64
	PlusDI  []float64
	MinusDI []float64
}

// ADX computes Wilder's average directional index. DI values start at
// index p, ADX at index 2p-1.
func ADX(high, low, close []float64, p int) DirectionalIndex {
	n := minLen(high, low, close)
	res := DirectionalIndex{ADX: nanSlice(n), PlusDI: nanSlice(n), MinusDI: nanSlice(n)}
	if p <= 0 || n < 2*p {
		return res
	}
	tr := TrueRange(high, low, close)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		up := high[i] - high[i-1]
		down := low[i-1] - low[i]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	var sTR, sPlus, sMinus float64
	for i := 1; i <= p; i++ {
		sTR += tr[i]
		sPlus += plusDM[i]
		sMinus += minusDM[i]
	}
	dx := nanSlice(n)
	for i := p; i < n; i++ {
		if i > p {
			sTR = sTR - sTR/float64(p) + tr[i]
			sPlus = sPlus - sPlus/float64(p) + plusDM[i]
			sMinus = sMinus - sMinus/float64(p) + minusDM[i]
		}
		pdi, mdi := 0.0, 0.0
		if sTR > 0 {
			pdi = 100 * sPlus / sTR
			mdi = 100 * sMinus / sTR
		}
		res.PlusDI[i] = pdi
		res.MinusDI[i] = mdi
		if sum := pdi + mdi; sum > 0 {
			dx[i] = 100 * math.Abs(pdi-mdi) / sum
		} else {
			dx[i] = 0
		}
	}

	var seed float64
	for i := p; i < 2*p; i++ {
		seed += dx[i]
	}
	res.ADX[2*p-1] = seed / float64(p)
	for i := 2 * p; i < n; i++ {
		res.ADX[i] = (res.ADX[i-1]*float64(p-1) + dx[i]) / float64(p)
	}
	return res
}

func minLen(a, b, c []float64) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if len(c) < n {
		n = len(c)
	}
	return n
}
