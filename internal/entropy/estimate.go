package entropy

import "math"

// Estimate holds the three entropy measures of one completed window, in
// bits per byte. For any distribution MinEntropy <= Collision <= Shannon <= 8.
type Estimate struct {
	Shannon    float64
	MinEntropy float64
	Collision  float64
}

// Measure computes Shannon entropy, min-entropy, and collision entropy
// (Renyi order 2) over the empirical byte distribution of data.
func Measure(data []byte) Estimate {
	if len(data) == 0 {
		return Estimate{}
	}

	var counts [256]int
	for _, b := range data {
		counts[b]++
	}

	var (
		n         = float64(len(data))
		shannon   float64
		maxP      float64
		collision float64
	)
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		shannon -= p * math.Log2(p)
		collision += p * p
		if p > maxP {
			maxP = p
		}
	}

	est := Estimate{Shannon: shannon}
	if maxP > 0 && maxP < 1 {
		est.MinEntropy = -math.Log2(maxP)
	}
	if collision > 0 && collision < 1 {
		est.Collision = -math.Log2(collision)
	}
	return est
}

// ConservativeBits is the worst-case entropy contributed by a window: its
// min-entropy times the window length in bytes.
func (e Estimate) ConservativeBits(windowBytes int) float64 {
	bits := e.MinEntropy * float64(windowBytes)
	cap := float64(windowBytes) * 8
	if bits > cap {
		return cap
	}
	return bits
}
