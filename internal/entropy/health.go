package entropy

import (
	"math"

	"github.com/JupitersGhost/ChaosMagnet/internal/domain"
)

// DefaultAlphaExp is -log2 of the per-test false-failure probability,
// the conventional alpha = 2^-20.
const DefaultAlphaExp = 20

// RCTCutoff derives the repetition-count cutoff from a source's claimed
// worst-case min-entropy per sample: C = ceil(1 + alphaExp/hMinClaimed).
// A run of exactly C identical values passes; C+1 fails.
func RCTCutoff(hMinClaimed float64, alphaExp int) int {
	if hMinClaimed <= 0 {
		hMinClaimed = 1
	}
	if alphaExp <= 0 {
		alphaExp = DefaultAlphaExp
	}
	return int(math.Ceil(1 + float64(alphaExp)/hMinClaimed))
}

// APTCutoff derives the adaptive-proportion cutoff for a window of
// windowSize samples: the smallest count c such that
// P[Binomial(windowSize, 2^-hMinClaimed) >= c] <= 2^-alphaExp, computed by
// tail summation in log space. The most frequent the reference symbol may
// appear in a window without flagging the source.
func APTCutoff(windowSize int, hMinClaimed float64, alphaExp int) int {
	if hMinClaimed <= 0 {
		hMinClaimed = 1
	}
	if alphaExp <= 0 {
		alphaExp = DefaultAlphaExp
	}
	p := math.Exp2(-hMinClaimed)
	logAlpha := -float64(alphaExp) * math.Ln2

	// log-pmf recurrence: the linear-space pmf underflows to zero for low
	// claims at realistic window sizes, which would collapse the cutoff
	// to 1 and fail the source on its first repeated byte.
	n := windowSize
	logP := math.Log(p)
	logQ := math.Log1p(-p)
	logPMF := make([]float64, n+1)
	logPMF[0] = float64(n) * logQ
	for k := 0; k < n; k++ {
		logPMF[k+1] = logPMF[k] + math.Log(float64(n-k)) - math.Log(float64(k+1)) + logP - logQ
	}

	logTail := math.Inf(-1)
	cutoff := n
	for c := n; c >= 1; c-- {
		logTail = logSumExp(logTail, logPMF[c])
		if logTail > logAlpha {
			break
		}
		cutoff = c
	}
	return cutoff
}

func logSumExp(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if a < b {
		a, b = b, a
	}
	return a + math.Log1p(math.Exp(b-a))
}

// Checker runs the streaming Repetition Count Test and the windowed
// Adaptive Proportion Test for a single source. It operates purely on the
// source's byte stream and never touches the pool.
//
// RCT fails the source the moment a run of identical values exceeds the
// cutoff. APT counts occurrences of each window's first byte across a
// non-overlapping window and fails when the count exceeds its cutoff. A
// failed source recovers when a subsequent window completes clean.
type Checker struct {
	rctCutoff int
	aptCutoff int
	window    int

	last   byte
	run    int
	primed bool

	seen     int
	ref      byte
	refCount int

	violated bool
	result   domain.HealthResult
}

// NewChecker builds a checker from the source's claimed min-entropy per
// sample and the shared alpha exponent. windowSize is in samples (bytes).
func NewChecker(hMinClaimed float64, alphaExp, windowSize int) *Checker {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Checker{
		rctCutoff: RCTCutoff(hMinClaimed, alphaExp),
		aptCutoff: APTCutoff(windowSize, hMinClaimed, alphaExp),
		window:    windowSize,
		result:    domain.HealthPass,
	}
}

// Update feeds a payload through both tests and returns the source's
// current health result. Failure is immediate; recovery happens only on a
// clean window boundary.
func (c *Checker) Update(payload []byte) domain.HealthResult {
	for _, b := range payload {
		c.updateRCT(b)
		c.updateAPT(b)
	}
	return c.result
}

// Result returns the current health result without feeding new data.
func (c *Checker) Result() domain.HealthResult { return c.result }

func (c *Checker) updateRCT(b byte) {
	if c.primed && b == c.last {
		c.run++
	} else {
		c.run = 1
		c.last = b
		c.primed = true
	}
	if c.run > c.rctCutoff {
		c.fail()
	}
}

func (c *Checker) updateAPT(b byte) {
	if c.seen == 0 {
		c.ref = b
		c.refCount = 0
	}
	c.seen++
	if b == c.ref {
		c.refCount++
		if c.refCount > c.aptCutoff {
			c.fail()
		}
	}
	if c.seen >= c.window {
		if !c.violated && c.run <= c.rctCutoff {
			c.result = domain.HealthPass
		}
		c.seen = 0
		c.violated = false
	}
}

func (c *Checker) fail() {
	c.violated = true
	c.result = domain.HealthFail
}
