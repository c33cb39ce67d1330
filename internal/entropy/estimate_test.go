package entropy

import (
	"math"
	"math/rand"
	"testing"
)

func TestMeasureUniform(t *testing.T) {
	data := make([]byte, 256*4)
	for i := range data {
		data[i] = byte(i % 256)
	}

	est := Measure(data)
	for name, got := range map[string]float64{
		"shannon":   est.Shannon,
		"min":       est.MinEntropy,
		"collision": est.Collision,
	} {
		if math.Abs(got-8) > 1e-9 {
			t.Fatalf("%s entropy of uniform data = %v, want 8", name, got)
		}
	}
}

func TestMeasureConstant(t *testing.T) {
	data := make([]byte, 512)
	est := Measure(data)
	if est.Shannon != 0 || est.MinEntropy != 0 || est.Collision != 0 {
		t.Fatalf("constant data should measure zero, got %+v", est)
	}
}

func TestMeasureOrderingInvariant(t *testing.T) {
	// For any distribution: 0 <= Hmin <= H2 <= Hshannon <= 8.
	rng := rand.New(rand.NewSource(7))
	const eps = 1e-9

	for trial := 0; trial < 200; trial++ {
		n := 16 + rng.Intn(2048)
		data := make([]byte, n)
		alphabet := 1 + rng.Intn(256)
		for i := range data {
			data[i] = byte(rng.Intn(alphabet))
		}

		est := Measure(data)
		if est.MinEntropy < -eps || est.Shannon > 8+eps {
			t.Fatalf("trial %d: out of range: %+v", trial, est)
		}
		if est.MinEntropy > est.Collision+eps {
			t.Fatalf("trial %d: Hmin %v > H2 %v", trial, est.MinEntropy, est.Collision)
		}
		if est.Collision > est.Shannon+eps {
			t.Fatalf("trial %d: H2 %v > Hshannon %v", trial, est.Collision, est.Shannon)
		}
	}
}

func TestConservativeBitsCapped(t *testing.T) {
	est := Estimate{MinEntropy: 9} // impossible claim, must cap at 8 bits/byte
	if got := est.ConservativeBits(100); got != 800 {
		t.Fatalf("expected cap at 800 bits, got %v", got)
	}

	est = Estimate{MinEntropy: 2.5}
	if got := est.ConservativeBits(100); got != 250 {
		t.Fatalf("expected 250 bits, got %v", got)
	}
}

func TestWindowAppendCompletes(t *testing.T) {
	w := NewWindow(8)

	if done := w.Append([]byte{1, 2, 3}); done != nil {
		t.Fatalf("partial window should not complete, got %d", len(done))
	}
	if w.Pending() != 3 {
		t.Fatalf("expected 3 pending bytes, got %d", w.Pending())
	}

	done := w.Append(make([]byte, 21))
	if len(done) != 3 {
		t.Fatalf("expected 3 completed windows, got %d", len(done))
	}
	for i, win := range done {
		if len(win) != 8 {
			t.Fatalf("window %d has %d bytes, want 8", i, len(win))
		}
	}
	if w.Pending() != 0 {
		t.Fatalf("expected no pending bytes, got %d", w.Pending())
	}
}
