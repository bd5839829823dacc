package confidence

import (
	"math"
	"math/rand/v2"
	"testing"
)

const epsilon = 1e-9

func TestHistory_FIFOEviction(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 25; i++ {
		h.Push(float64(i))
	}
	if h.Len() != HistoryCapacity {
		t.Fatalf("Len = %d, want %d", h.Len(), HistoryCapacity)
	}
	got := h.Values()
	if got[0] != 5 {
		t.Errorf("oldest = %v, want 5", got[0])
	}
	if got[len(got)-1] != 24 {
		t.Errorf("newest = %v, want 24", got[len(got)-1])
	}

	h.Reset()
	if h.Len() != 0 {
		t.Errorf("Len after Reset = %d, want 0", h.Len())
	}
}

func TestHistory_ValuesIsCopy(t *testing.T) {
	h := NewHistory()
	h.Push(1)
	v := h.Values()
	v[0] = 99
	if h.Values()[0] != 1 {
		t.Error("mutating Values() result changed history")
	}
}

func TestEstimator_Bounds(t *testing.T) {
	tests := []struct {
		name      string
		threshold float64
		wantLower float64
		wantUpper float64
	}{
		{name: "threshold 5", threshold: 5, wantLower: 5 * math.Exp(-math.Log10(5)/2), wantUpper: 5 * math.Exp(math.Log10(5)/2)},
		{name: "threshold 100", threshold: 100, wantLower: 100 * math.Exp(-1), wantUpper: 100 * math.Exp(1)},
		{name: "threshold 1 collapses", threshold: 1, wantLower: 1, wantUpper: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lower, upper := NewEstimator(tt.threshold).Bounds()
			if math.Abs(lower-tt.wantLower) > epsilon {
				t.Errorf("lower = %v, want %v", lower, tt.wantLower)
			}
			if math.Abs(upper-tt.wantUpper) > epsilon {
				t.Errorf("upper = %v, want %v", upper, tt.wantUpper)
			}
		})
	}
}

func TestEstimator_Base(t *testing.T) {
	e := NewEstimator(5)
	lower, upper := e.Bounds()

	if got := e.Base(0); got != confidentNormal {
		t.Errorf("Base(0) = %v, want %v", got, confidentNormal)
	}
	if got := e.Base(upper * 10); got != confidentAnomalous {
		t.Errorf("Base(far above) = %v, want %v", got, confidentAnomalous)
	}
	if got := e.Base((lower + upper) / 2); math.Abs(got-0.45) > epsilon {
		t.Errorf("Base(midpoint) = %v, want 0.45", got)
	}

	// Confidence falls monotonically across the band.
	prev := math.Inf(1)
	for i := 0; i <= 10; i++ {
		d := lower + (upper-lower)*float64(i)/10
		got := e.Base(d)
		if got >= prev {
			t.Errorf("Base(%v) = %v, not below previous %v", d, got, prev)
		}
		prev = got
	}
}

func TestEstimator_BaseCollapsedBand(t *testing.T) {
	e := NewEstimator(1)
	if got := e.Base(1); math.Abs(got-0.45) > epsilon {
		t.Errorf("Base(1) = %v, want 0.45", got)
	}
}

func TestConfidence_ShortHistoryUsesBase(t *testing.T) {
	e := NewEstimator(5)
	h := NewHistory()

	for i, d := range []float64{50, 60, 55} {
		got := e.Confidence(d, h)
		if got != confidentAnomalous {
			t.Errorf("call %d: Confidence(%v) = %v, want %v", i, d, got, confidentAnomalous)
		}
	}
	if h.Len() != 3 {
		t.Errorf("history Len = %d, want 3", h.Len())
	}
}

func TestConfidence_ConstantHistory(t *testing.T) {
	e := NewEstimator(5)
	h := NewHistory()

	var got float64
	for i := 0; i < 10; i++ {
		got = e.Confidence(50, h)
	}
	// std = 0 so both stability terms are 1; weight = 10/20.
	want := 0.9*0.5 + (0.9+1)/2*0.5
	if math.Abs(got-want) > epsilon {
		t.Errorf("Confidence = %v, want %v", got, want)
	}
}

func TestConfidence_VolatileHistoryPenalized(t *testing.T) {
	e := NewEstimator(5)
	steady := NewHistory()
	volatile := NewHistory()

	var steadyConf, volatileConf float64
	for i := 0; i < 12; i++ {
		steadyConf = e.Confidence(1, steady)
		d := 0.5
		if i%2 == 0 {
			d = 2.5
		}
		volatileConf = e.Confidence(d, volatile)
	}
	if volatileConf >= steadyConf {
		t.Errorf("volatile confidence %v should be below steady %v", volatileConf, steadyConf)
	}
}

func TestConfidence_InfiniteDistanceNotRecorded(t *testing.T) {
	e := NewEstimator(5)
	h := NewHistory()

	got := e.Confidence(math.Inf(1), h)
	if h.Len() != 0 {
		t.Errorf("history Len = %d, want 0", h.Len())
	}
	if got != confidentAnomalous {
		t.Errorf("Confidence(+Inf) = %v, want %v", got, confidentAnomalous)
	}

	for i := 0; i < 8; i++ {
		e.Confidence(3, h)
	}
	got = e.Confidence(math.Inf(1), h)
	if h.Len() != 8 {
		t.Errorf("history Len = %d, want 8", h.Len())
	}
	if got < 0 || got > 1 || math.IsNaN(got) {
		t.Errorf("Confidence(+Inf) with history = %v, want within [0,1]", got)
	}
}

func TestConfidence_AlwaysInUnitInterval(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	thresholds := []float64{0.01, 0.5, 1, 2, 5, 37, 1e3, 1e6}

	for _, th := range thresholds {
		e := NewEstimator(th)
		h := NewHistory()
		for i := 0; i < 200; i++ {
			var d float64
			switch i % 4 {
			case 0:
				d = 0
			case 1:
				d = th
			default:
				d = r.ExpFloat64() * th * 2
			}
			got := e.Confidence(d, h)
			if math.IsNaN(got) || got < 0 || got > 1 {
				t.Fatalf("threshold %v distance %v: Confidence = %v outside [0,1]", th, d, got)
			}
		}
	}
}

func TestConfidence_AllZeroHistory(t *testing.T) {
	e := NewEstimator(5)
	h := NewHistory()
	for i := 0; i < HistoryCapacity+5; i++ {
		got := e.Confidence(0, h)
		if math.IsNaN(got) || got < 0 || got > 1 {
			t.Fatalf("call %d: Confidence = %v outside [0,1]", i, got)
		}
		if got < 0.9 {
			t.Fatalf("call %d: Confidence = %v, want >= 0.9 for a steady normal stream", i, got)
		}
	}
}
