package numeric

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func TestClamp01(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"inside", 0.4, 0.4},
		{"below", -0.2, 0},
		{"above", 1.7, 1},
		{"nan", math.NaN(), 0},
		{"edge zero", 0, 0},
		{"edge one", 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clamp01(tt.in); got != tt.want {
				t.Errorf("Clamp01(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestComposeCommutes(t *testing.T) {
	x := 0.3
	a := Compose(Compose(x, 0.2), 0.5)
	b := Compose(Compose(x, 0.5), 0.2)
	if math.Abs(a-b) > 1e-12 {
		t.Fatalf("compose order-sensitive: %v vs %v", a, b)
	}
	if a <= x || a > 1 {
		t.Fatalf("compose out of range: %v", a)
	}
	if Compose(0.99, 0.99) > 1 {
		t.Fatal("compose saturated past 1")
	}
}

func TestDamp(t *testing.T) {
	if got := Damp(0.5, 0.5); got != 0.25 {
		t.Errorf("Damp(0.5, 0.5) = %v, want 0.25", got)
	}
	if got := Damp(0.5, 2); got != 0 {
		t.Errorf("Damp with d>1 = %v, want 0", got)
	}
}

func TestStdev(t *testing.T) {
	if got := Stdev([]float64{1}); got != 0 {
		t.Errorf("single value stdev = %v", got)
	}
	got := Stdev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if math.Abs(got-2) > 1e-12 {
		t.Errorf("stdev = %v, want 2", got)
	}
}

func TestMoneyHelpers(t *testing.T) {
	d := decimal.RequireFromString("100")
	if got := Scale(d, 0.5); !got.Equal(decimal.RequireFromString("50")) {
		t.Errorf("Scale = %s, want 50", got)
	}
	if got := Money(math.NaN()); !got.IsZero() {
		t.Errorf("Money(NaN) = %s, want 0", got)
	}
	if got := NonNegative(decimal.NewFromInt(-3)); !got.IsZero() {
		t.Errorf("NonNegative(-3) = %s", got)
	}
	if got := Ratio(d, decimal.Zero); got != 0 {
		t.Errorf("Ratio by zero = %v", got)
	}
}

func TestRing(t *testing.T) {
	r := NewRing(3)
	for _, v := range []float64{1, 2, 3, 4} {
		r.Push(v)
	}
	if r.Len() != 3 {
		t.Fatalf("len = %d, want 3", r.Len())
	}
	vals := r.Values()
	want := []float64{2, 3, 4}
	for i := range want {
		if vals[i] != want[i] {
			t.Fatalf("values = %v, want %v", vals, want)
		}
	}
	if r.Last(0) != 4 || r.Back(2, 0) != 2 || r.Back(5, -1) != -1 {
		t.Errorf("unexpected Last/Back: %v %v %v", r.Last(0), r.Back(2, 0), r.Back(5, -1))
	}
	if tail := r.Tail(2); tail[0] != 3 || tail[1] != 4 {
		t.Errorf("tail = %v", tail)
	}
}

func TestRingClone(t *testing.T) {
	r := NewRing(3)
	r.Push(1)
	r.Push(2)
	c := r.Clone()
	r.Push(3)
	r.Push(4)
	if c.Len() != 2 || c.Last(0) != 2 || c.Cap() != 3 {
		t.Errorf("clone followed the original: len %d last %v", c.Len(), c.Last(0))
	}
	c.Push(7)
	if r.Last(0) != 4 {
		t.Errorf("original changed through clone: last %v", r.Last(0))
	}
	var nilRing *Ring
	if nilRing.Clone() != nil {
		t.Error("nil ring should clone to nil")
	}
}

func TestRingJSON(t *testing.T) {
	r := NewRing(4)
	r.Push(0.5)
	r.Push(0.25)
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	restored := NewRing(4)
	if err := json.Unmarshal(data, restored); err != nil {
		t.Fatal(err)
	}
	again, _ := json.Marshal(restored)
	if string(again) != string(data) {
		t.Errorf("ring JSON round trip: %s vs %s", again, data)
	}
}
