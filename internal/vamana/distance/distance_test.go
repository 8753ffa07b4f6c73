package distance

import "testing"

func TestL2Distance(t *testing.T) {
	a := []float32{0, 0}
	b := []float32{3, 4}
	if got := L2Distance(a, b); got != 25 {
		t.Fatalf("L2Distance = %v, want 25", got)
	}
}

func TestNegDotDistance(t *testing.T) {
	a := []float32{1, 2}
	b := []float32{3, 4}
	if got := NegDotDistance(a, b); got != -11 {
		t.Fatalf("NegDotDistance = %v, want -11", got)
	}
}

func TestBatch4(t *testing.T) {
	q := []float32{0, 0}
	got := L2.Batch4(q, []float32{1, 0}, []float32{0, 2}, []float32{3, 0}, []float32{0, 4})
	want := [4]float32{1, 4, 9, 16}
	if got != want {
		t.Fatalf("Batch4 = %v, want %v", got, want)
	}
}

func TestUninitializedSentinel(t *testing.T) {
	if !IsUninitialized(Uninitialized()) {
		t.Fatal("expected Uninitialized() to be detected as NaN sentinel")
	}
	if IsUninitialized(1.0) {
		t.Fatal("1.0 should not be treated as uninitialized")
	}
}
