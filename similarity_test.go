package main

import (
	"math"
	"testing"
)

func landmarks(coords ...[3]float64) []Landmark {
	out := make([]Landmark, 0, len(coords))
	for _, c := range coords {
		out = append(out, Landmark{X: c[0], Y: c[1], Z: c[2]})
	}
	return out
}

func TestFrameScoreIdenticalSets(t *testing.T) {
	a := landmarks([3]float64{0.1, 0.2, 0.3}, [3]float64{0.4, 0.5, 0.6})
	b := landmarks([3]float64{0.1, 0.2, 0.3}, [3]float64{0.4, 0.5, 0.6})

	if got := frameScore(a, b); got != 1 {
		t.Fatalf("identical sets: want 1, got %v", got)
	}
}

func TestFrameScoreLengthMismatch(t *testing.T) {
	a := landmarks([3]float64{0, 0, 0}, [3]float64{1, 1, 1}, [3]float64{2, 2, 2})
	b := landmarks([3]float64{0, 0, 0}, [3]float64{1, 1, 1})

	if got := frameScore(a, b); got != 0 {
		t.Fatalf("mismatched lengths: want 0, got %v", got)
	}
}

func TestFrameScoreDecreasesWithDistance(t *testing.T) {
	base := landmarks([3]float64{0, 0, 0})

	near := frameScore(base, landmarks([3]float64{0.1, 0, 0}))
	far := frameScore(base, landmarks([3]float64{0.5, 0, 0}))

	if near <= far {
		t.Fatalf("expected score to decrease with distance: near=%v far=%v", near, far)
	}

	wantNear := 1 - 0.1
	if math.Abs(near-wantNear) > 1e-9 {
		t.Fatalf("near score: want %v, got %v", wantNear, near)
	}
}

func TestFrameScoreClampsAtZero(t *testing.T) {
	a := landmarks([3]float64{0, 0, 0})
	b := landmarks([3]float64{10, 10, 10})

	if got := frameScore(a, b); got != 0 {
		t.Fatalf("large distance: want clamped 0, got %v", got)
	}
}

func TestSequenceScoreTooFewFrames(t *testing.T) {
	single := [][]Landmark{landmarks([3]float64{0, 0, 0})}
	pair := [][]Landmark{
		landmarks([3]float64{0, 0, 0}),
		landmarks([3]float64{1, 0, 0}),
	}

	if got := sequenceScore(single, pair); got != 0 {
		t.Fatalf("one-frame reference: want 0, got %v", got)
	}
	if got := sequenceScore(pair, single); got != 0 {
		t.Fatalf("one-frame user: want 0, got %v", got)
	}
	if got := sequenceScore(nil, nil); got != 0 {
		t.Fatalf("empty sequences: want 0, got %v", got)
	}
}

func TestSequenceScoreIdenticalMotion(t *testing.T) {
	seq := [][]Landmark{
		landmarks([3]float64{0, 0, 0}, [3]float64{1, 1, 0}),
		landmarks([3]float64{0.1, 0, 0}, [3]float64{1.1, 1, 0}),
		landmarks([3]float64{0.2, 0, 0}, [3]float64{1.2, 1, 0}),
	}

	got := sequenceScore(seq, seq)
	if math.Abs(got-100) > 1e-9 {
		t.Fatalf("identical motion: want 100, got %v", got)
	}
}

func TestSequenceScoreOppositeMotion(t *testing.T) {
	right := [][]Landmark{
		landmarks([3]float64{0, 0, 0}),
		landmarks([3]float64{0.1, 0, 0}),
		landmarks([3]float64{0.2, 0, 0}),
	}
	left := [][]Landmark{
		landmarks([3]float64{0, 0, 0}),
		landmarks([3]float64{-0.1, 0, 0}),
		landmarks([3]float64{-0.2, 0, 0}),
	}

	got := sequenceScore(right, left)
	if math.Abs(got+100) > 1e-9 {
		t.Fatalf("opposite motion: want -100, got %v", got)
	}
}

func TestSequenceScoreStationaryFrames(t *testing.T) {
	still := [][]Landmark{
		landmarks([3]float64{0, 0, 0}),
		landmarks([3]float64{0, 0, 0}),
	}
	moving := [][]Landmark{
		landmarks([3]float64{0, 0, 0}),
		landmarks([3]float64{0.5, 0, 0}),
	}

	// A zero-magnitude displacement vector contributes 0, not NaN.
	if got := sequenceScore(still, moving); got != 0 {
		t.Fatalf("stationary reference: want 0, got %v", got)
	}
}

func TestSequenceScoreTruncatesToShorterRun(t *testing.T) {
	long := [][]Landmark{
		landmarks([3]float64{0, 0, 0}),
		landmarks([3]float64{0.1, 0, 0}),
		landmarks([3]float64{0.2, 0, 0}),
		landmarks([3]float64{0.3, 0, 0}),
		landmarks([3]float64{0.2, 0, 0}),
	}
	short := [][]Landmark{
		landmarks([3]float64{0, 0, 0}),
		landmarks([3]float64{0.2, 0, 0}),
		landmarks([3]float64{0.4, 0, 0}),
	}

	// Both sequences move in the same direction over the compared prefix;
	// the long sequence's late reversal must not count.
	got := sequenceScore(long, short)
	if math.Abs(got-100) > 1e-9 {
		t.Fatalf("truncated comparison: want 100, got %v", got)
	}
}

func TestSequenceScoreIgnoresZ(t *testing.T) {
	flat := [][]Landmark{
		landmarks([3]float64{0, 0, 0}),
		landmarks([3]float64{0.1, 0, 0}),
	}
	deep := [][]Landmark{
		landmarks([3]float64{0, 0, 5}),
		landmarks([3]float64{0.1, 0, -5}),
	}

	got := sequenceScore(flat, deep)
	if math.Abs(got-100) > 1e-9 {
		t.Fatalf("z must be ignored: want 100, got %v", got)
	}
}

func TestMovementVectorsSkipsMismatchedFrames(t *testing.T) {
	seq := [][]Landmark{
		landmarks([3]float64{0, 0, 0}),
		landmarks([3]float64{0.1, 0, 0}, [3]float64{0.2, 0, 0}),
		landmarks([3]float64{0.1, 0, 0}, [3]float64{0.3, 0, 0}),
	}

	vectors := movementVectors(seq)
	if len(vectors) != 1 {
		t.Fatalf("expected 1 usable frame pair, got %d", len(vectors))
	}
	if len(vectors[0]) != 4 {
		t.Fatalf("expected 2 landmarks x 2 axes, got %d values", len(vectors[0]))
	}
}

func TestCosineSimilarityBounds(t *testing.T) {
	if got := cosineSimilarity([]float64{1, 0}, []float64{1, 0}); math.Abs(got-1) > 1e-9 {
		t.Errorf("parallel vectors: want 1, got %v", got)
	}
	if got := cosineSimilarity([]float64{1, 0}, []float64{-1, 0}); math.Abs(got+1) > 1e-9 {
		t.Errorf("antiparallel vectors: want -1, got %v", got)
	}
	if got := cosineSimilarity([]float64{1, 0}, []float64{0, 1}); math.Abs(got) > 1e-9 {
		t.Errorf("orthogonal vectors: want 0, got %v", got)
	}
	if got := cosineSimilarity([]float64{0, 0}, []float64{1, 1}); got != 0 {
		t.Errorf("zero magnitude: want 0, got %v", got)
	}
	if got := cosineSimilarity([]float64{1, 0}, []float64{1, 0, 0}); got != 0 {
		t.Errorf("length mismatch: want 0, got %v", got)
	}
}
