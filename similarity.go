package main

import (
	"encoding/json"
	"math"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// Landmark is a single tracked body joint for one video frame. Coordinates
// come straight from the client's pose estimator; visibility is optional.
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility,omitempty"`
}

// frameScore compares two landmark sets of the same frame index-by-index.
// Returns max(0, 1 - total euclidean distance), or 0 if the sets differ
// in length. Not scale-normalized; larger motion means a lower score.
func frameScore(a, b []Landmark) float64 {
	if len(a) != len(b) {
		return 0
	}

	total := 0.0
	for i := range a {
		dx := a[i].X - b[i].X
		dy := a[i].Y - b[i].Y
		dz := a[i].Z - b[i].Z
		total += math.Sqrt(dx*dx + dy*dy + dz*dz)
	}

	return math.Max(0, 1-total)
}

// movementVectors returns the per-landmark (dx, dy) displacement between
// each pair of consecutive frames. Frame pairs whose landmark counts
// disagree are skipped. Only x and y are considered.
func movementVectors(seq [][]Landmark) [][]float64 {
	vectors := make([][]float64, 0, len(seq))

	for i := 1; i < len(seq); i++ {
		prev, cur := seq[i-1], seq[i]
		if len(prev) == 0 || len(cur) == 0 || len(prev) != len(cur) {
			continue
		}

		vec := make([]float64, 0, len(cur)*2)
		for j := range cur {
			vec = append(vec, cur[j].X-prev[j].X, cur[j].Y-prev[j].Y)
		}
		vectors = append(vectors, vec)
	}

	return vectors
}

// cosineSimilarity of two flattened displacement vectors, in [-1, 1].
// Returns 0 when either vector has zero magnitude or lengths disagree.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}

	magA = math.Sqrt(magA)
	magB = math.Sqrt(magB)
	if magA == 0 || magB == 0 {
		return 0
	}

	return dot / (magA * magB)
}

// sequenceScore compares the movement patterns of two pose sequences rather
// than their absolute positions: displacement vectors are computed for each
// sequence, truncated to the shorter run, and scored pairwise with cosine
// similarity. The mean is scaled to [-100, 100]. Sequences shorter than two
// frames score 0.
func sequenceScore(reference, user [][]Landmark) float64 {
	if len(reference) < 2 || len(user) < 2 {
		return 0
	}

	refVectors := movementVectors(reference)
	userVectors := movementVectors(user)

	minLength := min(len(refVectors), len(userVectors))
	if minLength == 0 {
		return 0
	}

	var total float64
	var valid int
	for i := 0; i < minLength; i++ {
		similarity := cosineSimilarity(refVectors[i], userVectors[i])
		if math.IsNaN(similarity) {
			continue
		}
		total += similarity
		valid++
	}

	if valid == 0 {
		return 0
	}

	return total / float64(valid) * 100
}

type compareRequest struct {
	Reference [][]Landmark `json:"reference"`
	User      [][]Landmark `json:"user"`
}

type compareResponse struct {
	Score float64 `json:"score"`
}

// serveCompare scores two full pose sequences against each other using the
// movement-cosine strategy. This is a standalone scoring endpoint; the live
// relay path uses frameScore instead.
func serveCompare(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req compareRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		score := sequenceScore(req.Reference, req.User)

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		securityHeaders(cfg, w)
		_ = json.NewEncoder(w).Encode(compareResponse{Score: score})

		logf(cfg, "SCORE: Compared %d reference and %d user frames from %s: %.2f",
			len(req.Reference), len(req.User), realIP(r), score)
	}
}
