package service

import (
	"hash/fnv"
	"strings"

	"github.com/raphaelgruber/bulkgen/internal/models"
)

// Quality score bounds. The score is a heuristic proxy used only in local
// execution, where no remote scorer exists.
const (
	scoreFloor = 55.0
	scoreCeil  = 100.0
)

// QualityScore rates generated content on a bounded scale from output
// length and input richness, plus a small jitter derived from the input so
// identical inputs always score identically. Any monotonic proxy would do
// here; nothing downstream treats the value as ground truth.
func QualityScore(input models.ItemInput, content string) float64 {
	score := scoreFloor

	// Longer output earns up to 25 points, saturating at ~800 chars.
	length := float64(len(content))
	if length > 800 {
		length = 800
	}
	score += 25 * length / 800

	// Richer input earns up to 12 points, saturating at 12 attribute words.
	words := len(strings.Fields(input.Attributes))
	if words > 12 {
		words = 12
	}
	score += float64(words)

	// Deterministic jitter in [0, 8).
	h := fnv.New32a()
	h.Write([]byte(input.Name))
	h.Write([]byte(input.Attributes))
	h.Write([]byte(content))
	score += float64(h.Sum32()%800) / 100

	if score >= scoreCeil {
		score = scoreCeil - 0.01
	}
	return score
}
