package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/raphaelgruber/bulkgen/internal/models"
)

func TestQualityScoreBounds(t *testing.T) {
	inputs := []models.ItemInput{
		{},
		{Name: "Widget"},
		{Name: "Widget", Attributes: "blue durable waterproof compact lightweight"},
	}
	contents := []string{
		"",
		"short",
		strings.Repeat("detailed marketing copy ", 100),
	}

	for _, in := range inputs {
		for _, c := range contents {
			score := QualityScore(in, c)
			assert.GreaterOrEqual(t, score, 55.0)
			assert.Less(t, score, 100.0)
		}
	}
}

func TestQualityScoreIsDeterministic(t *testing.T) {
	in := models.ItemInput{Name: "Ergonomic Chair", Attributes: "mesh adjustable lumbar"}
	content := "A chair description with some substance to it."

	first := QualityScore(in, content)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, QualityScore(in, content))
	}
}

func TestQualityScoreRewardsLongerOutput(t *testing.T) {
	in := models.ItemInput{Name: "Desk Lamp"}
	short := QualityScore(in, "ok")
	long := QualityScore(in, strings.Repeat("warm adjustable light ", 50))

	// Jitter is bounded below the length component's span, so a saturated
	// length always outscores a near-empty one.
	assert.Greater(t, long, short)
}
