package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorTimingAggregates(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpGeneration, 100*time.Millisecond)
	c.RecordTiming(OpGeneration, 300*time.Millisecond)
	c.RecordError(OpGeneration)

	snap := c.Snapshot()
	require.NotNil(t, snap.Generation)
	assert.Equal(t, int64(2), snap.Generation.Count)
	assert.Equal(t, int64(1), snap.Generation.Errors)
	assert.Equal(t, int64(100), snap.Generation.MinTimeMs)
	assert.Equal(t, int64(300), snap.Generation.MaxTimeMs)
	assert.InDelta(t, 200, snap.Generation.AvgTimeMs, 0.001)
}

func TestCollectorEmptyOpsAreOmitted(t *testing.T) {
	c := NewCollector()
	snap := c.Snapshot()
	assert.Nil(t, snap.Generation)
	assert.Nil(t, snap.DBQuery)
	assert.Nil(t, snap.JobSubmit)
}

func TestCollectorItemOutcomes(t *testing.T) {
	c := NewCollector()
	c.RecordItemOutcome(true)
	c.RecordItemOutcome(true)
	c.RecordItemOutcome(false)

	snap := c.Snapshot()
	assert.Equal(t, int64(2), snap.ItemsCompleted)
	assert.Equal(t, int64(1), snap.ItemsFailed)
}

func TestCollectorErrorOnlyOpStillSnapshots(t *testing.T) {
	c := NewCollector()
	c.RecordError(OpDBQuery)

	snap := c.Snapshot()
	require.NotNil(t, snap.DBQuery)
	assert.Equal(t, int64(0), snap.DBQuery.Count)
	assert.Equal(t, int64(1), snap.DBQuery.Errors)
	assert.Equal(t, int64(0), snap.DBQuery.MinTimeMs)
}
