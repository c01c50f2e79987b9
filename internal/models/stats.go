package models

import "time"

// DefaultItemEstimate seeds the ETA before any item has completed, so the
// estimate is defined as soon as total > 0.
const DefaultItemEstimate = 15 * time.Second

// CountItems derives counters by scanning an item list. Used as the
// fallback when a snapshot carries no authoritative summary.
func CountItems(items []Item) JobCounts {
	c := JobCounts{Total: len(items)}
	for _, it := range items {
		switch it.Status {
		case ItemPending:
			c.Pending++
		case ItemProcessing:
			c.Processing++
		case ItemCompleted:
			c.Completed++
		case ItemFailed:
			c.Failed++
		}
	}
	return c
}

// DeriveProgress returns the completed fraction in [0, 1]. A zero total
// yields zero rather than dividing by zero.
func DeriveProgress(c JobCounts) float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Completed+c.Failed) / float64(c.Total)
}

// DeriveETA estimates remaining wall time as remaining items times the
// observed average, or DefaultItemEstimate before any completion exists.
func DeriveETA(c JobCounts, avg time.Duration) time.Duration {
	if avg <= 0 {
		avg = DefaultItemEstimate
	}
	return time.Duration(c.Remaining()) * avg
}

// AvgProcessingTime averages over completed items that recorded a duration.
// Returns zero when no such item exists.
func AvgProcessingTime(items []Item) time.Duration {
	var sum time.Duration
	var n int
	for _, it := range items {
		if it.Status != ItemCompleted {
			continue
		}
		if d, ok := it.Duration(); ok {
			sum += d
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / time.Duration(n)
}

// Throughput returns terminal items per second over the elapsed window.
func Throughput(c JobCounts, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(c.Completed+c.Failed) / elapsed.Seconds()
}

// Stats is the derived metric set shared by both execution strategies.
type Stats struct {
	Counts            JobCounts     `json:"counts"`
	Progress          float64       `json:"progress"`
	AvgProcessingTime time.Duration `json:"avg_processing_time"`
	ETA               time.Duration `json:"eta"`
}

// DeriveStats computes the full metric set for a job snapshot.
func DeriveStats(j *Job) Stats {
	counts := j.Counts()
	progress := DeriveProgress(counts)
	if j.Progress != nil {
		progress = *j.Progress
	}
	avg := AvgProcessingTime(j.Items)
	return Stats{
		Counts:            counts,
		Progress:          progress,
		AvgProcessingTime: avg,
		ETA:               DeriveETA(counts, avg),
	}
}
