package models

import (
	"testing"
	"time"
)

func itemWithStatus(status ItemStatus, ms int64) Item {
	it := Item{ID: "x", Status: status}
	if ms > 0 {
		it.ProcessingMs = &ms
	}
	return it
}

func TestCountItems(t *testing.T) {
	items := []Item{
		itemWithStatus(ItemPending, 0),
		itemWithStatus(ItemPending, 0),
		itemWithStatus(ItemProcessing, 0),
		itemWithStatus(ItemCompleted, 1200),
		itemWithStatus(ItemFailed, 0),
	}

	c := CountItems(items)

	if c.Total != 5 || c.Pending != 2 || c.Processing != 1 || c.Completed != 1 || c.Failed != 1 {
		t.Errorf("CountItems() = %+v", c)
	}
	if !c.Consistent() {
		t.Errorf("counts should satisfy pending+processing+completed+failed == total: %+v", c)
	}
}

func TestDeriveProgress(t *testing.T) {
	tests := []struct {
		name   string
		counts JobCounts
		want   float64
	}{
		{"empty job yields zero, no division", JobCounts{}, 0},
		{"half done", JobCounts{Total: 10, Pending: 5, Completed: 4, Failed: 1}, 0.5},
		{"all terminal", JobCounts{Total: 4, Completed: 3, Failed: 1}, 1},
		{"failures count toward progress", JobCounts{Total: 4, Pending: 2, Failed: 2}, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveProgress(tt.counts); got != tt.want {
				t.Errorf("DeriveProgress(%+v) = %v, want %v", tt.counts, got, tt.want)
			}
		})
	}
}

func TestDeriveETA(t *testing.T) {
	counts := JobCounts{Total: 10, Pending: 3, Processing: 1, Completed: 6}

	// With an observed average.
	if got := DeriveETA(counts, 2*time.Second); got != 8*time.Second {
		t.Errorf("DeriveETA with avg = %v, want 8s", got)
	}

	// Before any completion: default estimate applies, so ETA is always
	// defined once total > 0.
	if got := DeriveETA(counts, 0); got != 4*DefaultItemEstimate {
		t.Errorf("DeriveETA without avg = %v, want %v", got, 4*DefaultItemEstimate)
	}
}

func TestAvgProcessingTime(t *testing.T) {
	items := []Item{
		itemWithStatus(ItemCompleted, 1000),
		itemWithStatus(ItemCompleted, 3000),
		itemWithStatus(ItemCompleted, 0),    // completed but no recorded duration
		itemWithStatus(ItemFailed, 9000),    // failed items excluded
		itemWithStatus(ItemProcessing, 500), // in flight excluded
	}

	if got := AvgProcessingTime(items); got != 2*time.Second {
		t.Errorf("AvgProcessingTime() = %v, want 2s", got)
	}

	if got := AvgProcessingTime(nil); got != 0 {
		t.Errorf("AvgProcessingTime(nil) = %v, want 0", got)
	}
}

func TestJobCountsPreferAuthoritativeSummary(t *testing.T) {
	// The store's summary may reflect items not yet replicated to the
	// client's item list.
	job := &Job{
		Items:   []Item{itemWithStatus(ItemCompleted, 100)},
		Summary: &JobCounts{Total: 10, Completed: 10},
	}

	c := job.Counts()
	if c.Total != 10 || c.Completed != 10 {
		t.Errorf("Counts() = %+v, want summary values", c)
	}

	job.Summary = nil
	c = job.Counts()
	if c.Total != 1 || c.Completed != 1 {
		t.Errorf("Counts() fallback = %+v, want derived values", c)
	}
}

func TestDeriveStats(t *testing.T) {
	job := &Job{
		Items: []Item{
			itemWithStatus(ItemCompleted, 2000),
			itemWithStatus(ItemCompleted, 4000),
			itemWithStatus(ItemPending, 0),
			itemWithStatus(ItemPending, 0),
		},
	}

	stats := DeriveStats(job)

	if stats.Counts.Total != 4 {
		t.Errorf("total = %d, want 4", stats.Counts.Total)
	}
	if stats.Progress != 0.5 {
		t.Errorf("progress = %v, want 0.5", stats.Progress)
	}
	if stats.AvgProcessingTime != 3*time.Second {
		t.Errorf("avg = %v, want 3s", stats.AvgProcessingTime)
	}
	if stats.ETA != 6*time.Second {
		t.Errorf("eta = %v, want 6s", stats.ETA)
	}
}

func TestThroughput(t *testing.T) {
	c := JobCounts{Total: 10, Completed: 8, Failed: 2}
	if got := Throughput(c, 5*time.Second); got != 2 {
		t.Errorf("Throughput() = %v, want 2", got)
	}
	if got := Throughput(c, 0); got != 0 {
		t.Errorf("Throughput(0 elapsed) = %v, want 0", got)
	}
}

func TestSessionInFlight(t *testing.T) {
	tests := []struct {
		name  string
		items []Item
		want  bool
	}{
		{"no job items", nil, false},
		{"untouched batch", []Item{itemWithStatus(ItemPending, 0)}, false},
		{"partially processed", []Item{itemWithStatus(ItemCompleted, 100), itemWithStatus(ItemPending, 0)}, true},
		{"mid dispatch", []Item{itemWithStatus(ItemProcessing, 0), itemWithStatus(ItemPending, 0)}, true},
		{"fully terminal", []Item{itemWithStatus(ItemCompleted, 100), itemWithStatus(ItemFailed, 0)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{UserID: "u1"}
			if tt.items != nil {
				s.Job = &Job{ID: "j1", Items: tt.items}
			}
			if got := s.InFlight(); got != tt.want {
				t.Errorf("InFlight() = %v, want %v", got, tt.want)
			}
		})
	}
}
