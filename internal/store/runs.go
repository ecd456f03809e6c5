package store

import (
	"sync"
	"time"

	"github.com/i474232898/weather-lake/internal/pipeline"
)

// RunHistory is a concurrency-safe in-memory record of recent pipeline runs,
// newest last, with count- and age-based retention.
type RunHistory struct {
	mu sync.RWMutex

	runs []pipeline.RunRecord

	// retention configuration
	maxRuns int           // max number of retained records
	maxAge  time.Duration // optional max age for records
}

// NewRunHistory creates a RunHistory with optional limits.
// If maxRuns is <= 0, it is treated as unlimited.
func NewRunHistory(maxRuns int, maxAge time.Duration) *RunHistory {
	return &RunHistory{
		maxRuns: maxRuns,
		maxAge:  maxAge,
	}
}

// Add appends a run record and enforces retention.
func (h *RunHistory) Add(rec pipeline.RunRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.runs = append(h.runs, rec)

	// Enforce retention by count.
	if h.maxRuns > 0 && len(h.runs) > h.maxRuns {
		over := len(h.runs) - h.maxRuns
		h.runs = h.runs[over:]
	}

	// Enforce retention by age.
	if h.maxAge > 0 {
		cutoff := time.Now().Add(-h.maxAge)
		i := 0
		for ; i < len(h.runs); i++ {
			if !h.runs[i].Started.Before(cutoff) {
				break
			}
		}
		if i > 0 {
			h.runs = h.runs[i:]
		}
	}
}

// Recent returns up to n records, newest first. n <= 0 returns everything.
func (h *RunHistory) Recent(n int) []pipeline.RunRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > len(h.runs) {
		n = len(h.runs)
	}

	out := make([]pipeline.RunRecord, 0, n)
	for i := len(h.runs) - 1; i >= len(h.runs)-n; i-- {
		out = append(out, h.runs[i])
	}
	return out
}

// Last returns the most recent record, if any.
func (h *RunHistory) Last() (pipeline.RunRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.runs) == 0 {
		return pipeline.RunRecord{}, false
	}
	return h.runs[len(h.runs)-1], true
}
