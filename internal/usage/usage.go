package usage

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/settings"
)

// Outcome classifies a dispatch attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeTimeout Outcome = "timeout"
	OutcomeError   Outcome = "error"
)

// CandidateKind identifies which stage of the cascade an attempt belongs to.
type CandidateKind string

const (
	KindPrimary  CandidateKind = "primary"
	KindBackup   CandidateKind = "backup"
	KindFallback CandidateKind = "fallback"
)

// Entry records one dispatch attempt. Entries are never mutated after Append.
type Entry struct {
	ID        string        `json:"id"`
	RequestID string        `json:"request_id"`
	Timestamp time.Time     `json:"timestamp"`
	Candidate string        `json:"candidate"` // e.g. "primary:gpt-4o-mini".
	Kind      CandidateKind `json:"kind"`
	Model     string        `json:"model"`
	Attempt   int           `json:"attempt"` // 1-based, per candidate.
	LatencyMs *int64        `json:"latency_ms,omitempty"`
	Outcome   Outcome       `json:"outcome"`
	Error     string        `json:"error,omitempty"`
}

// Stats is derived from the log on demand.
type Stats struct {
	RequestsToday    int   `json:"requests_today"`
	SuccessRate      int   `json:"success_rate"` // Percent, rounded.
	AverageLatencyMs int64 `json:"average_latency_ms"`
	TotalRequests    int   `json:"total_requests"`
}

// Recorder is a bounded FIFO ring of dispatch attempts. When full, Append
// overwrites the oldest entry.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
	start   int // Index of the oldest entry.
	size    int
	nowFn   func() time.Time
	loc     *time.Location
}

// NewRecorder constructs a Recorder; capacity <= 0 uses the default cap.
func NewRecorder(capacity int, nowFn func() time.Time) *Recorder {
	if capacity <= 0 {
		capacity = settings.DefaultLogCapacity
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Recorder{
		entries: make([]Entry, capacity),
		nowFn:   nowFn,
		loc:     time.Local,
	}
}

// Capacity returns the ring size.
func (r *Recorder) Capacity() int { return len(r.entries) }

// Append stores entry in O(1), filling ID and Timestamp when missing.
func (r *Recorder) Append(entry Entry) {
	if r == nil {
		return
	}
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.nowFn()
	}
	if entry.LatencyMs != nil {
		latency := *entry.LatencyMs
		entry.LatencyMs = &latency
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	capacity := len(r.entries)
	if r.size < capacity {
		r.entries[(r.start+r.size)%capacity] = entry
		r.size++
		return
	}
	r.entries[r.start] = entry
	r.start = (r.start + 1) % capacity
}

// Len returns the number of stored entries.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Logs returns up to limit of the newest entries, oldest first; limit <= 0 returns all.
func (r *Recorder) Logs(limit int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(limit)
}

func (r *Recorder) snapshotLocked(limit int) []Entry {
	n := r.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, 0, n)
	capacity := len(r.entries)
	for i := r.size - n; i < r.size; i++ {
		out = append(out, r.entries[(r.start+i)%capacity])
	}
	return out
}

// Clear irreversibly drops every entry.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		r.entries[i] = Entry{}
	}
	r.start = 0
	r.size = 0
}

// StatsForToday aggregates entries timestamped since local midnight.
func (r *Recorder) StatsForToday() Stats {
	r.mu.Lock()
	entries := r.snapshotLocked(0)
	r.mu.Unlock()

	now := r.nowFn().In(r.loc)
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, r.loc)

	stats := Stats{TotalRequests: len(entries)}
	var successes int
	var latencySum int64
	var latencyCount int64
	for _, entry := range entries {
		if entry.Timestamp.Before(todayStart) {
			continue
		}
		stats.RequestsToday++
		if entry.Outcome == OutcomeSuccess {
			successes++
		}
		if entry.LatencyMs != nil {
			latencySum += *entry.LatencyMs
			latencyCount++
		}
	}
	if stats.RequestsToday > 0 {
		stats.SuccessRate = int(math.Round(float64(successes) * 100 / float64(stats.RequestsToday)))
	}
	if latencyCount > 0 {
		stats.AverageLatencyMs = int64(math.Round(float64(latencySum) / float64(latencyCount)))
	}
	return stats
}

// Latency is a helper for building entries with a measured duration.
func Latency(d time.Duration) *int64 {
	ms := d.Milliseconds()
	return &ms
}
