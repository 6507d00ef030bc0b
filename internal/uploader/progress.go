package uploader

import (
	"time"
)

// Progress is a point-in-time snapshot of one upload attempt, suitable for
// rendering a progress bar.
type Progress struct {
	UploadedBytes  int64
	TotalBytes     int64
	CompletedParts int
	TotalParts     int
	// Speed is bytes/second since the previous sample, not the lifetime
	// average, so it tracks changing network conditions.
	Speed float64
	// ETA is the estimated time remaining at the current speed. Zero when
	// the speed is unknown.
	ETA     time.Duration
	Elapsed time.Duration
}

// Percent returns completion in [0, 100].
func (p Progress) Percent() float64 {
	if p.TotalBytes <= 0 {
		return 100.0
	}
	return float64(p.UploadedBytes) / float64(p.TotalBytes) * 100.0
}

// ProgressTracker derives speed and ETA from cumulative byte counters.
// It is not safe for concurrent use; the orchestrator samples it under its
// own lock.
type ProgressTracker struct {
	totalBytes int64
	totalParts int
	startedAt  time.Time
	lastBytes  int64
	lastAt     time.Time
	lastSpeed  float64
}

func NewProgressTracker(totalBytes int64, totalParts int, now time.Time) *ProgressTracker {
	return &ProgressTracker{
		totalBytes: totalBytes,
		totalParts: totalParts,
		startedAt:  now,
		lastAt:     now,
	}
}

// Sample records a new cumulative byte count and returns the updated snapshot.
// A non-positive interval since the previous sample keeps the last-known
// speed. Speed is clamped to >= 0 and ETA is 0 when speed is unknown, so the
// result never carries negative or infinite values.
func (t *ProgressTracker) Sample(uploadedBytes int64, completedParts int, now time.Time) Progress {
	interval := now.Sub(t.lastAt)
	if interval > 0 {
		delta := uploadedBytes - t.lastBytes
		if delta < 0 {
			delta = 0
		}
		t.lastSpeed = float64(delta) / interval.Seconds()
		t.lastBytes = uploadedBytes
		t.lastAt = now
	}

	var eta time.Duration
	if t.lastSpeed > 0 {
		remaining := t.totalBytes - uploadedBytes
		if remaining < 0 {
			remaining = 0
		}
		eta = time.Duration(float64(remaining) / t.lastSpeed * float64(time.Second))
	}

	return Progress{
		UploadedBytes:  uploadedBytes,
		TotalBytes:     t.totalBytes,
		CompletedParts: completedParts,
		TotalParts:     t.totalParts,
		Speed:          t.lastSpeed,
		ETA:            eta,
		Elapsed:        now.Sub(t.startedAt),
	}
}
