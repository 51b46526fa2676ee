package healthsync

import "context"

// MergeStats summarizes the outcome of a priority-merge insert.
type MergeStats struct {
	// Inserted counts timestamps that had no stored sample.
	Inserted int
	// Replaced counts stored samples overwritten by a higher step count.
	Replaced int
	// Skipped counts incoming samples with a step count at or below the
	// stored one, including exact duplicates.
	Skipped int
}

// SampleAggregates are sums over a half-open [start, end) sample window.
type SampleAggregates struct {
	Samples             int64
	Steps               int64
	ActiveMinutes       int64
	RestingGramCalories int64
	ActiveGramCalories  int64
	DistanceCm          int64
}

// Store is the persistence collaborator. All windows are half-open
// [start, end) in Unix seconds.
//
// InsertSamplesWithPriority must resolve per-timestamp conflicts atomically
// at the storage boundary: a stored sample is replaced only when the incoming
// one has strictly more steps, and concurrent inserts for the same timestamp
// must not lose updates.
type Store interface {
	InsertSamplesWithPriority(ctx context.Context, samples []HealthSample) (MergeStats, error)

	// InsertOverlays inserts events, collapsing exact duplicates on
	// (StartTime, Type). It returns the number of newly stored events.
	InsertOverlays(ctx context.Context, events []OverlayEvent) (int, error)

	SamplesBetween(ctx context.Context, start, end int64) ([]HealthSample, error)

	// OverlaysBetween returns events starting within the window. A non-empty
	// types set restricts the result to those overlay types.
	OverlaysBetween(ctx context.Context, start, end int64, types []OverlayType) ([]OverlayEvent, error)

	SampleAggregates(ctx context.Context, start, end int64) (SampleAggregates, error)

	// SleepSeconds sums sleep overlay durations within the window, split
	// into light and deep stages.
	SleepSeconds(ctx context.Context, start, end int64) (light, deep int64, err error)

	// LatestTimestamp returns the newest stored sample timestamp;
	// ok is false when no samples are stored.
	LatestTimestamp(ctx context.Context) (ts int64, ok bool, err error)

	// PruneBefore deletes samples and overlay events older than cutoff and
	// returns how many rows of each were removed.
	PruneBefore(ctx context.Context, cutoff int64) (samples, overlays int64, err error)

	Close() error
}
