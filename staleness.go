package healthsync

// The staleness filter drops telemetry recorded before the current device
// was last connected or selected. When a user switches between paired
// devices, the newly selected one replays history the previous device
// already contributed; without the cutoff, resting calories and sleep
// intervals would be double counted. The cutoff is applied before any write,
// never after.

// filterStaleSamples keeps samples whose timestamp is at or after cutoff
// (Unix seconds). The input slice is not modified.
func filterStaleSamples(samples []HealthSample, cutoff int64) []HealthSample {
	kept := make([]HealthSample, 0, len(samples))
	for _, s := range samples {
		if s.Timestamp >= cutoff {
			kept = append(kept, s)
		}
	}
	return kept
}

// filterStaleOverlays keeps events whose start time is at or after cutoff.
func filterStaleOverlays(events []OverlayEvent, cutoff int64) []OverlayEvent {
	kept := make([]OverlayEvent, 0, len(events))
	for _, ev := range events {
		if ev.StartTime >= cutoff {
			kept = append(kept, ev)
		}
	}
	return kept
}
