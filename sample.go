package healthsync

// HealthSample is one minute of activity data. Timestamp is seconds since the
// Unix epoch and uniquely identifies the minute; two samples for the same
// minute originating from different sync rounds are merged by step count.
type HealthSample struct {
	Timestamp           int64 `json:"timestamp"`
	Steps               int   `json:"steps"`
	Orientation         int   `json:"orientation"`
	Intensity           int   `json:"intensity"`
	LightIntensity      int   `json:"light_intensity"`
	ActiveMinutes       int   `json:"active_minutes"`
	RestingGramCalories int   `json:"resting_gram_calories"`
	ActiveGramCalories  int   `json:"active_gram_calories"`
	DistanceCm          int   `json:"distance_cm"`
	HeartRate           int   `json:"heart_rate"`
	HeartRateWeight     int   `json:"heart_rate_weight"`
	HeartRateZone       int   `json:"heart_rate_zone"`
}

// OverlayType classifies an overlay interval.
type OverlayType int

const (
	OverlaySleep     OverlayType = 1
	OverlayDeepSleep OverlayType = 2
	OverlayNap       OverlayType = 3
	OverlayDeepNap   OverlayType = 4
	OverlayWalk      OverlayType = 5
	OverlayRun       OverlayType = 6
)

// overlayTypeFromWire maps a wire type code to an OverlayType. The wire codes
// happen to match the OverlayType values; keeping the mapping explicit means
// an unknown code is rejected instead of smuggled through.
func overlayTypeFromWire(raw uint16) (OverlayType, bool) {
	t := OverlayType(raw)
	switch t {
	case OverlaySleep, OverlayDeepSleep, OverlayNap, OverlayDeepNap, OverlayWalk, OverlayRun:
		return t, true
	}
	return 0, false
}

func (t OverlayType) String() string {
	switch t {
	case OverlaySleep:
		return "sleep"
	case OverlayDeepSleep:
		return "deep_sleep"
	case OverlayNap:
		return "nap"
	case OverlayDeepNap:
		return "deep_nap"
	case OverlayWalk:
		return "walk"
	case OverlayRun:
		return "run"
	default:
		return "unknown"
	}
}

// IsSleep reports whether the interval is a light sleep stage.
func (t OverlayType) IsSleep() bool {
	return t == OverlaySleep || t == OverlayNap
}

// IsDeepSleep reports whether the interval is a deep sleep stage.
func (t OverlayType) IsDeepSleep() bool {
	return t == OverlayDeepSleep || t == OverlayDeepNap
}

// IsActivity reports whether the interval is a tracked activity. Activity
// overlays carry step and calorie fields on the wire.
func (t OverlayType) IsActivity() bool {
	return t == OverlayWalk || t == OverlayRun
}

// OverlayEvent is a contiguous interval of sleep or tracked activity.
// StartTime and Duration are in seconds; the activity fields are only
// populated for walk and run intervals decoded from firmware that sends them.
type OverlayEvent struct {
	StartTime           int64       `json:"start_time"`
	Duration            int64       `json:"duration"`
	Type                OverlayType `json:"type"`
	Steps               int         `json:"steps"`
	RestingKilocalories int         `json:"resting_kilocalories"`
	ActiveKilocalories  int         `json:"active_kilocalories"`
	DistanceCm          int         `json:"distance_cm"`
	UTCOffset           int32       `json:"utc_offset"`
}

// End is the exclusive end of the interval in seconds.
func (e OverlayEvent) End() int64 {
	return e.StartTime + e.Duration
}
