package healthsync

import (
	"context"
	"fmt"
	"time"
)

// Summary holds totals for an arbitrary half-open [start, end) window.
type Summary struct {
	Steps               int64
	ActiveMinutes       int64
	RestingGramCalories int64
	ActiveGramCalories  int64
	DistanceCm          int64
	LightSleepSeconds   int64
	DeepSleepSeconds    int64
}

// SleepSeconds is the combined light and deep sleep time.
func (s Summary) SleepSeconds() int64 {
	return s.LightSleepSeconds + s.DeepSleepSeconds
}

// HealthAverages holds rolling per-day averages over a trailing window.
// Averages are taken over the days that actually have data, not the whole
// range, so a fresh install does not report near-zero numbers.
type HealthAverages struct {
	TotalSteps                int64
	AverageStepsPerDay        int
	TotalSleepSeconds         int64
	AverageSleepSecondsPerDay int
	StepDaysWithData          int
	SleepDaysWithData         int
	RangeDays                 int
}

// DebugStats is the health snapshot exposed to the surrounding application
// for diagnostics screens.
type DebugStats struct {
	TotalSteps30Days          int64
	AverageStepsPerDay        int
	TotalSleepSeconds30Days   int64
	AverageSleepSecondsPerDay int
	TodaySteps                int64
	// LatestDataTimestamp is the newest stored sample in Unix seconds,
	// 0 when nothing is stored yet.
	LatestDataTimestamp int64
	DaysOfData          int
}

// Aggregator computes rolling windows over the store. Day boundaries follow
// the configured location, so "today" matches what the user sees.
type Aggregator struct {
	store Store
	loc   *time.Location
}

// NewAggregator returns an Aggregator reading from store. A nil loc defaults
// to time.Local.
func NewAggregator(store Store, loc *time.Location) *Aggregator {
	if loc == nil {
		loc = time.Local
	}
	return &Aggregator{store: store, loc: loc}
}

// DayWindow returns the half-open Unix-second window of the local day
// containing t.
func (a *Aggregator) DayWindow(t time.Time) (start, end int64) {
	t = t.In(a.loc)
	dayStart := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, a.loc)
	return dayStart.Unix(), dayStart.AddDate(0, 0, 1).Unix()
}

// Summarize computes totals over the half-open [start, end) window.
func (a *Aggregator) Summarize(ctx context.Context, start, end int64) (Summary, error) {
	agg, err := a.store.SampleAggregates(ctx, start, end)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to aggregate samples: %w", err)
	}
	light, deep, err := a.store.SleepSeconds(ctx, start, end)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to aggregate sleep: %w", err)
	}
	return Summary{
		Steps:               agg.Steps,
		ActiveMinutes:       agg.ActiveMinutes,
		RestingGramCalories: agg.RestingGramCalories,
		ActiveGramCalories:  agg.ActiveGramCalories,
		DistanceCm:          agg.DistanceCm,
		LightSleepSeconds:   light,
		DeepSleepSeconds:    deep,
	}, nil
}

// Averages computes rolling per-day averages over the trailing window of the
// given number of days, ending with the local day containing now.
func (a *Aggregator) Averages(ctx context.Context, now time.Time, days int) (HealthAverages, error) {
	if days <= 0 {
		return HealthAverages{}, nil
	}

	averages := HealthAverages{RangeDays: days}
	now = now.In(a.loc)
	for offset := 0; offset < days; offset++ {
		day := now.AddDate(0, 0, -offset)
		start, end := a.DayWindow(day)

		agg, err := a.store.SampleAggregates(ctx, start, end)
		if err != nil {
			return averages, fmt.Errorf("failed to aggregate day %d: %w", offset, err)
		}
		if agg.Steps > 0 {
			averages.TotalSteps += agg.Steps
			averages.StepDaysWithData++
		}

		light, deep, err := a.store.SleepSeconds(ctx, start, end)
		if err != nil {
			return averages, fmt.Errorf("failed to aggregate sleep for day %d: %w", offset, err)
		}
		if light+deep > 0 {
			averages.TotalSleepSeconds += light + deep
			averages.SleepDaysWithData++
		}
	}

	if averages.StepDaysWithData > 0 {
		averages.AverageStepsPerDay = int(averages.TotalSteps / int64(averages.StepDaysWithData))
	}
	if averages.SleepDaysWithData > 0 {
		averages.AverageSleepSecondsPerDay = int(averages.TotalSleepSeconds / int64(averages.SleepDaysWithData))
	}
	return averages, nil
}

// DebugStats assembles the diagnostics snapshot: 30-day totals and averages,
// today's steps, and the latest stored sample timestamp.
func (a *Aggregator) DebugStats(ctx context.Context, now time.Time) (DebugStats, error) {
	averages, err := a.Averages(ctx, now, statsAverageDays)
	if err != nil {
		return DebugStats{}, err
	}

	todayStart, todayEnd := a.DayWindow(now)
	todayAgg, err := a.store.SampleAggregates(ctx, todayStart, todayEnd)
	if err != nil {
		return DebugStats{}, fmt.Errorf("failed to aggregate today: %w", err)
	}

	latest, ok, err := a.store.LatestTimestamp(ctx)
	if err != nil {
		return DebugStats{}, fmt.Errorf("failed to read latest timestamp: %w", err)
	}
	if !ok {
		latest = 0
	}

	days := averages.StepDaysWithData
	if averages.SleepDaysWithData > days {
		days = averages.SleepDaysWithData
	}

	return DebugStats{
		TotalSteps30Days:          averages.TotalSteps,
		AverageStepsPerDay:        averages.AverageStepsPerDay,
		TotalSleepSeconds30Days:   averages.TotalSleepSeconds,
		AverageSleepSecondsPerDay: averages.AverageSleepSecondsPerDay,
		TodaySteps:                todayAgg.Steps,
		LatestDataTimestamp:       latest,
		DaysOfData:                days,
	}, nil
}
