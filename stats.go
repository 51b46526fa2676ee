package healthsync

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"
	"time"
)

const (
	// statsAverageDays is the rolling window for the on-device averages.
	statsAverageDays = 30
	// movementHistoryDays is how many trailing days of movement blobs the
	// device keeps, one per weekday.
	movementHistoryDays = 7
	// statsBlobVersion is the movement blob layout version.
	statsBlobVersion uint32 = 1
	// defaultStatPushTimeout bounds each individual blob write.
	defaultStatPushTimeout = 5 * time.Second

	keyAverageDailySteps    = "average_dailySteps"
	keyAverageSleepDuration = "average_sleepDuration"
)

var movementKeys = map[time.Weekday]string{
	time.Monday:    "monday_movementData",
	time.Tuesday:   "tuesday_movementData",
	time.Wednesday: "wednesday_movementData",
	time.Thursday:  "thursday_movementData",
	time.Friday:    "friday_movementData",
	time.Saturday:  "saturday_movementData",
	time.Sunday:    "sunday_movementData",
}

// StatPusher encodes rolling aggregates into fixed binary blobs and writes
// them to the device's statistics store. Each write is bounded by a timeout;
// failures are logged and dropped, since the next scheduled push recomputes
// and resends everything anyway.
type StatPusher struct {
	blobs   BlobWriter
	agg     *Aggregator
	timeout time.Duration
	logger  *slog.Logger
}

// NewStatPusher returns a StatPusher writing through blobs. A zero timeout
// defaults to 5 seconds per write.
func NewStatPusher(blobs BlobWriter, agg *Aggregator, timeout time.Duration, logger *slog.Logger) *StatPusher {
	if timeout <= 0 {
		timeout = defaultStatPushTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StatPusher{blobs: blobs, agg: agg, timeout: timeout, logger: logger}
}

// Push computes the current aggregates and writes the full stat set: one
// movement blob per trailing day and the two 30-day scalar averages. It
// returns the number of successful writes; individual write failures are
// logged, not returned.
func (p *StatPusher) Push(ctx context.Context, now time.Time) (int, error) {
	// Weekday keys must agree with the aggregation windows, so pick them in
	// the same location.
	now = now.In(p.agg.loc)
	averages, err := p.agg.Averages(ctx, now, statsAverageDays)
	if err != nil {
		return 0, err
	}

	sent := 0
	if p.writeStat(ctx, keyAverageDailySteps, scalarBlob(safeUint32(int64(averages.AverageStepsPerDay)))) {
		sent++
	}
	if p.writeStat(ctx, keyAverageSleepDuration, scalarBlob(safeUint32(int64(averages.AverageSleepSecondsPerDay)))) {
		sent++
	}

	for offset := 0; offset < movementHistoryDays; offset++ {
		day := now.AddDate(0, 0, -offset)
		key, ok := movementKeys[day.Weekday()]
		if !ok {
			continue
		}
		start, end := p.agg.DayWindow(day)
		summary, err := p.agg.Summarize(ctx, start, end)
		if err != nil {
			return sent, err
		}
		if p.writeStat(ctx, key, movementBlob(start, summary)) {
			sent++
		}
	}

	p.logger.Info("stat push finished",
		"sent", sent,
		"average_steps_per_day", averages.AverageStepsPerDay,
		"average_sleep_seconds_per_day", averages.AverageSleepSecondsPerDay)
	return sent, nil
}

func (p *StatPusher) writeStat(ctx context.Context, key string, value []byte) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	status, err := p.blobs.Insert(ctx, InsertCommand{
		Token:    newBlobToken(),
		Database: BlobDatabaseHealthStats,
		Key:      []byte(key),
		Value:    value,
	})
	if err != nil {
		// A timed-out or failed write is a no-op for this cycle.
		p.logger.Warn("stat blob write failed", "key", key, "err", err)
		recordBlobPush("error")
		return false
	}
	if status != BlobStatusSuccess {
		p.logger.Warn("stat blob write rejected", "key", key, "status", status.String())
		recordBlobPush(status.String())
		return false
	}
	recordBlobPush(status.String())
	return true
}

// movementBlob encodes one day of movement as seven little-endian u32
// fields: version, day start, steps, active kilocalories, resting
// kilocalories, distance in kilometers, and active seconds.
func movementBlob(dayStart int64, s Summary) []byte {
	blob := make([]byte, 0, 28)
	blob = binary.LittleEndian.AppendUint32(blob, statsBlobVersion)
	blob = binary.LittleEndian.AppendUint32(blob, safeUint32(dayStart))
	blob = binary.LittleEndian.AppendUint32(blob, safeUint32(s.Steps))
	blob = binary.LittleEndian.AppendUint32(blob, safeUint32(s.ActiveGramCalories/1000))
	blob = binary.LittleEndian.AppendUint32(blob, safeUint32(s.RestingGramCalories/1000))
	blob = binary.LittleEndian.AppendUint32(blob, safeUint32(s.DistanceCm/100000))
	blob = binary.LittleEndian.AppendUint32(blob, safeUint32(s.ActiveMinutes*60))
	return blob
}

// scalarBlob encodes a single little-endian u32 value.
func scalarBlob(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(make([]byte, 0, 4), v)
}

func safeUint32(v int64) uint32 {
	if v < 0 {
		return 0
	}
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}
