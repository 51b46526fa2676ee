package healthsync

import (
	"encoding/binary"
	"testing"
)

func stepsHeader(version uint16, packetTime uint32, recordNum int) []byte {
	b := binary.LittleEndian.AppendUint16(nil, version)
	b = binary.LittleEndian.AppendUint32(b, packetTime)
	b = append(b, 0, 0, byte(recordNum))
	return b
}

func stepsRecordV5(steps, orientation uint8, intensity uint16, light, flags uint8) []byte {
	b := []byte{steps, orientation}
	b = binary.LittleEndian.AppendUint16(b, intensity)
	return append(b, light, flags)
}

func stepsRecordV13(steps uint8, flags uint8, restingCal, activeCal, distance uint16, hr uint8, hrWeight uint16, hrZone uint8) []byte {
	b := []byte{steps, 0}
	b = binary.LittleEndian.AppendUint16(b, 0)
	b = append(b, 0, flags)
	b = binary.LittleEndian.AppendUint16(b, restingCal)
	b = binary.LittleEndian.AppendUint16(b, activeCal)
	b = binary.LittleEndian.AppendUint16(b, distance)
	b = append(b, hr)
	b = binary.LittleEndian.AppendUint16(b, hrWeight)
	return append(b, hrZone)
}

func TestDecodeSteps_MinuteCadence(t *testing.T) {
	item := stepsHeader(5, 1000, 2)
	item = append(item, stepsRecordV5(10, 1, 300, 2, activeMinuteFlag)...)
	item = append(item, stepsRecordV5(20, 1, 150, 3, 0)...)

	samples := DecodeSteps(item, len(item))
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if samples[0].Timestamp != 1000 || samples[1].Timestamp != 1060 {
		t.Errorf("expected timestamps 1000 and 1060, got %d and %d",
			samples[0].Timestamp, samples[1].Timestamp)
	}
	if samples[0].Steps != 10 || samples[1].Steps != 20 {
		t.Errorf("expected steps 10 and 20, got %d and %d",
			samples[0].Steps, samples[1].Steps)
	}
	if samples[0].ActiveMinutes != 1 {
		t.Errorf("expected first sample to be an active minute")
	}
	if samples[1].ActiveMinutes != 0 {
		t.Errorf("expected second sample to be inactive")
	}
	if samples[0].Intensity != 300 || samples[0].LightIntensity != 2 {
		t.Errorf("unexpected base fields: %+v", samples[0])
	}
}

func TestDecodeSteps_AllFieldGroups(t *testing.T) {
	item := stepsHeader(13, 5000, 1)
	item = append(item, stepsRecordV13(42, activeMinuteFlag, 120, 340, 77, 95, 250, 3)...)

	samples := DecodeSteps(item, len(item))
	if len(samples) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(samples))
	}
	s := samples[0]
	if s.Steps != 42 || s.ActiveMinutes != 1 {
		t.Errorf("unexpected base fields: %+v", s)
	}
	if s.RestingGramCalories != 120 || s.ActiveGramCalories != 340 || s.DistanceCm != 77 {
		t.Errorf("unexpected calorie fields: %+v", s)
	}
	if s.HeartRate != 95 || s.HeartRateWeight != 250 || s.HeartRateZone != 3 {
		t.Errorf("unexpected heart rate fields: %+v", s)
	}
}

func TestDecodeSteps_UnsupportedVersionDropsRemainder(t *testing.T) {
	good := stepsHeader(5, 1000, 1)
	good = append(good, stepsRecordV5(10, 0, 0, 0, 0)...)
	itemSize := len(good)

	bad := stepsHeader(99, 2000, 1)
	bad = append(bad, stepsRecordV5(20, 0, 0, 0, 0)...)

	trailing := stepsHeader(5, 3000, 1)
	trailing = append(trailing, stepsRecordV5(30, 0, 0, 0, 0)...)

	payload := append(append(good, bad...), trailing...)
	samples := DecodeSteps(payload, itemSize)
	if len(samples) != 1 {
		t.Fatalf("expected decoding to stop at the bad item, got %d samples", len(samples))
	}
	if samples[0].Steps != 10 {
		t.Errorf("expected the sample before the bad item, got %+v", samples[0])
	}
}

func TestDecodeSteps_OverReadDropsRemainder(t *testing.T) {
	good := stepsHeader(5, 1000, 1)
	good = append(good, stepsRecordV5(10, 0, 0, 0, 0)...)
	itemSize := len(good)

	// Claims three sub-records but only has room for one.
	bad := stepsHeader(5, 2000, 3)
	bad = append(bad, stepsRecordV5(20, 0, 0, 0, 0)...)

	trailing := stepsHeader(5, 3000, 1)
	trailing = append(trailing, stepsRecordV5(30, 0, 0, 0, 0)...)

	payload := append(append(good, bad...), trailing...)
	samples := DecodeSteps(payload, itemSize)
	if len(samples) != 1 {
		t.Fatalf("expected decoding to stop at the over-read item, got %d samples", len(samples))
	}
	if samples[0].Timestamp != 1000 {
		t.Errorf("expected only the first item's sample, got %+v", samples[0])
	}
}

func TestDecodeSteps_TrailingPartialItemIgnored(t *testing.T) {
	item := stepsHeader(5, 1000, 1)
	item = append(item, stepsRecordV5(10, 0, 0, 0, 0)...)
	itemSize := len(item)

	payload := append(item, 0xAA, 0xBB, 0xCC)
	samples := DecodeSteps(payload, itemSize)
	if len(samples) != 1 {
		t.Fatalf("expected 1 sample from the complete item, got %d", len(samples))
	}
}

func TestDecodeSteps_PaddingWithinItem(t *testing.T) {
	item := stepsHeader(5, 1000, 1)
	item = append(item, stepsRecordV5(10, 0, 0, 0, 0)...)
	item = append(item, 0, 0, 0, 0) // padding after the last sub-record

	samples := DecodeSteps(item, len(item))
	if len(samples) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(samples))
	}
	if samples[0].Steps != 10 {
		t.Errorf("unexpected sample: %+v", samples[0])
	}
}

func TestDecodeSteps_Empty(t *testing.T) {
	if samples := DecodeSteps(nil, 16); samples != nil {
		t.Fatalf("expected nil for empty payload, got %v", samples)
	}
	if samples := DecodeSteps([]byte{1, 2, 3}, 0); samples != nil {
		t.Fatalf("expected nil for zero item size, got %v", samples)
	}
}

func overlayItem(version, typ uint16, utcOffset, start, duration uint32, extra []byte) []byte {
	b := binary.LittleEndian.AppendUint16(nil, version)
	b = append(b, 0, 0)
	b = binary.LittleEndian.AppendUint16(b, typ)
	b = binary.LittleEndian.AppendUint32(b, utcOffset)
	b = binary.LittleEndian.AppendUint32(b, start)
	b = binary.LittleEndian.AppendUint32(b, duration)
	return append(b, extra...)
}

func activityFields(steps, restingKcal, activeKcal, distance uint16) []byte {
	b := binary.LittleEndian.AppendUint16(nil, steps)
	b = binary.LittleEndian.AppendUint16(b, restingKcal)
	b = binary.LittleEndian.AppendUint16(b, activeKcal)
	return binary.LittleEndian.AppendUint16(b, distance)
}

func TestDecodeOverlays_Sleep(t *testing.T) {
	item := overlayItem(2, uint16(OverlaySleep), 3600, 10000, 7200, nil)

	events := DecodeOverlays(item, len(item))
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Type != OverlaySleep {
		t.Errorf("expected sleep type, got %v", ev.Type)
	}
	if ev.StartTime != 10000 || ev.Duration != 7200 || ev.UTCOffset != 3600 {
		t.Errorf("unexpected interval: %+v", ev)
	}
	if ev.Steps != 0 || ev.ActiveKilocalories != 0 {
		t.Errorf("sleep event should not carry activity fields: %+v", ev)
	}
}

func TestDecodeOverlays_WalkWithActivityFields(t *testing.T) {
	item := overlayItem(3, uint16(OverlayWalk), 0, 20000, 1800,
		activityFields(1500, 30, 90, 1200))

	events := DecodeOverlays(item, len(item))
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Type != OverlayWalk {
		t.Errorf("expected walk type, got %v", ev.Type)
	}
	if ev.Steps != 1500 || ev.RestingKilocalories != 30 || ev.ActiveKilocalories != 90 || ev.DistanceCm != 1200 {
		t.Errorf("unexpected activity fields: %+v", ev)
	}
}

func TestDecodeOverlays_NonActivityFillerConsumed(t *testing.T) {
	// Version 3 firmware emits the eight activity field bytes on every
	// overlay; for sleep they are filler.
	item := overlayItem(3, uint16(OverlayDeepSleep), 0, 30000, 3600,
		[]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})

	events := DecodeOverlays(item, len(item))
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Type != OverlayDeepSleep || ev.StartTime != 30000 || ev.Duration != 3600 {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.Steps != 0 {
		t.Errorf("filler bytes leaked into activity fields: %+v", ev)
	}
}

func TestDecodeOverlays_UnknownTypeSkipsSingleItem(t *testing.T) {
	first := overlayItem(2, uint16(OverlaySleep), 0, 10000, 3600, nil)
	itemSize := len(first)
	unknown := overlayItem(2, 99, 0, 20000, 3600, nil)
	last := overlayItem(2, uint16(OverlayNap), 0, 30000, 1200, nil)

	payload := append(append(first, unknown...), last...)
	events := DecodeOverlays(payload, itemSize)
	if len(events) != 2 {
		t.Fatalf("expected the unknown item to be skipped, got %d events", len(events))
	}
	if events[0].Type != OverlaySleep || events[1].Type != OverlayNap {
		t.Errorf("unexpected events: %+v", events)
	}
}

func TestDecodeOverlays_OverReadSkipsSingleItem(t *testing.T) {
	// Item size fits a version 2 item. The middle item claims version 3
	// activity fields that spill past the frame and is skipped alone.
	first := overlayItem(2, uint16(OverlaySleep), 0, 10000, 3600, nil)
	itemSize := len(first)
	overRead := overlayItem(3, uint16(OverlayRun), 0, 20000, 600, nil)
	last := overlayItem(2, uint16(OverlayDeepNap), 0, 30000, 900, nil)

	payload := append(append(first, overRead...), last...)
	events := DecodeOverlays(payload, itemSize)
	if len(events) != 2 {
		t.Fatalf("expected over-read item to be skipped, got %d events", len(events))
	}
	if events[0].StartTime != 10000 || events[1].StartTime != 30000 {
		t.Errorf("unexpected events: %+v", events)
	}
}
