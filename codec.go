package healthsync

import (
	"log/slog"

	"github.com/healthsync-dev/healthsync/internal/encoding"
)

// Steps record versions by firmware generation. The set below is an
// allow-list: an item carrying any other version aborts decoding of the
// remainder of the payload.
const (
	stepsVersionFW310 uint16 = 5  // firmware 3.10 and below
	stepsVersionFW311 uint16 = 6  // adds calorie and distance fields
	stepsVersionFW40  uint16 = 7  // adds heart rate
	stepsVersionFW41  uint16 = 8  // adds heart rate weight
	stepsVersionFW43  uint16 = 13 // adds heart rate zone
)

var supportedStepsVersions = map[uint16]struct{}{
	stepsVersionFW310: {},
	stepsVersionFW311: {},
	stepsVersionFW40:  {},
	stepsVersionFW41:  {},
	stepsVersionFW43:  {},
}

// overlayVersionActivityFields is the overlay item version that introduced
// step/calorie/distance fields for walk and run intervals. That firmware
// generation also emits the eight field bytes for every other overlay type,
// where they are meaningless and must be consumed as filler.
const overlayVersionActivityFields uint16 = 3

// activeMinuteFlag is bit 1 of the per-minute flags byte.
const activeMinuteFlag = 0x02

// stepsField reads one field group of a sub-record. The groups are applied
// in wire order for every entry whose minVersion is satisfied, so a new
// firmware generation is one new table row rather than another nested branch.
type stepsField struct {
	minVersion uint16
	read       func(r *encoding.Reader, s *HealthSample)
}

var stepsFields = []stepsField{
	{0, func(r *encoding.Reader, s *HealthSample) {
		s.Steps = int(r.Uint8())
		s.Orientation = int(r.Uint8())
		s.Intensity = int(r.Uint16())
		s.LightIntensity = int(r.Uint8())
	}},
	{stepsVersionFW310, func(r *encoding.Reader, s *HealthSample) {
		if r.Uint8()&activeMinuteFlag != 0 {
			s.ActiveMinutes = 1
		}
	}},
	{stepsVersionFW311, func(r *encoding.Reader, s *HealthSample) {
		s.RestingGramCalories = int(r.Uint16())
		s.ActiveGramCalories = int(r.Uint16())
		s.DistanceCm = int(r.Uint16())
	}},
	{stepsVersionFW40, func(r *encoding.Reader, s *HealthSample) {
		s.HeartRate = int(r.Uint8())
	}},
	{stepsVersionFW41, func(r *encoding.Reader, s *HealthSample) {
		s.HeartRateWeight = int(r.Uint16())
	}},
	{stepsVersionFW43, func(r *encoding.Reader, s *HealthSample) {
		s.HeartRateZone = int(r.Uint8())
	}},
}

// DecodeSteps decodes a steps payload into per-minute samples. The payload is
// framed as fixed-size items of itemSize bytes; a trailing partial item is
// logged and ignored. Each item holds a header plus recordNum sub-records at
// one-minute cadence starting from the item's packet timestamp.
//
// Decoding never fails: malformed input degrades by dropping the offending
// unit. An unsupported version or an item that spills past its declared size
// drops the remainder of the payload; samples decoded before that point are
// kept.
func DecodeSteps(payload []byte, itemSize int) []HealthSample {
	if len(payload) == 0 || itemSize <= 0 {
		return nil
	}
	if len(payload)%itemSize != 0 {
		slog.Warn("steps payload is not a multiple of item size, parsing complete items only",
			"payload_bytes", len(payload), "item_size", itemSize)
	}

	var samples []HealthSample
	items := len(payload) / itemSize
	for i := 0; i < items; i++ {
		r := encoding.NewReader(payload[i*itemSize : (i+1)*itemSize])

		version := r.Uint16()
		packetTime := r.Uint32()
		r.Skip(1) // unused
		r.Skip(1) // record length, redundant with the session item size
		recordNum := int(r.Uint8())
		if r.Err() != nil {
			slog.Warn("steps item too short for header, dropping remainder of payload",
				"item", i, "item_size", itemSize)
			recordDecodeFailure("steps", "short_header")
			return samples
		}
		if _, ok := supportedStepsVersions[version]; !ok {
			slog.Warn("unsupported steps record version, dropping remainder of payload",
				"version", version, "item", i)
			recordDecodeFailure("steps", "unsupported_version")
			return samples
		}

		decoded := make([]HealthSample, 0, recordNum)
		for rec := 0; rec < recordNum; rec++ {
			s := HealthSample{Timestamp: int64(packetTime) + 60*int64(rec)}
			for _, f := range stepsFields {
				if version >= f.minVersion {
					f.read(r, &s)
				}
			}
			if r.Err() != nil {
				break
			}
			decoded = append(decoded, s)
		}
		if r.Err() != nil {
			// An item that reads past its declared size leaves the framing
			// unreliable, so the rest of the payload is dropped with it.
			slog.Warn("steps item over-read, dropping remainder of payload",
				"item", i, "item_size", itemSize, "records", recordNum)
			recordDecodeFailure("steps", "over_read")
			return samples
		}
		// Bytes left in the item are padding.
		samples = append(samples, decoded...)
	}
	return samples
}

// DecodeOverlays decodes an overlay payload into activity/sleep intervals.
// Framing matches DecodeSteps. Unlike steps items, a malformed or
// unknown-type overlay item only discards that single item; decoding
// continues with the next one.
func DecodeOverlays(payload []byte, itemSize int) []OverlayEvent {
	if len(payload) == 0 || itemSize <= 0 {
		return nil
	}
	if len(payload)%itemSize != 0 {
		slog.Warn("overlay payload is not a multiple of item size, parsing complete items only",
			"payload_bytes", len(payload), "item_size", itemSize)
	}

	var events []OverlayEvent
	items := len(payload) / itemSize
	for i := 0; i < items; i++ {
		r := encoding.NewReader(payload[i*itemSize : (i+1)*itemSize])

		version := r.Uint16()
		r.Skip(2) // unused
		rawType := r.Uint16()
		if r.Err() != nil {
			slog.Warn("overlay item too short for header, skipping item", "item", i)
			recordDecodeFailure("overlay", "short_header")
			continue
		}
		typ, ok := overlayTypeFromWire(rawType)
		if !ok {
			slog.Warn("unknown overlay type, skipping item", "raw_type", rawType, "item", i)
			recordDecodeFailure("overlay", "unknown_type")
			continue
		}

		ev := OverlayEvent{
			Type:      typ,
			UTCOffset: int32(r.Uint32()),
		}
		ev.StartTime = int64(r.Uint32())
		ev.Duration = int64(r.Uint32())

		if version >= overlayVersionActivityFields && typ.IsActivity() {
			ev.Steps = int(r.Uint16())
			ev.RestingKilocalories = int(r.Uint16())
			ev.ActiveKilocalories = int(r.Uint16())
			ev.DistanceCm = int(r.Uint16())
		} else if version == overlayVersionActivityFields {
			r.Skip(8) // filler field bytes on non-activity overlays
		}
		if r.Err() != nil {
			slog.Warn("overlay item over-read, skipping item",
				"item", i, "type", typ.String(), "item_size", itemSize)
			recordDecodeFailure("overlay", "over_read")
			continue
		}
		events = append(events, ev)
	}
	return events
}
