// Package healthsync pulls health telemetry off a wearable device, persists
// it locally, and pushes daily statistics back to the device.
//
// The engine consumes data-logging sessions from a device transport, decodes
// the versioned binary records they carry, filters out records the device
// already delivered to another phone, and merges the remainder into a SQLite
// store where conflicting minutes are resolved by step count. An adaptive
// scheduler asks the device for more data on a foreground or background
// cadence, and a stat pusher writes rolling averages and a week of movement
// history into the device's blob database.
//
// # Basic Usage
//
// Configure and start a sync service:
//
//	cfg := healthsync.DefaultConfig()
//	cfg.DatabasePath = "health.db"
//	cfg.DeviceSerial = "XXYYZZ"
//	cfg.Transport = transport // your device connection
//	cfg.Blobs = blobWriter
//	cfg.Devices = registry
//
//	svc, err := healthsync.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc.Start()
//	defer svc.Stop()
//
// Query aggregates:
//
//	stats, err := svc.DebugStats(ctx)
//
// # Features
//
// Ingest:
//   - Multi-version steps record decoder with per-firmware field layouts
//   - Sleep and activity overlay decoding
//   - Staleness filtering against the device registry
//   - Priority merge keeping the richer sample for each minute
//
// Storage & Analytics:
//   - SQLite persistence with guarded upserts
//   - Daily summaries, rolling averages, and sleep totals
//   - Configurable retention pruning
//
// Device Interface:
//   - First and incremental sync requests with anti-chatter spacing
//   - Blob database writes for averages and weekday movement data
//   - Diagnostic chunk forwarding to HTTP or S3 collectors
//
// Extras:
//   - Optional encrypted payload journal for replay and debugging
//   - WebSocket streaming of freshly persisted data
//   - Prometheus metrics for decode, merge, and sync activity
//
// # Configuration
//
// Use [Config] to customize behavior, or [LoadConfig] to read a YAML file on
// top of [DefaultConfig] defaults.
package healthsync
