package healthsync

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeTransport struct {
	mu     sync.Mutex
	sent   [][]byte
	events chan SessionEvent
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan SessionEvent, 16)}
}

func (f *fakeTransport) Send(ctx context.Context, packet []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, slices.Clone(packet))
	return nil
}

func (f *fakeTransport) Inbound() <-chan SessionEvent { return f.events }

func (f *fakeTransport) sentPackets() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent)
}

type fakeRegistry struct {
	millis map[string]int64
}

func (f *fakeRegistry) LastConnectedMillis(serial string) (int64, bool) {
	ms, ok := f.millis[serial]
	return ms, ok
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func newTestService(t *testing.T, mutate func(*Config)) (*Service, *fakeTransport, *SQLiteStore) {
	t.Helper()
	transport := newFakeTransport()
	store := newTestStore(t)

	cfg := DefaultConfig()
	cfg.Transport = transport
	cfg.Store = store
	if mutate != nil {
		mutate(&cfg)
	}

	svc, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return svc, transport, store
}

func stepsPayloadAt(packetTime uint32, steps ...uint8) (payload []byte, itemSize int) {
	item := stepsHeader(5, packetTime, len(steps))
	for _, s := range steps {
		item = append(item, stepsRecordV5(s, 0, 0, 0, 0)...)
	}
	return item, len(item)
}

func TestNew_RequiresTransport(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNoTransport) {
		t.Fatalf("expected ErrNoTransport, got %v", err)
	}
}

func TestService_IngestsStepsSession(t *testing.T) {
	svc, transport, store := newTestService(t, nil)
	svc.Start()
	defer svc.Stop()

	payload, itemSize := stepsPayloadAt(1000, 10, 20)
	transport.events <- OpenSession{SessionID: 1, Tag: TagSteps, AppID: SystemAppID, ItemSize: itemSize}
	transport.events <- SendDataItems{SessionID: 1, Payload: payload, ItemsLeft: 0}

	waitFor(t, "samples to be persisted", func() bool {
		samples, err := store.SamplesBetween(context.Background(), 0, 10000)
		return err == nil && len(samples) == 2
	})

	samples, err := store.SamplesBetween(context.Background(), 0, 10000)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if samples[0].Timestamp != 1000 || samples[0].Steps != 10 {
		t.Errorf("unexpected first sample: %+v", samples[0])
	}
	if samples[1].Timestamp != 1060 || samples[1].Steps != 20 {
		t.Errorf("unexpected second sample: %+v", samples[1])
	}
}

func TestService_IngestsOverlaySession(t *testing.T) {
	svc, transport, store := newTestService(t, nil)
	svc.Start()
	defer svc.Stop()

	item := overlayItem(2, uint16(OverlaySleep), 0, 5000, 3600, nil)
	transport.events <- OpenSession{SessionID: 2, Tag: TagSleep, AppID: SystemAppID, ItemSize: len(item)}
	transport.events <- SendDataItems{SessionID: 2, Payload: item, ItemsLeft: 0}

	waitFor(t, "overlay to be persisted", func() bool {
		events, err := store.OverlaysBetween(context.Background(), 0, 100000, nil)
		return err == nil && len(events) == 1
	})

	events, _ := store.OverlaysBetween(context.Background(), 0, 100000, nil)
	if events[0].Type != OverlaySleep || events[0].Duration != 3600 {
		t.Errorf("unexpected event: %+v", events[0])
	}
}

func TestService_EndOfBatchTriggersStatPush(t *testing.T) {
	blobs := &fakeBlobWriter{}
	svc, transport, _ := newTestService(t, func(c *Config) {
		c.Blobs = blobs
	})
	svc.Start()
	defer svc.Stop()

	payload, itemSize := stepsPayloadAt(1000, 10)
	transport.events <- OpenSession{SessionID: 1, Tag: TagSteps, AppID: SystemAppID, ItemSize: itemSize}
	transport.events <- SendDataItems{SessionID: 1, Payload: payload, ItemsLeft: 0}

	waitFor(t, "stat blobs to be written", func() bool {
		return blobs.count() >= 9
	})
	if _, ok := blobs.byKey("average_dailySteps"); !ok {
		t.Error("average daily steps blob was not written")
	}
}

func TestService_DropsDataForUnknownSession(t *testing.T) {
	svc, transport, store := newTestService(t, nil)
	svc.Start()
	defer svc.Stop()

	stray, _ := stepsPayloadAt(500, 99)
	// No OpenSession for id 7: this payload is dropped.
	transport.events <- SendDataItems{SessionID: 7, Payload: stray, ItemsLeft: 0}

	payload, itemSize := stepsPayloadAt(1000, 10)
	transport.events <- OpenSession{SessionID: 1, Tag: TagSteps, AppID: SystemAppID, ItemSize: itemSize}
	transport.events <- SendDataItems{SessionID: 1, Payload: payload, ItemsLeft: 0}

	waitFor(t, "known session samples", func() bool {
		samples, err := store.SamplesBetween(context.Background(), 0, 10000)
		return err == nil && len(samples) == 1
	})

	samples, _ := store.SamplesBetween(context.Background(), 0, 10000)
	if samples[0].Timestamp != 1000 {
		t.Errorf("stray payload leaked into the store: %+v", samples)
	}
}

func TestService_ClosedSessionStopsAcceptingData(t *testing.T) {
	svc, transport, store := newTestService(t, nil)
	svc.Start()
	defer svc.Stop()

	payload, itemSize := stepsPayloadAt(1000, 10)
	transport.events <- OpenSession{SessionID: 1, Tag: TagSteps, AppID: SystemAppID, ItemSize: itemSize}
	transport.events <- CloseSession{SessionID: 1}
	transport.events <- SendDataItems{SessionID: 1, Payload: payload, ItemsLeft: 0}

	// A fresh session on the same id still works.
	late, lateSize := stepsPayloadAt(2000, 30)
	transport.events <- OpenSession{SessionID: 1, Tag: TagSteps, AppID: SystemAppID, ItemSize: lateSize}
	transport.events <- SendDataItems{SessionID: 1, Payload: late, ItemsLeft: 0}

	waitFor(t, "reopened session samples", func() bool {
		samples, err := store.SamplesBetween(context.Background(), 0, 10000)
		return err == nil && len(samples) == 1
	})

	samples, _ := store.SamplesBetween(context.Background(), 0, 10000)
	if samples[0].Timestamp != 2000 {
		t.Errorf("data for the closed session leaked through: %+v", samples)
	}
}

func TestService_IgnoresNonSystemApps(t *testing.T) {
	svc, transport, store := newTestService(t, nil)
	svc.Start()
	defer svc.Stop()

	thirdParty := uuid.New()
	appPayload, appSize := stepsPayloadAt(500, 99)
	transport.events <- OpenSession{SessionID: 3, Tag: TagSteps, AppID: thirdParty, ItemSize: appSize}
	transport.events <- SendDataItems{SessionID: 3, Payload: appPayload, ItemsLeft: 0}

	payload, itemSize := stepsPayloadAt(1000, 10)
	transport.events <- OpenSession{SessionID: 4, Tag: TagSteps, AppID: SystemAppID, ItemSize: itemSize}
	transport.events <- SendDataItems{SessionID: 4, Payload: payload, ItemsLeft: 0}

	waitFor(t, "system app samples", func() bool {
		samples, err := store.SamplesBetween(context.Background(), 0, 10000)
		return err == nil && len(samples) == 1
	})

	samples, _ := store.SamplesBetween(context.Background(), 0, 10000)
	if samples[0].Timestamp != 1000 {
		t.Errorf("third-party data leaked into the store: %+v", samples)
	}
}

func TestService_FiltersStaleRecords(t *testing.T) {
	registry := &fakeRegistry{millis: map[string]int64{"Q123ABC": 2000 * 1000}}
	svc, transport, store := newTestService(t, func(c *Config) {
		c.DeviceSerial = "Q123ABC"
		c.Devices = registry
	})
	svc.Start()
	defer svc.Stop()

	// Sub-records at 1940 (before the cutoff) and 2000 (at it).
	payload, itemSize := stepsPayloadAt(1940, 5, 10)
	transport.events <- OpenSession{SessionID: 1, Tag: TagSteps, AppID: SystemAppID, ItemSize: itemSize}
	transport.events <- SendDataItems{SessionID: 1, Payload: payload, ItemsLeft: 0}

	waitFor(t, "fresh samples", func() bool {
		samples, err := store.SamplesBetween(context.Background(), 0, 10000)
		return err == nil && len(samples) == 1
	})

	samples, _ := store.SamplesBetween(context.Background(), 0, 10000)
	if samples[0].Timestamp != 2000 || samples[0].Steps != 10 {
		t.Errorf("stale sample leaked into the store: %+v", samples)
	}
}

func TestService_NeverConnectedDeviceSyncsUnfiltered(t *testing.T) {
	registry := &fakeRegistry{millis: map[string]int64{}}
	svc, transport, store := newTestService(t, func(c *Config) {
		c.DeviceSerial = "NEW000"
		c.Devices = registry
	})
	svc.Start()
	defer svc.Stop()

	payload, itemSize := stepsPayloadAt(100, 5, 10)
	transport.events <- OpenSession{SessionID: 1, Tag: TagSteps, AppID: SystemAppID, ItemSize: itemSize}
	transport.events <- SendDataItems{SessionID: 1, Payload: payload, ItemsLeft: 0}

	waitFor(t, "all samples", func() bool {
		samples, err := store.SamplesBetween(context.Background(), 0, 10000)
		return err == nil && len(samples) == 2
	})
}

func TestService_ForwardsDiagnosticChunks(t *testing.T) {
	var mu sync.Mutex
	var uploaded [][]byte
	uploader := chunkUploaderFunc(func(ctx context.Context, serial string, chunk []byte) error {
		mu.Lock()
		defer mu.Unlock()
		uploaded = append(uploaded, slices.Clone(chunk))
		return nil
	})

	svc, transport, _ := newTestService(t, func(c *Config) {
		c.Uploader = uploader
	})
	svc.Start()
	defer svc.Stop()

	payload := diagnosticPayload([]byte("crash dump"), []byte("metrics"))
	transport.events <- OpenSession{SessionID: 9, Tag: TagDiagnostics, AppID: SystemAppID, ItemSize: 0}
	transport.events <- SendDataItems{SessionID: 9, Payload: payload, ItemsLeft: 0}

	waitFor(t, "chunks to upload", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(uploaded) == 2
	})
}

type chunkUploaderFunc func(ctx context.Context, deviceSerial string, chunk []byte) error

func (f chunkUploaderFunc) UploadChunk(ctx context.Context, deviceSerial string, chunk []byte) error {
	return f(ctx, deviceSerial, chunk)
}

func TestService_StopClearsSessions(t *testing.T) {
	svc, transport, _ := newTestService(t, nil)
	svc.Start()

	transport.events <- OpenSession{SessionID: 1, Tag: TagSteps, AppID: SystemAppID, ItemSize: 16}
	waitFor(t, "session to open", func() bool {
		_, ok := svc.sessions.lookup(1)
		return ok
	})

	svc.Stop()
	if _, ok := svc.sessions.lookup(1); ok {
		t.Error("sessions should be cleared on stop")
	}
}

func TestService_PublishesToStreamHub(t *testing.T) {
	svc, transport, _ := newTestService(t, func(c *Config) {
		c.Stream.Enabled = true
		c.Stream.BufferSize = 4
	})
	svc.Start()
	defer svc.Stop()

	sub := svc.StreamHub().Subscribe()

	payload, itemSize := stepsPayloadAt(1000, 10)
	transport.events <- OpenSession{SessionID: 1, Tag: TagSteps, AppID: SystemAppID, ItemSize: itemSize}
	transport.events <- SendDataItems{SessionID: 1, Payload: payload, ItemsLeft: 0}

	select {
	case update := <-sub.C():
		if len(update.Samples) != 1 || update.Samples[0].Steps != 10 {
			t.Errorf("unexpected update: %+v", update)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no update published")
	}
}

func TestService_ReplayJournalRebuildsStore(t *testing.T) {
	journalPath := filepath.Join(t.TempDir(), "journal")

	svc, transport, store := newTestService(t, func(c *Config) {
		c.Journal.Enabled = true
		c.Journal.Path = journalPath
	})
	svc.Start()

	payload, itemSize := stepsPayloadAt(1000, 10, 20)
	transport.events <- OpenSession{SessionID: 1, Tag: TagSteps, AppID: SystemAppID, ItemSize: itemSize}
	transport.events <- SendDataItems{SessionID: 1, Payload: payload, ItemsLeft: 0}

	waitFor(t, "samples to be persisted", func() bool {
		samples, err := store.SamplesBetween(context.Background(), 0, 10000)
		return err == nil && len(samples) == 2
	})
	svc.Stop()

	// A fresh service over an empty store replays the archived payloads
	// through the same decode pipeline.
	rebuilt, _, rebuiltStore := newTestService(t, func(c *Config) {
		c.Journal.Enabled = true
		c.Journal.Path = journalPath
	})
	defer rebuilt.Stop()

	if err := rebuilt.ReplayJournal(); err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	samples, err := rebuiltStore.SamplesBetween(context.Background(), 0, 10000)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(samples) != 2 || samples[0].Steps != 10 || samples[1].Steps != 20 {
		t.Fatalf("unexpected rebuilt samples: %+v", samples)
	}
}

func TestService_ReplayJournalSkipsNonSystemAppPayloads(t *testing.T) {
	journalPath := filepath.Join(t.TempDir(), "journal")

	svc, transport, store := newTestService(t, func(c *Config) {
		c.Journal.Enabled = true
		c.Journal.Path = journalPath
	})
	svc.Start()

	// A third-party payload is rejected before journaling, a system one
	// right after it is archived.
	third, thirdSize := stepsPayloadAt(500, 99)
	transport.events <- OpenSession{SessionID: 1, Tag: TagSteps, AppID: uuid.New(), ItemSize: thirdSize}
	transport.events <- SendDataItems{SessionID: 1, Payload: third, ItemsLeft: 0}

	system, systemSize := stepsPayloadAt(1000, 10)
	transport.events <- OpenSession{SessionID: 2, Tag: TagSteps, AppID: SystemAppID, ItemSize: systemSize}
	transport.events <- SendDataItems{SessionID: 2, Payload: system, ItemsLeft: 0}

	waitFor(t, "system sample to be persisted", func() bool {
		samples, err := store.SamplesBetween(context.Background(), 0, 10000)
		return err == nil && len(samples) == 1
	})
	svc.Stop()

	rebuilt, _, rebuiltStore := newTestService(t, func(c *Config) {
		c.Journal.Enabled = true
		c.Journal.Path = journalPath
	})
	defer rebuilt.Stop()

	if err := rebuilt.ReplayJournal(); err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	samples, err := rebuiltStore.SamplesBetween(context.Background(), 0, 10000)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(samples) != 1 || samples[0].Timestamp != 1000 {
		t.Fatalf("replay should restore only the system app's records, got %+v", samples)
	}
}

func TestService_ReplayJournalDisabled(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	defer svc.Stop()

	if err := svc.ReplayJournal(); !errors.Is(err, ErrJournalDisabled) {
		t.Fatalf("expected ErrJournalDisabled, got %v", err)
	}
}
