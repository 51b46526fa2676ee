package healthsync

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Service is the health telemetry engine for one device connection: it
// consumes data-logging session events from the transport, decodes and
// persists health records, and drives the sync and stat-push cycles.
//
// One goroutine owns the inbound event stream and all session lifecycle
// changes; decode and persist work runs on a bounded worker pool so bursty
// payload delivery cannot fan out into unbounded goroutines.
type Service struct {
	config   Config
	logger   *slog.Logger
	store    Store
	ownStore bool
	devices  DeviceRegistry
	agg      *Aggregator
	pusher   *StatPusher
	sessions *sessionTable
	journal  *Journal
	hub      *StreamHub
	uploader ChunkUploader

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	workers chan struct{}

	pushCh chan struct{}
	syncCh chan struct{}
	fgCh   chan bool

	mu              sync.Mutex
	foreground      bool
	lastSyncRequest time.Time

	// now is a test hook.
	now func() time.Time
}

// New assembles a Service from the configuration. The transport is required;
// when no Store is injected, a SQLite store is opened at DatabasePath and
// owned (closed) by the service.
func New(config Config) (*Service, error) {
	config.applyDefaults()
	if config.Transport == nil {
		return nil, ErrNoTransport
	}
	loc, err := config.location()
	if err != nil {
		return nil, err
	}

	store := config.Store
	ownStore := false
	if store == nil {
		storeCfg := DefaultSQLiteStoreConfig()
		storeCfg.Path = config.DatabasePath
		store, err = NewSQLiteStore(storeCfg)
		if err != nil {
			return nil, err
		}
		ownStore = true
	}

	var journal *Journal
	if config.Journal.Enabled {
		journal, err = NewJournal(config.Journal)
		if err != nil {
			if ownStore {
				store.Close()
			}
			return nil, err
		}
	}

	var hub *StreamHub
	if config.Stream.Enabled {
		hub = NewStreamHub(config.Stream)
	}

	agg := NewAggregator(store, loc)
	var pusher *StatPusher
	if config.Blobs != nil {
		pusher = NewStatPusher(config.Blobs, agg, config.StatPushTimeout, config.Logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		config:   config,
		logger:   config.Logger,
		store:    store,
		ownStore: ownStore,
		devices:  config.Devices,
		agg:      agg,
		pusher:   pusher,
		sessions: newSessionTable(),
		journal:  journal,
		hub:      hub,
		uploader: config.Uploader,
		ctx:      ctx,
		cancel:   cancel,
		workers:  make(chan struct{}, config.DecodeWorkers),
		pushCh:   make(chan struct{}, 1),
		syncCh:   make(chan struct{}, 1),
		fgCh:     make(chan bool, 1),
		now:      time.Now,
	}, nil
}

// Start launches the background loops: inbound event dispatch, the sync
// scheduler, and the stat-push worker.
func (s *Service) Start() {
	s.wg.Add(3)
	go s.inboundLoop()
	go s.syncLoop()
	go s.pushLoop()
	if s.config.RetentionDays > 0 {
		s.wg.Add(1)
		go s.pruneLoop()
	}
}

// Stop cancels background work, waits for in-flight decode tasks to finish,
// and clears the session table. The device reconnecting later starts with a
// clean slate.
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()
	if n := s.sessions.clear(); n > 0 {
		s.logger.Info("cleared sessions on shutdown", "count", n)
	}
	if s.hub != nil {
		s.hub.Close()
	}
	if s.journal != nil {
		s.journal.Close()
	}
	if s.ownStore {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("failed to close store", "err", err)
		}
	}
}

// Store exposes the underlying store for read-side consumers (charts,
// debug tooling).
func (s *Service) Store() Store { return s.store }

// Aggregator exposes the window aggregator.
func (s *Service) Aggregator() *Aggregator { return s.agg }

// StreamHub returns the live update hub, nil when streaming is disabled.
func (s *Service) StreamHub() *StreamHub { return s.hub }

// DebugStats returns the 30-day totals/averages and latest-data timestamp.
func (s *Service) DebugStats(ctx context.Context) (DebugStats, error) {
	return s.agg.DebugStats(ctx, s.now())
}

// SetForeground switches the sync cadence: short polls while the companion
// health view is open, long polls otherwise.
func (s *Service) SetForeground(active bool) {
	s.mu.Lock()
	changed := s.foreground != active
	s.foreground = active
	s.mu.Unlock()
	if !changed {
		return
	}
	select {
	case s.fgCh <- active:
	default:
	}
}

// RequestFullSync asks the device for its complete stored history,
// bypassing the incremental-sync decision.
func (s *Service) RequestFullSync() {
	select {
	case s.syncCh <- struct{}{}:
	default:
	}
}

// PushStatsNow triggers an immediate stat push cycle.
func (s *Service) PushStatsNow() {
	s.triggerPush()
}

// ReplayJournal feeds archived payloads back through the decode and persist
// pipeline. Useful after a decoder fix or a rebuilt database; the priority
// merge makes replays idempotent.
func (s *Service) ReplayJournal() error {
	if s.journal == nil {
		return ErrJournalDisabled
	}
	return s.journal.Replay(func(tag uint32, itemSize int, payload []byte) error {
		switch tag {
		case TagSteps:
			s.processSteps(payload, itemSize)
		case TagOverlay, TagSleep:
			s.processOverlays(payload, itemSize)
		}
		return nil
	})
}

func (s *Service) inboundLoop() {
	defer s.wg.Done()
	inbound := s.config.Transport.Inbound()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-inbound:
			if !ok {
				s.logger.Info("transport inbound stream closed")
				s.sessions.clear()
				return
			}
			s.handleEvent(ev)
		}
	}
}

func (s *Service) handleEvent(ev SessionEvent) {
	switch ev := ev.(type) {
	case OpenSession:
		s.handleOpen(ev)
	case SendDataItems:
		s.handleData(ev)
	case CloseSession:
		s.handleClose(ev)
	default:
		s.logger.Warn("unknown session event", "event", ev)
	}
}

func (s *Service) handleOpen(ev OpenSession) {
	_, health := healthTags[ev.Tag]
	if !health && ev.Tag != TagDiagnostics {
		// Not a stream we consume; no session is created and later data
		// items for this id are dropped.
		return
	}
	s.sessions.open(ev.SessionID, session{tag: ev.Tag, appID: ev.AppID, itemSize: ev.ItemSize})
	s.logger.Info("session opened",
		"session", ev.SessionID, "tag", tagName(ev.Tag), "item_size", ev.ItemSize)
}

func (s *Service) handleData(ev SendDataItems) {
	sess, ok := s.sessions.lookup(ev.SessionID)
	if !ok {
		// Unknown or already-closed session: drop silently.
		return
	}

	payload := slices.Clone(ev.Payload)
	endOfBatch := ev.ItemsLeft == 0

	select {
	case s.workers <- struct{}{}:
	case <-s.ctx.Done():
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.workers }()
		s.process(sess, payload)
		if endOfBatch {
			// Last chunk of a batch: refresh the on-device stats.
			s.triggerPush()
		}
	}()
}

func (s *Service) handleClose(ev CloseSession) {
	if sess, ok := s.sessions.close(ev.SessionID); ok {
		s.logger.Info("session closed", "session", ev.SessionID, "tag", tagName(sess.tag))
	}
}

// process decodes and persists one payload. Runs on the worker pool.
func (s *Service) process(sess session, payload []byte) {
	// Only records from the device's built-in firmware app are persisted.
	// The check runs before journaling so a replay can't resurrect payloads
	// the live path rejects.
	if sess.appID != SystemAppID {
		s.logger.Debug("ignoring data from non-system app", "app", sess.appID.String())
		return
	}

	if s.journal != nil {
		if err := s.journal.Append(sess.tag, sess.itemSize, payload); err != nil {
			s.logger.Warn("journal append failed", "err", err)
		}
	}

	switch sess.tag {
	case TagSteps:
		s.processSteps(payload, sess.itemSize)
	case TagOverlay, TagSleep:
		// Sleep arrives on its own tag but shares the overlay format.
		s.processOverlays(payload, sess.itemSize)
	case TagHeartRate:
		// Newer firmware embeds heart rate in steps sub-records; the
		// standalone stream carries nothing we don't already have.
		s.logger.Debug("ignoring standalone heart rate payload", "bytes", len(payload))
	case TagDiagnostics:
		s.processDiagnostics(payload)
	}
}

func (s *Service) processSteps(payload []byte, itemSize int) {
	samples := DecodeSteps(payload, itemSize)
	if len(samples) == 0 {
		return
	}
	recordDecoded("steps", len(samples))

	if cutoff, ok := s.staleCutoff(); ok {
		kept := filterStaleSamples(samples, cutoff)
		if dropped := len(samples) - len(kept); dropped > 0 {
			s.logger.Info("dropped stale samples recorded before device was last selected",
				"dropped", dropped, "kept", len(kept))
			recordStale("steps", dropped)
		}
		samples = kept
	}
	if len(samples) == 0 {
		return
	}

	stats, err := s.store.InsertSamplesWithPriority(s.ctx, samples)
	if err != nil {
		s.logger.Warn("failed to persist samples", "count", len(samples), "err", err)
		return
	}
	recordMerge(stats)
	recordPersistWatermark(samples[len(samples)-1].Timestamp)
	s.logger.Info("persisted step samples",
		"inserted", stats.Inserted, "replaced", stats.Replaced, "skipped", stats.Skipped)

	if s.hub != nil {
		s.hub.Publish(Update{Samples: samples})
	}
}

func (s *Service) processOverlays(payload []byte, itemSize int) {
	events := DecodeOverlays(payload, itemSize)
	if len(events) == 0 {
		return
	}
	recordDecoded("overlay", len(events))

	if cutoff, ok := s.staleCutoff(); ok {
		kept := filterStaleOverlays(events, cutoff)
		if dropped := len(events) - len(kept); dropped > 0 {
			s.logger.Info("dropped stale overlays recorded before device was last selected",
				"dropped", dropped, "kept", len(kept))
			recordStale("overlay", dropped)
		}
		events = kept
	}
	if len(events) == 0 {
		return
	}

	inserted, err := s.store.InsertOverlays(s.ctx, events)
	if err != nil {
		s.logger.Warn("failed to persist overlays", "count", len(events), "err", err)
		return
	}
	s.logger.Info("persisted overlay events", "decoded", len(events), "inserted", inserted)

	if s.hub != nil {
		s.hub.Publish(Update{Overlays: events})
	}
}

func (s *Service) processDiagnostics(payload []byte) {
	if s.uploader == nil {
		s.logger.Debug("dropping diagnostic chunk, no uploader configured", "bytes", len(payload))
		return
	}
	chunks, err := DecodeDiagnosticChunks(payload)
	if err != nil {
		s.logger.Warn("failed to decode diagnostic payload", "err", err)
		return
	}
	for _, chunk := range chunks {
		if err := s.uploader.UploadChunk(s.ctx, s.config.DeviceSerial, chunk); err != nil {
			s.logger.Warn("diagnostic chunk upload failed", "bytes", len(chunk), "err", err)
		}
	}
}

// staleCutoff returns the Unix-second cutoff for incoming records, ok=false
// when the device has never connected before (first pairing syncs history
// unfiltered).
func (s *Service) staleCutoff() (int64, bool) {
	if s.devices == nil || s.config.DeviceSerial == "" {
		return 0, false
	}
	millis, ok := s.devices.LastConnectedMillis(s.config.DeviceSerial)
	if !ok {
		return 0, false
	}
	return millis / 1000, true
}

func tagName(tag uint32) string {
	switch tag {
	case TagSteps:
		return "steps"
	case TagSleep:
		return "sleep"
	case TagOverlay:
		return "overlay"
	case TagHeartRate:
		return "heart_rate"
	case TagDiagnostics:
		return "diagnostics"
	default:
		return "unknown"
	}
}
