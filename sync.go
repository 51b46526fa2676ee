package healthsync

import (
	"time"
)

// The sync scheduler polls the device for buffered history. The cadence is
// adaptive: short while the companion health view is open, long in the
// background. Each tick decides between a first sync (device has history we
// have never seen) and an incremental sync covering the gap since the newest
// stored sample.

// minIncrementalSpan is the smallest span requested from the device; clock
// skew between phone and watch can otherwise produce a zero or negative gap.
const minIncrementalSpan = 60

func (s *Service) syncLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval())
	defer ticker.Stop()

	// Ask for anything buffered as soon as the connection is up.
	s.requestSync(false)

	for {
		select {
		case <-s.ctx.Done():
			return
		case active := <-s.fgCh:
			ticker.Reset(s.syncInterval())
			s.logger.Debug("sync cadence changed", "foreground", active)
		case <-ticker.C:
			s.requestSync(false)
		case <-s.syncCh:
			s.requestSync(true)
		}
	}
}

func (s *Service) syncInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.foreground {
		return s.config.ForegroundSyncInterval
	}
	return s.config.BackgroundSyncInterval
}

// requestSync sends one sync request to the device. full forces a
// full-history request and bypasses the anti-chatter guard; scheduled ticks
// are suppressed when a request already went out within MinSyncSpacing.
func (s *Service) requestSync(full bool) {
	now := s.now()

	s.mu.Lock()
	if !full && !s.lastSyncRequest.IsZero() && now.Sub(s.lastSyncRequest) < s.config.MinSyncSpacing {
		s.mu.Unlock()
		s.logger.Debug("suppressing sync request, one was sent recently",
			"since", now.Sub(s.lastSyncRequest))
		return
	}
	s.mu.Unlock()

	packet, kind := s.buildSyncRequest(now, full)
	if packet == nil {
		return
	}

	if err := s.config.Transport.Send(s.ctx, packet); err != nil {
		s.logger.Warn("failed to send sync request", "type", kind, "err", err)
		return
	}

	s.mu.Lock()
	s.lastSyncRequest = now
	s.mu.Unlock()
	recordSyncRequest(kind)
	s.logger.Info("requested sync", "type", kind)
}

func (s *Service) buildSyncRequest(now time.Time, full bool) (packet []byte, kind string) {
	if full {
		return EncodeFirstSyncRequest(uint32(now.Unix())), "full"
	}

	latest, ok, err := s.store.LatestTimestamp(s.ctx)
	if err != nil {
		s.logger.Warn("failed to read latest stored timestamp", "err", err)
		return nil, ""
	}
	if !ok {
		// Nothing stored yet: request the device's complete history.
		return EncodeFirstSyncRequest(uint32(now.Unix())), "first"
	}

	elapsed := now.Unix() - latest
	if elapsed < minIncrementalSpan {
		elapsed = minIncrementalSpan
	}
	return EncodeSyncRequest(uint32(elapsed)), "incremental"
}

func (s *Service) triggerPush() {
	select {
	case s.pushCh <- struct{}{}:
	default:
		// A push is already pending; cycles coalesce.
	}
}

func (s *Service) pushLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.pushCh:
			s.pushStats()
		}
	}
}

func (s *Service) pushStats() {
	if s.pusher == nil {
		return
	}

	// Nothing to push before the first ingested batch.
	if _, ok, err := s.store.LatestTimestamp(s.ctx); err != nil || !ok {
		if err != nil {
			s.logger.Warn("skipping stat push", "err", err)
		}
		return
	}

	if _, err := s.pusher.Push(s.ctx, s.now()); err != nil {
		s.logger.Warn("stat push cycle failed", "err", err)
	}
}

// pruneLoop enforces the retention window once an hour.
func (s *Service) pruneLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			cutoff := s.now().AddDate(0, 0, -s.config.RetentionDays).Unix()
			samples, overlays, err := s.store.PruneBefore(s.ctx, cutoff)
			if err != nil {
				s.logger.Warn("retention prune failed", "err", err)
				continue
			}
			if samples+overlays > 0 {
				s.logger.Info("pruned expired records",
					"samples", samples, "overlays", overlays, "cutoff", cutoff)
			}
		}
	}
}
