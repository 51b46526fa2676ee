package healthsync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"
)

// SQLiteStoreConfig configures the SQLite-backed store.
type SQLiteStoreConfig struct {
	// Path to the SQLite database file
	Path string

	// CacheSize is the SQLite page cache size in KB (default: 2000 = 2MB)
	CacheSize int

	// JournalMode sets the SQLite journal mode (WAL, DELETE, TRUNCATE, etc.)
	JournalMode string

	// Synchronous sets the synchronous flag (OFF, NORMAL, FULL, EXTRA)
	Synchronous string

	// BusyTimeout is the timeout for acquiring locks in milliseconds
	BusyTimeout int

	// MaxConnections is the max number of database connections
	MaxConnections int
}

// DefaultSQLiteStoreConfig returns default configuration.
func DefaultSQLiteStoreConfig() SQLiteStoreConfig {
	return SQLiteStoreConfig{
		Path:           "health.db",
		CacheSize:      2000,
		JournalMode:    "WAL",
		Synchronous:    "NORMAL",
		BusyTimeout:    5000,
		MaxConnections: 10,
	}
}

// SQLiteStore implements Store on a local SQLite database. The priority
// merge runs inside an immediate transaction, so the compare-and-replace is
// atomic even with concurrent decode workers inserting the same timestamps.
type SQLiteStore struct {
	db     *sql.DB
	config SQLiteStoreConfig
	mu     sync.RWMutex
	closed bool

	// Prepared statements for the hot insert path
	selectStepsStmt   *sql.Stmt
	upsertSampleStmt  *sql.Stmt
	insertOverlayStmt *sql.Stmt
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS health_samples (
	timestamp             INTEGER PRIMARY KEY,
	steps                 INTEGER NOT NULL,
	orientation           INTEGER NOT NULL,
	intensity             INTEGER NOT NULL,
	light_intensity       INTEGER NOT NULL,
	active_minutes        INTEGER NOT NULL,
	resting_gram_calories INTEGER NOT NULL,
	active_gram_calories  INTEGER NOT NULL,
	distance_cm           INTEGER NOT NULL,
	heart_rate            INTEGER NOT NULL,
	heart_rate_weight     INTEGER NOT NULL,
	heart_rate_zone       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS overlay_events (
	start_time           INTEGER NOT NULL,
	type                 INTEGER NOT NULL,
	duration             INTEGER NOT NULL,
	steps                INTEGER NOT NULL,
	resting_kilocalories INTEGER NOT NULL,
	active_kilocalories  INTEGER NOT NULL,
	distance_cm          INTEGER NOT NULL,
	utc_offset           INTEGER NOT NULL,
	PRIMARY KEY (start_time, type)
);

CREATE INDEX IF NOT EXISTS idx_overlay_type_start ON overlay_events(type, start_time);
`

// NewSQLiteStore opens (creating if necessary) the store at config.Path.
func NewSQLiteStore(config SQLiteStoreConfig) (*SQLiteStore, error) {
	if config.Path == "" {
		config.Path = "health.db"
	}
	if config.CacheSize <= 0 {
		config.CacheSize = 2000
	}
	if config.JournalMode == "" {
		config.JournalMode = "WAL"
	}
	if config.Synchronous == "" {
		config.Synchronous = "NORMAL"
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5000
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = 10
	}

	// Build connection string with pragmas. Transactions take the write
	// lock up front so the classify-then-upsert batches see a stable view.
	dsn := fmt.Sprintf("%s?_txlock=immediate&_pragma=cache_size(%d)&_pragma=journal_mode(%s)&_pragma=synchronous(%s)&_pragma=busy_timeout(%d)",
		config.Path, config.CacheSize, config.JournalMode, config.Synchronous, config.BusyTimeout)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetMaxIdleConns(config.MaxConnections / 2)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	s := &SQLiteStore{db: db, config: config}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error
	s.selectStepsStmt, err = s.db.Prepare(`SELECT steps FROM health_samples WHERE timestamp = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare select: %w", err)
	}
	s.upsertSampleStmt, err = s.db.Prepare(`
		INSERT INTO health_samples (
			timestamp, steps, orientation, intensity, light_intensity,
			active_minutes, resting_gram_calories, active_gram_calories,
			distance_cm, heart_rate, heart_rate_weight, heart_rate_zone
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(timestamp) DO UPDATE SET
			steps                 = excluded.steps,
			orientation           = excluded.orientation,
			intensity             = excluded.intensity,
			light_intensity       = excluded.light_intensity,
			active_minutes        = excluded.active_minutes,
			resting_gram_calories = excluded.resting_gram_calories,
			active_gram_calories  = excluded.active_gram_calories,
			distance_cm           = excluded.distance_cm,
			heart_rate            = excluded.heart_rate,
			heart_rate_weight     = excluded.heart_rate_weight,
			heart_rate_zone       = excluded.heart_rate_zone
		WHERE excluded.steps > health_samples.steps`)
	if err != nil {
		return fmt.Errorf("failed to prepare sample upsert: %w", err)
	}
	s.insertOverlayStmt, err = s.db.Prepare(`
		INSERT OR IGNORE INTO overlay_events (
			start_time, type, duration, steps,
			resting_kilocalories, active_kilocalories, distance_cm, utc_offset
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare overlay insert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// InsertSamplesWithPriority implements Store. The whole batch runs in one
// immediate transaction: the guarded upsert only replaces a row when the
// incoming step count is strictly higher, and the pre-read exists purely to
// classify the outcome for stats.
func (s *SQLiteStore) InsertSamplesWithPriority(ctx context.Context, samples []HealthSample) (MergeStats, error) {
	var stats MergeStats
	if err := s.checkOpen(); err != nil {
		return stats, err
	}
	if len(samples) == 0 {
		return stats, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	selectSteps := tx.StmtContext(ctx, s.selectStepsStmt)
	upsert := tx.StmtContext(ctx, s.upsertSampleStmt)

	for _, smp := range samples {
		var existing int
		err := selectSteps.QueryRowContext(ctx, smp.Timestamp).Scan(&existing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			stats.Inserted++
		case err != nil:
			return stats, fmt.Errorf("failed to read sample at %d: %w", smp.Timestamp, err)
		case smp.Steps > existing:
			stats.Replaced++
		default:
			stats.Skipped++
			continue
		}

		if _, err := upsert.ExecContext(ctx,
			smp.Timestamp, smp.Steps, smp.Orientation, smp.Intensity, smp.LightIntensity,
			smp.ActiveMinutes, smp.RestingGramCalories, smp.ActiveGramCalories,
			smp.DistanceCm, smp.HeartRate, smp.HeartRateWeight, smp.HeartRateZone,
		); err != nil {
			return stats, fmt.Errorf("failed to upsert sample at %d: %w", smp.Timestamp, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("failed to commit sample batch: %w", err)
	}
	return stats, nil
}

// InsertOverlays implements Store.
func (s *SQLiteStore) InsertOverlays(ctx context.Context, events []OverlayEvent) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insert := tx.StmtContext(ctx, s.insertOverlayStmt)
	inserted := 0
	for _, ev := range events {
		res, err := insert.ExecContext(ctx,
			ev.StartTime, int(ev.Type), ev.Duration, ev.Steps,
			ev.RestingKilocalories, ev.ActiveKilocalories, ev.DistanceCm, ev.UTCOffset,
		)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert overlay at %d: %w", ev.StartTime, err)
		}
		n, err := res.RowsAffected()
		if err == nil && n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return inserted, fmt.Errorf("failed to commit overlay batch: %w", err)
	}
	return inserted, nil
}

// SamplesBetween implements Store.
func (s *SQLiteStore) SamplesBetween(ctx context.Context, start, end int64) ([]HealthSample, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, steps, orientation, intensity, light_intensity,
		       active_minutes, resting_gram_calories, active_gram_calories,
		       distance_cm, heart_rate, heart_rate_weight, heart_rate_zone
		FROM health_samples
		WHERE timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC`, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var samples []HealthSample
	for rows.Next() {
		var smp HealthSample
		if err := rows.Scan(
			&smp.Timestamp, &smp.Steps, &smp.Orientation, &smp.Intensity, &smp.LightIntensity,
			&smp.ActiveMinutes, &smp.RestingGramCalories, &smp.ActiveGramCalories,
			&smp.DistanceCm, &smp.HeartRate, &smp.HeartRateWeight, &smp.HeartRateZone,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sample row: %w", err)
		}
		samples = append(samples, smp)
	}
	return samples, rows.Err()
}

// OverlaysBetween implements Store.
func (s *SQLiteStore) OverlaysBetween(ctx context.Context, start, end int64, types []OverlayType) ([]OverlayEvent, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT start_time, type, duration, steps,
		       resting_kilocalories, active_kilocalories, distance_cm, utc_offset
		FROM overlay_events
		WHERE start_time >= ? AND start_time < ?`
	args := []any{start, end}
	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, int(t))
		}
		query += " AND type IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY start_time ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query overlays: %w", err)
	}
	defer rows.Close()

	var events []OverlayEvent
	for rows.Next() {
		var ev OverlayEvent
		var typ int
		if err := rows.Scan(
			&ev.StartTime, &typ, &ev.Duration, &ev.Steps,
			&ev.RestingKilocalories, &ev.ActiveKilocalories, &ev.DistanceCm, &ev.UTCOffset,
		); err != nil {
			return nil, fmt.Errorf("failed to scan overlay row: %w", err)
		}
		ev.Type = OverlayType(typ)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// SampleAggregates implements Store.
func (s *SQLiteStore) SampleAggregates(ctx context.Context, start, end int64) (SampleAggregates, error) {
	var agg SampleAggregates
	if err := s.checkOpen(); err != nil {
		return agg, err
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(steps), 0),
		       COALESCE(SUM(active_minutes), 0),
		       COALESCE(SUM(resting_gram_calories), 0),
		       COALESCE(SUM(active_gram_calories), 0),
		       COALESCE(SUM(distance_cm), 0)
		FROM health_samples
		WHERE timestamp >= ? AND timestamp < ?`, start, end).Scan(
		&agg.Samples, &agg.Steps, &agg.ActiveMinutes,
		&agg.RestingGramCalories, &agg.ActiveGramCalories, &agg.DistanceCm,
	)
	if err != nil {
		return agg, fmt.Errorf("failed to aggregate samples: %w", err)
	}
	return agg, nil
}

// SleepSeconds implements Store. Light covers the sleep and nap stages, deep
// covers their deep variants.
func (s *SQLiteStore) SleepSeconds(ctx context.Context, start, end int64) (light, deep int64, err error) {
	if err := s.checkOpen(); err != nil {
		return 0, 0, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN type IN (?, ?) THEN duration ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN type IN (?, ?) THEN duration ELSE 0 END), 0)
		FROM overlay_events
		WHERE start_time >= ? AND start_time < ?`,
		int(OverlaySleep), int(OverlayNap),
		int(OverlayDeepSleep), int(OverlayDeepNap),
		start, end).Scan(&light, &deep)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to aggregate sleep: %w", err)
	}
	return light, deep, nil
}

// LatestTimestamp implements Store.
func (s *SQLiteStore) LatestTimestamp(ctx context.Context) (int64, bool, error) {
	if err := s.checkOpen(); err != nil {
		return 0, false, err
	}

	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(timestamp) FROM health_samples`).Scan(&ts)
	if err != nil {
		return 0, false, fmt.Errorf("failed to query latest timestamp: %w", err)
	}
	if !ts.Valid {
		return 0, false, nil
	}
	return ts.Int64, true, nil
}

// PruneBefore implements Store.
func (s *SQLiteStore) PruneBefore(ctx context.Context, cutoff int64) (samples, overlays int64, err error) {
	if err := s.checkOpen(); err != nil {
		return 0, 0, err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM health_samples WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prune samples: %w", err)
	}
	samples, _ = res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `DELETE FROM overlay_events WHERE start_time < ?`, cutoff)
	if err != nil {
		return samples, 0, fmt.Errorf("failed to prune overlays: %w", err)
	}
	overlays, _ = res.RowsAffected()
	return samples, overlays, nil
}

// Close releases the prepared statements and the underlying database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	for _, stmt := range []*sql.Stmt{s.selectStepsStmt, s.upsertSampleStmt, s.insertOverlayStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}
