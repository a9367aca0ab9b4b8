package metrics

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	. "github.com/modelgate/modelgate/internal/logging"
	"github.com/modelgate/modelgate/internal/paths"
)

const (
	saveInterval  = 5 * time.Minute
	pruneMaxAge   = 30 * 24 * time.Hour
	statsKey      = "gateway.errors"
	dbOpenOptions = "?_busy_timeout=5000"
)

const schemaSQL = `CREATE TABLE IF NOT EXISTS error_stats (
	name       TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

// Manager persists error statistics to sqlite so they survive service
// restarts. Degrades to in-memory if the database cannot be opened.
type Manager struct {
	stats    *ErrorStats
	db       *sql.DB
	stopSave chan struct{}
}

// NewManager creates a manager around the given stats.
func NewManager(stats *ErrorStats) *Manager {
	return &Manager{stats: stats}
}

// Stats returns the managed stats tracker.
func (m *Manager) Stats() *ErrorStats {
	return m.stats
}

// InitPersistence opens the metrics DB, loads persisted counters, prunes
// stale rows, and starts a background save ticker. Degrades to in-memory
// if anything fails.
func (m *Manager) InitPersistence() {
	dbPath, err := paths.MetricsPath()
	if err != nil {
		L_warn("metrics: persistence disabled, cannot resolve data path", "error", err)
		return
	}
	m.initPersistenceAt(dbPath)
}

// initPersistenceAt is the path-parameterized core, split out for tests.
func (m *Manager) initPersistenceAt(dbPath string) {
	if err := paths.EnsureParentDir(dbPath); err != nil {
		L_warn("metrics: persistence disabled, cannot create directory", "error", err)
		return
	}

	db, err := sql.Open("sqlite3", dbPath+dbOpenOptions)
	if err != nil {
		L_warn("metrics: persistence disabled, cannot open database", "error", err)
		return
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		L_warn("metrics: persistence disabled, schema creation failed", "error", err)
		db.Close()
		return
	}

	m.db = db
	m.stopSave = make(chan struct{})

	if err := m.load(); err != nil {
		L_warn("metrics: failed to load persisted stats", "error", err)
	}

	if pruned, err := m.prune(); err != nil {
		L_warn("metrics: failed to prune stale rows", "error", err)
	} else if pruned > 0 {
		L_info("metrics: pruned stale rows", "count", pruned)
	}

	go m.saveLoop()
}

// saveLoop runs periodic saves until stopSave is closed.
func (m *Manager) saveLoop() {
	ticker := time.NewTicker(saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.Save(); err != nil {
				L_warn("metrics: periodic save failed", "error", err)
			}
		case <-m.stopSave:
			return
		}
	}
}

// Close stops the background save ticker, performs a final save, and closes
// the DB. Safe to call even if persistence was never initialized.
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}

	if m.stopSave != nil {
		close(m.stopSave)
		m.stopSave = nil
	}

	if err := m.Save(); err != nil {
		L_warn("metrics: final save failed", "error", err)
	}

	err := m.db.Close()
	m.db = nil
	return err
}

// Save upserts the current counters.
func (m *Manager) Save() error {
	if m.db == nil {
		return nil
	}

	data, err := json.Marshal(m.stats.Snapshot())
	if err != nil {
		return err
	}

	_, err = m.db.Exec(`INSERT INTO error_stats (name, data, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		statsKey, data, time.Now().Unix())
	return err
}

// load restores persisted counters, if present.
func (m *Manager) load() error {
	var data []byte
	err := m.db.QueryRow("SELECT data FROM error_stats WHERE name = ?", statsKey).Scan(&data)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	var snap ErrorStatsSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	m.stats.restore(snap)
	L_info("metrics: loaded persisted stats", "totalErrors", snap.TotalErrors)
	return nil
}

// prune deletes rows not updated within the retention period.
func (m *Manager) prune() (int, error) {
	cutoff := time.Now().Add(-pruneMaxAge).Unix()
	result, err := m.db.Exec("DELETE FROM error_stats WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}
