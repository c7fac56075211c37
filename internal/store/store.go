package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sourcewatch-project/sourcewatch/internal/events"
)

// ServerRecord is one tracked game server in the registry.
type ServerRecord struct {
	ID         int                `json:"id"`
	Address    string             `json:"address"`
	Name       string             `json:"name"`
	Map        string             `json:"map"`
	Game       string             `json:"game"`
	MaxPlayers int                `json:"max_players"`
	State      events.ServerState `json:"state"`
	Source     string             `json:"source"`
	FirstSeen  time.Time          `json:"first_seen"`
	LastSeen   time.Time          `json:"last_seen"`
}

// Registry sources.
const (
	SourceStatic = "static"
	SourceMaster = "master"
)

// Snapshot is one historical query observation of a server.
type Snapshot struct {
	ID          int       `json:"id"`
	Address     string    `json:"address"`
	PlayerCount int       `json:"player_count"`
	MaxPlayers  int       `json:"max_players"`
	Map         string    `json:"map"`
	PingMs      int64     `json:"ping_ms"`
	TakenAt     time.Time `json:"taken_at"`
}

// Store provides typed access to the server registry and snapshot history.
type Store struct {
	db *Database
}

// Open creates and initializes the store at the given path.
func Open(dbPath string) (*Store, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	s := &Store{db: database}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS servers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			address TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			map TEXT NOT NULL DEFAULT '',
			game TEXT NOT NULL DEFAULT '',
			max_players INTEGER NOT NULL DEFAULT 0,
			state TEXT NOT NULL DEFAULT 'unknown',
			source TEXT NOT NULL DEFAULT 'static',
			first_seen DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_seen DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			address TEXT NOT NULL,
			player_count INTEGER NOT NULL DEFAULT 0,
			max_players INTEGER NOT NULL DEFAULT 0,
			map TEXT NOT NULL DEFAULT '',
			ping_ms INTEGER NOT NULL DEFAULT 0,
			taken_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_servers_address ON servers(address);
		CREATE INDEX IF NOT EXISTS idx_snapshots_address ON snapshots(address);
		CREATE INDEX IF NOT EXISTS idx_snapshots_taken_at ON snapshots(taken_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	log.Debug().Msg("store schema migrated")
	return nil
}

// UpsertServer inserts a server or refreshes its metadata and last-seen time.
func (s *Store) UpsertServer(rec ServerRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO servers (address, name, map, game, max_players, state, source, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(address) DO UPDATE SET
			name = excluded.name,
			map = excluded.map,
			game = excluded.game,
			max_players = excluded.max_players,
			state = excluded.state,
			last_seen = CURRENT_TIMESTAMP`,
		rec.Address, rec.Name, rec.Map, rec.Game, rec.MaxPlayers,
		rec.State.String(), rec.Source)
	if err != nil {
		return fmt.Errorf("failed to upsert server %s: %w", rec.Address, err)
	}
	return nil
}

// RegisterDiscovered records a server known only by address, as the master
// sweep and config seeding produce them. An existing row keeps its metadata
// and state; only last_seen is refreshed.
func (s *Store) RegisterDiscovered(address, source string) error {
	_, err := s.db.Exec(`
		INSERT INTO servers (address, source, last_seen)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(address) DO UPDATE SET
			last_seen = CURRENT_TIMESTAMP`,
		address, source)
	if err != nil {
		return fmt.Errorf("failed to register server %s: %w", address, err)
	}
	return nil
}

// SetServerState updates only the availability state of a server.
func (s *Store) SetServerState(address string, state events.ServerState) error {
	_, err := s.db.Exec(
		`UPDATE servers SET state = ? WHERE address = ?`,
		state.String(), address)
	if err != nil {
		return fmt.Errorf("failed to update state for %s: %w", address, err)
	}
	return nil
}

// Server returns the registry record for one address.
func (s *Store) Server(address string) (*ServerRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, address, name, map, game, max_players, state, source, first_seen, last_seen
		FROM servers WHERE address = ?`, address)

	rec, err := scanServer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load server %s: %w", address, err)
	}
	return rec, nil
}

// Servers returns all registry records ordered by address.
func (s *Store) Servers() ([]ServerRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, address, name, map, game, max_players, state, source, first_seen, last_seen
		FROM servers ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer rows.Close()

	var out []ServerRecord
	for rows.Next() {
		rec, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanServer(row rowScanner) (*ServerRecord, error) {
	var rec ServerRecord
	var state string
	err := row.Scan(&rec.ID, &rec.Address, &rec.Name, &rec.Map, &rec.Game,
		&rec.MaxPlayers, &state, &rec.Source, &rec.FirstSeen, &rec.LastSeen)
	if err != nil {
		return nil, err
	}
	rec.State = parseState(state)
	return &rec, nil
}

func parseState(s string) events.ServerState {
	switch s {
	case "online":
		return events.ServerStateOnline
	case "offline":
		return events.ServerStateOffline
	default:
		return events.ServerStateUnknown
	}
}

// SaveSnapshot persists one query observation.
func (s *Store) SaveSnapshot(snap Snapshot) error {
	_, err := s.db.Exec(`
		INSERT INTO snapshots (address, player_count, max_players, map, ping_ms, taken_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		snap.Address, snap.PlayerCount, snap.MaxPlayers, snap.Map, snap.PingMs,
		snap.TakenAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save snapshot for %s: %w", snap.Address, err)
	}
	return nil
}

// LatestSnapshot returns the most recent observation for an address, or nil
// if none exists.
func (s *Store) LatestSnapshot(address string) (*Snapshot, error) {
	row := s.db.QueryRow(`
		SELECT id, address, player_count, max_players, map, ping_ms, taken_at
		FROM snapshots WHERE address = ?
		ORDER BY taken_at DESC, id DESC LIMIT 1`, address)

	var snap Snapshot
	err := row.Scan(&snap.ID, &snap.Address, &snap.PlayerCount, &snap.MaxPlayers,
		&snap.Map, &snap.PingMs, &snap.TakenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot for %s: %w", address, err)
	}
	return &snap, nil
}

// History returns up to limit observations for an address, newest first.
func (s *Store) History(address string, limit int) ([]Snapshot, error) {
	rows, err := s.db.Query(`
		SELECT id, address, player_count, max_players, map, ping_ms, taken_at
		FROM snapshots WHERE address = ?
		ORDER BY taken_at DESC, id DESC LIMIT ?`, address, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", address, err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		if err := rows.Scan(&snap.ID, &snap.Address, &snap.PlayerCount,
			&snap.MaxPlayers, &snap.Map, &snap.PingMs, &snap.TakenAt); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// PruneSnapshots deletes observations older than the cutoff and returns the
// number of rows removed.
func (s *Store) PruneSnapshots(olderThan time.Time) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM snapshots WHERE taken_at < ?`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Debug().Int64("rows", n).Msg("pruned old snapshots")
	}
	return n, nil
}
