package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sourcewatch-project/sourcewatch/internal/events"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertServerInsertsThenUpdates(t *testing.T) {
	s := openTestStore(t)

	rec := ServerRecord{
		Address:    "192.0.2.1:27015",
		Name:       "Test Server",
		Map:        "de_dust2",
		Game:       "Counter-Strike",
		MaxPlayers: 16,
		State:      events.ServerStateOnline,
		Source:     SourceStatic,
	}
	if err := s.UpsertServer(rec); err != nil {
		t.Fatalf("UpsertServer: %v", err)
	}

	rec.Map = "de_nuke"
	if err := s.UpsertServer(rec); err != nil {
		t.Fatalf("UpsertServer update: %v", err)
	}

	got, err := s.Server(rec.Address)
	if err != nil {
		t.Fatalf("Server: %v", err)
	}
	if got == nil {
		t.Fatal("server not found after upsert")
	}
	if got.Map != "de_nuke" {
		t.Errorf("map = %q, want de_nuke", got.Map)
	}
	if got.State != events.ServerStateOnline {
		t.Errorf("state = %v, want online", got.State)
	}

	servers, err := s.Servers()
	if err != nil {
		t.Fatalf("Servers: %v", err)
	}
	if len(servers) != 1 {
		t.Fatalf("server count = %d, want 1 (upsert must not duplicate)", len(servers))
	}
}

func TestRegisterDiscoveredKeepsExistingMetadata(t *testing.T) {
	s := openTestStore(t)

	rec := ServerRecord{
		Address:    "192.0.2.7:27015",
		Name:       "Polled Server",
		Map:        "cs_office",
		Game:       "Counter-Strike",
		MaxPlayers: 24,
		State:      events.ServerStateOnline,
		Source:     SourceStatic,
	}
	if err := s.UpsertServer(rec); err != nil {
		t.Fatalf("UpsertServer: %v", err)
	}

	// A master sweep only knows the address; re-registering must not wipe
	// what the poller recorded.
	if err := s.RegisterDiscovered(rec.Address, SourceMaster); err != nil {
		t.Fatalf("RegisterDiscovered: %v", err)
	}

	got, err := s.Server(rec.Address)
	if err != nil {
		t.Fatalf("Server: %v", err)
	}
	if got == nil {
		t.Fatal("server not found after re-register")
	}
	if got.Name != rec.Name || got.Map != rec.Map || got.MaxPlayers != rec.MaxPlayers {
		t.Errorf("metadata clobbered: name=%q map=%q maxPlayers=%d", got.Name, got.Map, got.MaxPlayers)
	}
	if got.State != events.ServerStateOnline {
		t.Errorf("state = %v, want online", got.State)
	}
	if got.Source != SourceStatic {
		t.Errorf("source = %q, want %q", got.Source, SourceStatic)
	}
}

func TestRegisterDiscoveredInsertsNewAddress(t *testing.T) {
	s := openTestStore(t)

	addr := "198.51.100.4:27016"
	if err := s.RegisterDiscovered(addr, SourceMaster); err != nil {
		t.Fatalf("RegisterDiscovered: %v", err)
	}

	got, err := s.Server(addr)
	if err != nil {
		t.Fatalf("Server: %v", err)
	}
	if got == nil {
		t.Fatal("discovered server not inserted")
	}
	if got.Source != SourceMaster {
		t.Errorf("source = %q, want %q", got.Source, SourceMaster)
	}
	if got.State != events.ServerStateUnknown {
		t.Errorf("state = %v, want unknown", got.State)
	}
}

func TestServerMissingReturnsNil(t *testing.T) {
	s := openTestStore(t)

	got, err := s.Server("203.0.113.9:27015")
	if err != nil {
		t.Fatalf("Server: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing address, got %+v", got)
	}
}

func TestSetServerState(t *testing.T) {
	s := openTestStore(t)

	addr := "192.0.2.1:27015"
	if err := s.UpsertServer(ServerRecord{Address: addr, Source: SourceMaster}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetServerState(addr, events.ServerStateOffline); err != nil {
		t.Fatalf("SetServerState: %v", err)
	}

	got, err := s.Server(addr)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != events.ServerStateOffline {
		t.Errorf("state = %v, want offline", got.State)
	}
}

func TestSnapshotHistoryAndLatest(t *testing.T) {
	s := openTestStore(t)
	addr := "192.0.2.1:27015"

	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		snap := Snapshot{
			Address:     addr,
			PlayerCount: i,
			MaxPlayers:  16,
			Map:         "de_dust2",
			PingMs:      int64(20 + i),
			TakenAt:     base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.SaveSnapshot(snap); err != nil {
			t.Fatalf("SaveSnapshot: %v", err)
		}
	}

	latest, err := s.LatestSnapshot(addr)
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if latest == nil || latest.PlayerCount != 2 {
		t.Fatalf("latest = %+v, want player_count 2", latest)
	}

	hist, err := s.History(addr, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("history length = %d, want 2", len(hist))
	}
	if hist[0].PlayerCount != 2 || hist[1].PlayerCount != 1 {
		t.Errorf("history not newest-first: %+v", hist)
	}
}

func TestLatestSnapshotMissingReturnsNil(t *testing.T) {
	s := openTestStore(t)

	latest, err := s.LatestSnapshot("203.0.113.9:27015")
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if latest != nil {
		t.Fatalf("expected nil, got %+v", latest)
	}
}

func TestPruneSnapshots(t *testing.T) {
	s := openTestStore(t)
	addr := "192.0.2.1:27015"

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	for _, ts := range []time.Time{old, recent} {
		if err := s.SaveSnapshot(Snapshot{Address: addr, TakenAt: ts}); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.PruneSnapshots(time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("PruneSnapshots: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d rows, want 1", n)
	}

	hist, err := s.History(addr, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 {
		t.Fatalf("remaining snapshots = %d, want 1", len(hist))
	}
}
