package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/dshills/bankflow/graph/store"
)

type testState struct {
	Message string  `json:"message"`
	Amount  float64 `json:"amount"`
}

// storeScenarios builds each backend the same way the engine does, skipping
// backends whose infrastructure is not available in the test environment.
func storeScenarios(t *testing.T) []struct {
	name      string
	storeFunc func(*testing.T) (store.Store, func())
} {
	t.Helper()
	return []struct {
		name      string
		storeFunc func(*testing.T) (store.Store, func())
	}{
		{
			name: "MemStore",
			storeFunc: func(t *testing.T) (store.Store, func()) {
				return store.NewMemStore(), func() {}
			},
		},
		{
			name: "SQLiteStore",
			storeFunc: func(t *testing.T) (store.Store, func()) {
				dbPath := filepath.Join(t.TempDir(), "test.db")
				st, err := store.NewSQLiteStore(dbPath)
				if err != nil {
					t.Fatalf("Failed to create SQLiteStore: %v", err)
				}
				return st, func() { _ = st.Close() }
			},
		},
		{
			name: "MySQLStore",
			storeFunc: func(t *testing.T) (store.Store, func()) {
				dsn := os.Getenv("TEST_MYSQL_DSN")
				if dsn == "" {
					t.Skip("Skipping MySQL test: TEST_MYSQL_DSN not set")
				}
				st, err := store.NewMySQLStore(dsn)
				if err != nil {
					t.Fatalf("Failed to create MySQLStore: %v", err)
				}
				return st, func() { _ = st.Close() }
			},
		},
		{
			name: "RedisStore",
			storeFunc: func(t *testing.T) (store.Store, func()) {
				mr := miniredis.RunT(t)
				st, err := store.NewRedisStore("redis://" + mr.Addr())
				if err != nil {
					t.Fatalf("Failed to create RedisStore: %v", err)
				}
				return st, func() { _ = st.Close() }
			},
		},
	}
}

// TestStoreContract verifies that every backend implements the append-only
// checkpoint log the same way: Save assigns ids, LoadLatest returns the
// newest record, List is chronological, and Clear empties the session.
func TestStoreContract(t *testing.T) {
	for _, scenario := range storeScenarios(t) {
		t.Run(scenario.name, func(t *testing.T) {
			ctx := context.Background()
			st, cleanup := scenario.storeFunc(t)
			defer cleanup()

			sessionID := "contract-" + scenario.name

			// Empty session yields ErrNotFound.
			if _, err := st.LoadLatest(ctx, sessionID); !errors.Is(err, store.ErrNotFound) {
				t.Fatalf("LoadLatest on empty session: got %v, want ErrNotFound", err)
			}

			// Append three checkpoints at distinct nodes.
			nodes := []string{"validate_input", "confidence_check", "balance_inquiry"}
			ids := make([]string, 0, len(nodes))
			for i, node := range nodes {
				id, err := st.Save(ctx, sessionID, node,
					testState{Message: node, Amount: float64(i)},
					map[string]any{store.MetaPhase: store.PhaseStart})
				if err != nil {
					t.Fatalf("Save %s failed: %v", node, err)
				}
				if id == "" {
					t.Fatalf("Save %s returned empty checkpoint id", node)
				}
				ids = append(ids, id)
			}

			// LoadLatest returns the last save.
			latest, err := st.LoadLatest(ctx, sessionID)
			if err != nil {
				t.Fatalf("LoadLatest failed: %v", err)
			}
			if latest.ID != ids[2] {
				t.Errorf("LoadLatest id: got %s, want %s", latest.ID, ids[2])
			}
			if latest.NodeID != "balance_inquiry" {
				t.Errorf("LoadLatest node: got %s, want balance_inquiry", latest.NodeID)
			}
			if latest.Phase() != store.PhaseStart {
				t.Errorf("LoadLatest phase: got %q, want %q", latest.Phase(), store.PhaseStart)
			}

			var decoded testState
			if err := store.UnmarshalState(latest.State, &decoded); err != nil {
				t.Fatalf("UnmarshalState failed: %v", err)
			}
			if decoded.Message != "balance_inquiry" || decoded.Amount != 2 {
				t.Errorf("decoded state mismatch: %+v", decoded)
			}

			// List is in save order with strictly increasing timestamps.
			log, err := st.List(ctx, sessionID)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(log) != len(ids) {
				t.Fatalf("List length: got %d, want %d", len(log), len(ids))
			}
			for i, cp := range log {
				if cp.ID != ids[i] {
					t.Errorf("List[%d] id: got %s, want %s", i, cp.ID, ids[i])
				}
				if cp.SessionID != sessionID {
					t.Errorf("List[%d] session: got %s, want %s", i, cp.SessionID, sessionID)
				}
				if i > 0 && !cp.CreatedAt.After(log[i-1].CreatedAt) {
					t.Errorf("List[%d] created_at %v not after List[%d] %v",
						i, cp.CreatedAt, i-1, log[i-1].CreatedAt)
				}
			}

			// Sessions are isolated.
			other, err := st.List(ctx, "some-other-session")
			if err != nil {
				t.Fatalf("List other session failed: %v", err)
			}
			if len(other) != 0 {
				t.Errorf("other session has %d checkpoints, want 0", len(other))
			}

			// Clear empties the session.
			if err := st.Clear(ctx, sessionID); err != nil {
				t.Fatalf("Clear failed: %v", err)
			}
			if _, err := st.LoadLatest(ctx, sessionID); !errors.Is(err, store.ErrNotFound) {
				t.Errorf("LoadLatest after Clear: got %v, want ErrNotFound", err)
			}
		})
	}
}

// TestStoreSaveNeverOverwrites verifies that repeated saves at the same node
// append new records rather than replacing earlier ones.
func TestStoreSaveNeverOverwrites(t *testing.T) {
	for _, scenario := range storeScenarios(t) {
		t.Run(scenario.name, func(t *testing.T) {
			ctx := context.Background()
			st, cleanup := scenario.storeFunc(t)
			defer cleanup()

			sessionID := "append-only-" + scenario.name
			for i := 0; i < 4; i++ {
				if _, err := st.Save(ctx, sessionID, "money_transfer_hil",
					testState{Amount: float64(i)}, nil); err != nil {
					t.Fatalf("Save %d failed: %v", i, err)
				}
			}

			log, err := st.List(ctx, sessionID)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(log) != 4 {
				t.Fatalf("List length: got %d, want 4", len(log))
			}

			latest, err := st.LoadLatest(ctx, sessionID)
			if err != nil {
				t.Fatalf("LoadLatest failed: %v", err)
			}
			var decoded testState
			if err := store.UnmarshalState(latest.State, &decoded); err != nil {
				t.Fatalf("UnmarshalState failed: %v", err)
			}
			if decoded.Amount != 3 {
				t.Errorf("latest amount: got %v, want 3", decoded.Amount)
			}
		})
	}
}

// TestStoreNilMetadata verifies a nil metadata map round-trips as empty.
func TestStoreNilMetadata(t *testing.T) {
	for _, scenario := range storeScenarios(t) {
		t.Run(scenario.name, func(t *testing.T) {
			ctx := context.Background()
			st, cleanup := scenario.storeFunc(t)
			defer cleanup()

			if _, err := st.Save(ctx, "nil-meta", "fallback", testState{}, nil); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			cp, err := st.LoadLatest(ctx, "nil-meta")
			if err != nil {
				t.Fatalf("LoadLatest failed: %v", err)
			}
			if cp.Metadata == nil {
				t.Error("Metadata is nil, want empty map")
			}
			if cp.Phase() != "" {
				t.Errorf("Phase: got %q, want empty", cp.Phase())
			}
		})
	}
}
