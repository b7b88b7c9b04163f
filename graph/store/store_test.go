package store_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/dshills/bankflow/graph/store"
)

// TestUnmarshalState verifies both supported checkpoint state layouts decode
// to the same workflow state: the raw object written by current code, and
// the session envelope whose workflow_state field holds the raw object.
func TestUnmarshalState(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want testState
	}{
		{
			name: "raw state object",
			raw:  `{"message":"check my balance","amount":0}`,
			want: testState{Message: "check my balance"},
		},
		{
			name: "session envelope",
			raw:  `{"session_id":"s-1","status":"active","workflow_state":{"message":"send $100","amount":100}}`,
			want: testState{Message: "send $100", Amount: 100},
		},
		{
			name: "envelope with null workflow_state falls back to raw",
			raw:  `{"message":"hi","amount":1,"workflow_state":null}`,
			want: testState{Message: "hi", Amount: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got testState
			if err := store.UnmarshalState(json.RawMessage(tt.raw), &got); err != nil {
				t.Fatalf("UnmarshalState failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestUnmarshalStateInvalid(t *testing.T) {
	var got testState
	if err := store.UnmarshalState(json.RawMessage(`{not json`), &got); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

// TestMemStoreConcurrentSaves verifies timestamps stay strictly increasing
// under concurrent writers to different sessions.
func TestMemStoreConcurrentSaves(t *testing.T) {
	st := store.NewMemStore()
	ctx := context.Background()

	const writers = 8
	const saves = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			sessionID := "concurrent-" + string(rune('a'+w))
			for i := 0; i < saves; i++ {
				if _, err := st.Save(ctx, sessionID, "validate_input", testState{Amount: float64(i)}, nil); err != nil {
					t.Errorf("Save failed: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	for w := 0; w < writers; w++ {
		sessionID := "concurrent-" + string(rune('a'+w))
		log, err := st.List(ctx, sessionID)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(log) != saves {
			t.Fatalf("session %s: got %d checkpoints, want %d", sessionID, len(log), saves)
		}
		for i := 1; i < len(log); i++ {
			if !log[i].CreatedAt.After(log[i-1].CreatedAt) {
				t.Fatalf("session %s: created_at not strictly increasing at %d", sessionID, i)
			}
		}
	}
}
