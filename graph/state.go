package graph

import (
	"encoding/json"
	"fmt"
)

// Reducer merges a node's delta into the previous state. The engine applies
// it after every node execution; the merged result is what gets
// checkpointed and routed on. Reducers must be deterministic.
type Reducer[S any] func(prev, delta S) S

// deepCopy creates a deep copy of state S using a JSON round-trip.
//
// This works for any state type that can be JSON-marshaled: primitives,
// structs with exported fields, slices, and maps. Unexported fields are not
// copied, and channels or functions will fail to marshal.
//
// The engine uses it to isolate selectors from the live state: a selector
// receives its own copy, so any write it performs is discarded.
func deepCopy[S any](state S) (S, error) {
	var zero S

	data, err := json.Marshal(state)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal state: %w", err)
	}

	var copied S
	if err := json.Unmarshal(data, &copied); err != nil {
		return zero, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return copied, nil
}
