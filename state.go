package conductor

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Control field keys reserved in every workflow state.
const (
	// FatalErrorsKey holds the list of workflow-fatal error messages.
	FatalErrorsKey = "workflow_fatal_errors"

	// RetryCountKey holds the number of validation retries for the
	// current suspend point.
	RetryCountKey = "retry_count"
)

// State is the shared mutable record threaded through every node. Nodes read
// the full state and return only the fields they changed as a Patch; the run
// merges patches into this canonical state. A State is owned exclusively by
// one run during an advance and snapshotted into a checkpoint between calls.
type State struct {
	values map[string]any
	mutex  sync.RWMutex
}

// NewState creates an empty state.
func NewState() *State {
	return &State{values: map[string]any{}}
}

// NewStateFromMap creates a state initialized with the given values.
func NewStateFromMap(values map[string]any) *State {
	s := NewState()
	for k, v := range values {
		s.values[k] = v
	}
	return s
}

// Get retrieves a value from the state.
func (s *State) Get(key string) (any, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	value, exists := s.values[key]
	return value, exists
}

// GetString retrieves a string value from the state. Missing keys and
// non-string values return false.
func (s *State) GetString(key string) (string, bool) {
	value, exists := s.Get(key)
	if !exists {
		return "", false
	}
	str, ok := value.(string)
	return str, ok
}

// Set sets a single value. Nodes should prefer returning a Patch; Set exists
// for run-internal bookkeeping and tests.
func (s *State) Set(key string, value any) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.values[key] = value
}

// Keys returns all keys in the state, sorted.
func (s *State) Keys() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	keys := make([]string, 0, len(s.values))
	for key := range s.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ToMap returns a shallow copy of the state values.
func (s *State) ToMap() map[string]any {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	values := make(map[string]any, len(s.values))
	for k, v := range s.values {
		values[k] = v
	}
	return values
}

// Snapshot returns a deep copy of the state values via a JSON round-trip,
// suitable for checkpointing. Values must be JSON-serializable.
func (s *State) Snapshot() (map[string]any, error) {
	s.mutex.RLock()
	data, err := json.Marshal(s.values)
	s.mutex.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	var values map[string]any
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return values, nil
}

// Apply merges a patch into the state. Nil patches are no-ops.
func (s *State) Apply(patch Patch) {
	if len(patch) == 0 {
		return
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for k, v := range patch {
		s.values[k] = v
	}
}

// FatalErrors returns the workflow-fatal error messages recorded in the
// state, if any.
func (s *State) FatalErrors() []string {
	value, exists := s.Get(FatalErrorsKey)
	if !exists {
		return nil
	}
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		var messages []string
		for _, item := range v {
			if str, ok := item.(string); ok {
				messages = append(messages, str)
			}
		}
		return messages
	}
	return nil
}

// RetryCount returns the validation retry counter for the current suspend
// point.
func (s *State) RetryCount() int {
	value, exists := s.Get(RetryCountKey)
	if !exists {
		return 0
	}
	switch v := value.(type) {
	case int:
		return v
	case float64:
		// JSON numbers decode as float64
		return int(v)
	}
	return 0
}

// Patch is a partial state update returned by a node: only the fields the
// node changed, never a full replacement.
type Patch map[string]any

// FatalErrorPatch returns a patch that appends messages to the state's
// workflow-fatal error list.
func FatalErrorPatch(state *State, messages ...string) Patch {
	combined := append(state.FatalErrors(), messages...)
	return Patch{FatalErrorsKey: combined}
}
