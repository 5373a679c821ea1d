package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"sync"
)

// ExecutionContext is the key-value checkpoint state attached to a job or step execution.
// It tracks whether it changed since it was last persisted.
type ExecutionContext struct {
	mu    sync.RWMutex
	data  map[string]interface{}
	dirty bool
}

// NewExecutionContext creates a new empty ExecutionContext.
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{data: make(map[string]interface{})}
}

// NewExecutionContextFrom creates an ExecutionContext holding a copy of entries. The
// result is not dirty.
func NewExecutionContextFrom(entries map[string]interface{}) *ExecutionContext {
	ec := NewExecutionContext()
	for k, v := range entries {
		ec.data[k] = v
	}
	return ec
}

// Put stores value under key. A nil value removes the key. The context becomes dirty only
// when the stored value actually changes.
func (ec *ExecutionContext) Put(key string, value interface{}) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if value == nil {
		if _, ok := ec.data[key]; ok {
			delete(ec.data, key)
			ec.dirty = true
		}
		return
	}
	if old, ok := ec.data[key]; ok && reflect.DeepEqual(old, value) {
		return
	}
	ec.data[key] = value
	ec.dirty = true
}

// PutAll stores every entry of other.
func (ec *ExecutionContext) PutAll(other *ExecutionContext) {
	if other == nil {
		return
	}
	for k, v := range other.ToMap() {
		ec.Put(k, v)
	}
}

// Get retrieves the value stored under key.
func (ec *ExecutionContext) Get(key string) (interface{}, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	v, ok := ec.data[key]
	return v, ok
}

// GetString retrieves the value for key as a string.
func (ec *ExecutionContext) GetString(key string) (string, bool) {
	v, ok := ec.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetInt64 retrieves the value for key as an int64. Numbers decoded from JSON are accepted.
func (ec *ExecutionContext) GetInt64(key string) (int64, bool) {
	v, ok := ec.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// GetInt64OrDefault retrieves the value for key as an int64, or def when absent.
func (ec *ExecutionContext) GetInt64OrDefault(key string, def int64) int64 {
	if v, ok := ec.GetInt64(key); ok {
		return v
	}
	return def
}

// GetInt retrieves the value for key as an int.
func (ec *ExecutionContext) GetInt(key string) (int, bool) {
	v, ok := ec.GetInt64(key)
	return int(v), ok
}

// GetBool retrieves the value for key as a bool.
func (ec *ExecutionContext) GetBool(key string) (bool, bool) {
	v, ok := ec.Get(key)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// ContainsKey reports whether key is present.
func (ec *ExecutionContext) ContainsKey(key string) bool {
	_, ok := ec.Get(key)
	return ok
}

// Remove deletes key.
func (ec *ExecutionContext) Remove(key string) {
	ec.Put(key, nil)
}

// IsDirty reports whether the context changed since the last ClearDirtyFlag.
func (ec *ExecutionContext) IsDirty() bool {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.dirty
}

// ClearDirtyFlag marks the context as persisted.
func (ec *ExecutionContext) ClearDirtyFlag() {
	if ec == nil {
		return
	}
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.dirty = false
}

// Len returns the number of entries.
func (ec *ExecutionContext) Len() int {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return len(ec.data)
}

// IsEmpty reports whether the context holds no entries.
func (ec *ExecutionContext) IsEmpty() bool {
	return ec.Len() == 0
}

// Keys returns the keys in sorted order.
func (ec *ExecutionContext) Keys() []string {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	keys := make([]string, 0, len(ec.data))
	for k := range ec.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ToMap returns a shallow copy of the entries.
func (ec *ExecutionContext) ToMap() map[string]interface{} {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	m := make(map[string]interface{}, len(ec.data))
	for k, v := range ec.data {
		m[k] = v
	}
	return m
}

// Copy returns an independent, non-dirty copy.
func (ec *ExecutionContext) Copy() *ExecutionContext {
	if ec == nil {
		return NewExecutionContext()
	}
	return NewExecutionContextFrom(ec.ToMap())
}

// Equal reports whether both contexts hold the same entries once encoded.
func (ec *ExecutionContext) Equal(other *ExecutionContext) bool {
	a, errA := json.Marshal(ec)
	b, errB := json.Marshal(other)
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// MarshalJSON encodes the entries as a JSON object with sorted keys.
func (ec *ExecutionContext) MarshalJSON() ([]byte, error) {
	if ec == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(ec.ToMap())
}

// UnmarshalJSON replaces the entries with the decoded object. Numbers are kept as
// json.Number so large offsets survive a round trip.
func (ec *ExecutionContext) UnmarshalJSON(data []byte) error {
	entries := make(map[string]interface{})
	if len(bytes.TrimSpace(data)) > 0 && !bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&entries); err != nil {
			return fmt.Errorf("failed to unmarshal ExecutionContext JSON: %w", err)
		}
	}
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.data = entries
	ec.dirty = false
	return nil
}

// Value implements driver.Valuer.
func (ec *ExecutionContext) Value() (driver.Value, error) {
	data, err := ec.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (ec *ExecutionContext) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		return ec.UnmarshalJSON(nil)
	case []byte:
		return ec.UnmarshalJSON(v)
	case string:
		return ec.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("unsupported Scan type for ExecutionContext: %T", value)
	}
}

// String returns the JSON form for logs.
func (ec *ExecutionContext) String() string {
	data, err := ec.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<invalid ExecutionContext: %v>", err)
	}
	return string(data)
}
