package agentloop

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// ToolContext is a key/value store shared by the tools of a single run. Only
// metadata about its values (type and producing tool) is shown to the model.
//
// A ToolContext is safe for concurrent use. When tools in the same batch
// write the same key, which write survives is unspecified.
type ToolContext struct {
	mu     sync.RWMutex
	values map[string]any
	meta   map[string]valueMeta
	order  []string
}

type valueMeta struct {
	typeName string
	source   string
}

// NewToolContext returns an empty ToolContext.
func NewToolContext() *ToolContext {
	return &ToolContext{
		values: make(map[string]any),
		meta:   make(map[string]valueMeta),
	}
}

// Set stores value under key. source names the tool that produced it.
func (c *ToolContext) Set(key string, value any, source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; !ok {
		c.order = append(c.order, key)
	}
	c.values[key] = value
	c.meta[key] = valueMeta{typeName: typeName(value), source: source}
}

// Get returns the value stored under key.
func (c *ToolContext) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// GetAs returns the value under key asserted to T. It fails when the key is
// missing or holds a value of another type.
func GetAs[T any](c *ToolContext, key string) (T, error) {
	var zero T
	v, ok := c.Get(key)
	if !ok {
		return zero, fmt.Errorf("tool context has no key %q (available: %s)", key, strings.Join(c.Keys(), ", "))
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("tool context key %q holds %s, not %s", key, typeName(v), reflect.TypeFor[T]())
	}
	return t, nil
}

// Has reports whether key is present.
func (c *ToolContext) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Keys returns the stored keys in insertion order.
func (c *ToolContext) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Len returns the number of stored keys.
func (c *ToolContext) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}

// Summary describes the stored values without revealing them, for example
// "{query_vector: type=[]float64, source=embed}". Keys are sorted.
func (c *ToolContext) Summary() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, len(c.order))
	copy(keys, c.order)
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		m := c.meta[k]
		s := k + ": type=" + m.typeName
		if m.source != "" {
			s += ", source=" + m.source
		}
		parts = append(parts, s)
	}
	return "{" + strings.Join(parts, "; ") + "}"
}

// Clear removes every key.
func (c *ToolContext) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.values)
	clear(c.meta)
	c.order = c.order[:0]
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return reflect.TypeOf(v).String()
}
