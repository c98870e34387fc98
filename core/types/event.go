package types

import (
	"log/slog"
	"sort"
	"strings"
)

// Event represents a typed event emitted by a protocol module. Type is
// "<module>.<name>", e.g. "vault.minted".
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Module returns the emitting module, the part of Type before the first dot.
func (e *Event) Module() string {
	if e == nil {
		return ""
	}
	module, _, _ := strings.Cut(e.Type, ".")
	return module
}

// LogAttrs renders the attributes as slog attributes in key order.
func (e *Event) LogAttrs() []any {
	if e == nil || len(e.Attributes) == 0 {
		return nil
	}
	keys := make([]string, 0, len(e.Attributes))
	for k := range e.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]any, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, e.Attributes[k]))
	}
	return attrs
}
