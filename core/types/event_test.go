package types

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventModule(t *testing.T) {
	require.Equal(t, "vault", (&Event{Type: "vault.minted"}).Module())
	require.Equal(t, "yieldreserve", (&Event{Type: "yieldreserve"}).Module())
	var ev *Event
	require.Equal(t, "", ev.Module())
}

func TestEventLogAttrsSorted(t *testing.T) {
	ev := &Event{Type: "dripper.collected", Attributes: map[string]string{"b": "2", "a": "1"}}
	require.Equal(t, []any{slog.String("a", "1"), slog.String("b", "2")}, ev.LogAttrs())
	require.Nil(t, (&Event{Type: "x"}).LogAttrs())
}
