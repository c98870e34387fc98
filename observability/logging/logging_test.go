package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRenamesCoreKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "vaultctl", "test")
	logger.Info("minted", "collateral", "USDC")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "minted", line["message"])
	require.Equal(t, "vaultctl", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
	require.Equal(t, "USDC", line["collateral"])
}

func TestMaskHeaders(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "vaultctl", "")
	logger.Info("telemetry", MaskHeaders(map[string]string{
		"Authorization": "Bearer secret",
		"User-Agent":    "vaultctl",
	}))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	headers, ok := line["headers"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, RedactedValue, headers["Authorization"])
	require.Equal(t, "vaultctl", headers["User-Agent"])
	require.NotContains(t, line, "env")
}
