package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestResourceAttributesPrefixProtocolKeys(t *testing.T) {
	attrs := resourceAttributes(Config{
		ServiceName: "vaultctl",
		Version:     "v1",
		Environment: "test",
		Attributes: map[string]string{
			"vault":            "usds1vault",
			"usds.collaterals": "USDC,DAI",
			" ":                "dropped",
		},
	})
	got := make(map[attribute.Key]string, len(attrs))
	for _, kv := range attrs {
		got[kv.Key] = kv.Value.AsString()
	}
	require.Equal(t, "vaultctl", got["service.name"])
	require.Equal(t, "v1", got["service.version"])
	require.Equal(t, "test", got["deployment.environment"])
	require.Equal(t, "usds1vault", got["usds.vault"])
	require.Equal(t, "USDC,DAI", got["usds.collaterals"])
	require.Len(t, got, 5)
}

func TestSamplerFallsBackToAlwaysSample(t *testing.T) {
	require.Equal(t, sdktrace.AlwaysSample().Description(), sampler(0).Description())
	require.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1.5).Description())
	require.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{Traces: true})
	require.Error(t, err)

	shutdown, err := Init(context.Background(), Config{ServiceName: "vaultctl"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" authorization = Bearer x ,bad, =skip,tenant=usds,")
	require.Equal(t, map[string]string{"authorization": "Bearer x", "tenant": "usds"}, headers)
}
