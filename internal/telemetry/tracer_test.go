package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestSetupDisabled(t *testing.T) {
	p, err := Setup(context.Background(), domain.TracingConfig{Enabled: false}, "test")
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSetupEnabled(t *testing.T) {
	cfg := domain.TracingConfig{
		Enabled:       true,
		ServiceName:   "kestrel-test",
		Endpoint:      "localhost:4318",
		Insecure:      true,
		SamplingRatio: 0.5,
	}
	p, err := Setup(context.Background(), cfg, "test")
	require.NoError(t, err)
	assert.True(t, p.Enabled())

	// Nothing was recorded, so shutdown has nothing to export.
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(0).Description())
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}
