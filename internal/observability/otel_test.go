package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardflow/internal/config"
)

func TestSetupTracing_DisabledIsNoOp(t *testing.T) {
	cfg := config.GetDefaultConfig().Monitoring.Tracing
	cfg.Enabled = false
	shutdown, err := SetupTracing(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestEndpointHost(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"http://localhost:4317", "localhost:4317"},
		{"https://otel-collector:4317", "otel-collector:4317"},
		{"https://example.com:4317/v1/traces", "example.com:4317"},
		{"127.0.0.1:4317", "127.0.0.1:4317"},
		{"http://", "http://"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, endpointHost(tt.input), tt.input)
	}
}

func TestSampleRatio(t *testing.T) {
	assert.Equal(t, 0.1, sampleRatio(0))
	assert.Equal(t, 0.1, sampleRatio(3))
	assert.Equal(t, 0.5, sampleRatio(0.5))
}
