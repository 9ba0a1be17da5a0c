package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/dunamismax/pixelgate/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LogConfig{Level: "debug", Format: "json", Output: &buf}, "pixelgate-api")
	require.NoError(t, err)

	logger.WithField("request_id", "r1").Debug("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "pixelgate-api", line["service"])
	assert.Equal(t, "r1", line["request_id"])
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	_, err := NewLogger(LogConfig{Level: "loud"}, "x")
	require.Error(t, err)
}

func TestSetupTracingDisabled(t *testing.T) {
	logger, _ := test.NewNullLogger()
	shutdown, err := SetupTracing(context.Background(), "x", config.TracingConfig{Exporter: "none"}, logger)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetupTracingRejectsUnknownExporter(t *testing.T) {
	_, err := SetupTracing(context.Background(), "x", config.TracingConfig{Exporter: "zipkin"}, logrus.New())
	require.Error(t, err)
}

func TestSetupTracingOTLPNeedsEndpoint(t *testing.T) {
	_, err := SetupTracing(context.Background(), "x", config.TracingConfig{Exporter: "otlp"}, logrus.New())
	require.Error(t, err)
}

func TestSetupTracingStdout(t *testing.T) {
	logger, hook := test.NewNullLogger()
	shutdown, err := SetupTracing(context.Background(), "pixelgate-test", config.TracingConfig{Exporter: "STDOUT"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })
	require.NoError(t, shutdown(context.Background()))

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "tracing enabled", hook.LastEntry().Message)
	assert.Equal(t, "pixelgate-test", hook.LastEntry().Data["service"])
}
