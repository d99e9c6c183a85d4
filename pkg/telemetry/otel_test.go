package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetup_StdoutExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	ctx := context.Background()
	shutdown, err := Setup(ctx, Config{ServiceName: "flowlimit-test", Exporter: "stdout", Writer: &buf})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(ctx, "ratelimit.Evaluate")
	span.End()
	require.NoError(t, shutdown(ctx))

	assert.Contains(t, buf.String(), "ratelimit.Evaluate")
	assert.Contains(t, buf.String(), "flowlimit-test")
}

func TestSetup_NoneAndUnknown(t *testing.T) {
	ctx := context.Background()
	shutdown, err := Setup(ctx, Config{Exporter: "none"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(ctx))

	_, err = Setup(ctx, Config{Exporter: "jaeger"})
	assert.Error(t, err)
}
