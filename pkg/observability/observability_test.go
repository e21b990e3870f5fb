package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledTracingIsNoop(t *testing.T) {
	require.NoError(t, InitTracing(DefaultTracingConfig()))

	_, span := NewSpan(context.Background(), "noop")
	span.SetAttribute("k", "v")
	span.End()

	assert.False(t, Tracer() == nil)
	assert.NoError(t, Shutdown(context.Background()))
}

func TestConnectorTracerExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	cfg.Writer = &buf
	require.NoError(t, InitTracing(cfg))

	ct := NewConnectorTracer("google-sheets", "orders")

	_, span := ct.StartSpan(context.Background(), "sheets.deliver")
	span.SetAttribute("record.range", "Sheet1!A1")
	span.SetAttribute("record.rows", 3)
	span.Succeed()
	span.End()

	_, failed := ct.StartSpan(context.Background(), "sheets.deliver")
	failed.Fail("server_failure", errors.New("503"))
	failed.End()

	require.NoError(t, Shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "sheets.deliver")
	assert.Contains(t, out, "Sheet1!A1")
	assert.Contains(t, out, "orders")
	assert.Contains(t, out, "server_failure")
}
