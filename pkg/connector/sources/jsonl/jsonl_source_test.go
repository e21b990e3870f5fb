package jsonl

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/nebula-sheets/pkg/config"
	"github.com/ajitpratap0/nebula-sheets/pkg/errors"
)

func TestJSONLSourceReadsLinesInOrder(t *testing.T) {
	input := "{\"a\":1}\n\n   \n{\"b\":2}\r\n{\"c\":3}"
	src := NewJSONLSource("test", strings.NewReader(input), 0, zaptest.NewLogger(t))
	defer src.Close()

	ctx := context.Background()
	var payloads, offsets []string
	for {
		msg, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		payloads = append(payloads, string(msg.Payload))
		offsets = append(offsets, msg.Offset)
		require.NoError(t, src.Ack(ctx, msg))
	}

	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`, `{"c":3}`}, payloads)
	assert.Equal(t, []string{"1", "4", "5"}, offsets)
	assert.Equal(t, int64(3), src.Metrics()["acked"])

	// end of stream is sticky
	_, err := src.Next(ctx)
	assert.Equal(t, io.EOF, err)
}

func TestJSONLSourceNextHonoursCancellation(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	src := NewJSONLSource("pipe", pr, 0, zaptest.NewLogger(t))
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	go func() { _, _ = pw.Write([]byte("{\"late\":true}\n")) }()
	msg, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"late":true}`, string(msg.Payload))
}

func TestJSONLSourceSkipsOversizedLine(t *testing.T) {
	input := "{\"a\":1}\n" + strings.Repeat("x", 200) + "\n{\"b\":2}\n" + strings.Repeat("y", 300)
	src := NewJSONLSource("long", strings.NewReader(input), 64, zaptest.NewLogger(t))
	defer src.Close()

	ctx := context.Background()
	var payloads, offsets []string
	for {
		msg, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		payloads = append(payloads, string(msg.Payload))
		offsets = append(offsets, msg.Offset)
	}

	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, payloads)
	assert.Equal(t, []string{"1", "3"}, offsets)
	assert.Equal(t, int64(2), src.Metrics()["lines_skipped"])
}

func TestJSONLSourceLineAtLimit(t *testing.T) {
	payload := `{"k":"` + strings.Repeat("v", 10) + `"}`
	src := NewJSONLSource("limit", strings.NewReader(payload+"\r\n"), len(payload), zaptest.NewLogger(t))
	defer src.Close()

	msg, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, payload, string(msg.Payload))
	assert.Equal(t, int64(0), src.Metrics()["lines_skipped"])
}

func TestJSONLSourceReadError(t *testing.T) {
	pr, pw := io.Pipe()
	src := NewJSONLSource("pipe", pr, 0, zaptest.NewLogger(t))
	defer src.Close()

	go func() {
		_, _ = pw.Write([]byte("{\"a\":1}\n"))
		_ = pw.CloseWithError(io.ErrUnexpectedEOF)
	}()

	msg, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", msg.Offset)

	_, err = src.Next(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSource))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = src.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"x\":1}\n"), 0o600))

	src, err := Open(&config.SourceConfig{Type: config.SourceTypeFile, FilePath: path}, zaptest.NewLogger(t))
	require.NoError(t, err)

	msg, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, string(msg.Payload))
	assert.NoError(t, src.Close())
	assert.NoError(t, src.Close())
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(&config.SourceConfig{Type: config.SourceTypeFile, FilePath: filepath.Join(t.TempDir(), "missing")}, zaptest.NewLogger(t))
	assert.True(t, errors.IsType(err, errors.ErrorTypeSource))

	_, err = Open(&config.SourceConfig{Type: config.SourceTypeKafka}, zaptest.NewLogger(t))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestAckNil(t *testing.T) {
	src := NewJSONLSource("x", strings.NewReader(""), 0, nil)
	assert.Error(t, src.Ack(context.Background(), nil))
}
