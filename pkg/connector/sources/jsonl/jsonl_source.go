// Package jsonl implements a stream source over line-delimited JSON read from
// stdin or a file. Each non-blank line is one message.
package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-sheets/pkg/config"
	"github.com/ajitpratap0/nebula-sheets/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sheets/pkg/errors"
)

const defaultMaxLineBytes = 1 << 20

type line struct {
	data   []byte
	number int64
	err    error
}

// JSONLSource reads line-delimited JSON. Lines are read by a single
// goroutine so Next can honour cancellation while the reader blocks.
type JSONLSource struct {
	name   string
	reader io.Reader
	closer io.Closer
	logger *zap.Logger

	lines     chan line
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	maxLine   int

	linesRead    int64
	linesSkipped int64
	acked        int64
}

// NewJSONLSource creates a source over r. If r is an io.Closer it is closed by
// Close.
func NewJSONLSource(name string, r io.Reader, maxLineBytes int, logger *zap.Logger) *JSONLSource {
	if maxLineBytes <= 0 {
		maxLineBytes = defaultMaxLineBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &JSONLSource{
		name:    name,
		reader:  r,
		logger:  logger.With(zap.String("component", "jsonl_source"), zap.String("input", name)),
		lines:   make(chan line),
		done:    make(chan struct{}),
		maxLine: maxLineBytes,
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Open builds a source for the stdin or file source types.
func Open(cfg *config.SourceConfig, logger *zap.Logger) (*JSONLSource, error) {
	switch cfg.Type {
	case config.SourceTypeStdin:
		// stdin is not ours to close
		return NewJSONLSource("stdin", io.NopCloser(os.Stdin), cfg.MaxLineBytes, logger), nil
	case config.SourceTypeFile:
		f, err := os.Open(cfg.FilePath)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeSource, "failed to open source file").
				WithDetail("path", cfg.FilePath)
		}
		return NewJSONLSource(cfg.FilePath, f, cfg.MaxLineBytes, logger), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "jsonl source does not handle type %q", cfg.Type)
	}
}

func (s *JSONLSource) start() {
	s.startOnce.Do(func() {
		go s.readLines()
	})
}

func (s *JSONLSource) readLines() {
	size := 64 * 1024
	if s.maxLine < size {
		size = s.maxLine
	}
	reader := bufio.NewReaderSize(s.reader, size)

	var number int64
	for {
		data, oversized, n, err := readLine(reader, s.maxLine)
		if n > 0 {
			number++
			switch {
			case oversized:
				atomic.AddInt64(&s.linesSkipped, 1)
				s.logger.Warn("skipping line longer than max_line_bytes",
					zap.Int64("line", number),
					zap.Int("bytes", n),
					zap.Int("max_line_bytes", s.maxLine))
			case len(bytes.TrimSpace(data)) > 0:
				select {
				case s.lines <- line{data: data, number: number}:
				case <-s.done:
					return
				}
			}
		}
		if err != nil {
			final := line{err: io.EOF}
			if err != io.EOF {
				final.err = errors.Wrap(err, errors.ErrorTypeSource, "failed to read input").
					WithDetail("line", number+1)
			}
			select {
			case s.lines <- final:
			case <-s.done:
			}
			return
		}
	}
}

// readLine reads through the next newline and returns the line without its
// terminator. A line over limit bytes is consumed to its end but not kept,
// and is reported as oversized. n counts every byte read.
func readLine(r *bufio.Reader, limit int) (data []byte, oversized bool, n int, err error) {
	for {
		var chunk []byte
		chunk, err = r.ReadSlice('\n')
		n += len(chunk)
		if !oversized {
			data = append(data, chunk...)
			// room for a trailing \r\n
			if len(data) > limit+2 {
				data, oversized = nil, true
			}
		}
		if err != bufio.ErrBufferFull {
			break
		}
	}
	if !oversized {
		data = bytes.TrimRight(data, "\r\n")
		if len(data) > limit {
			data, oversized = nil, true
		}
	}
	return data, oversized, n, err
}

// Next implements core.Source.
func (s *JSONLSource) Next(ctx context.Context) (*core.Message, error) {
	s.start()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, io.EOF
	case l, ok := <-s.lines:
		if !ok {
			return nil, io.EOF
		}
		if l.err != nil {
			// the reader has exited; later calls report the end of the stream
			close(s.lines)
			return nil, l.err
		}
		atomic.AddInt64(&s.linesRead, 1)
		return &core.Message{
			Payload:   l.data,
			Offset:    strconv.FormatInt(l.number, 10),
			Timestamp: time.Now(),
			Handle:    l.number,
		}, nil
	}
}

// Ack implements core.Source. Line input has no cursor to commit, so Ack only
// keeps count.
func (s *JSONLSource) Ack(_ context.Context, msg *core.Message) error {
	if msg == nil {
		return errors.New(errors.ErrorTypeSource, "ack of nil message")
	}
	atomic.AddInt64(&s.acked, 1)
	return nil
}

// Close implements core.Source.
func (s *JSONLSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.closer != nil {
			err = s.closer.Close()
		}
		s.logger.Debug("source closed",
			zap.Int64("lines_read", atomic.LoadInt64(&s.linesRead)),
			zap.Int64("lines_skipped", atomic.LoadInt64(&s.linesSkipped)),
			zap.Int64("acked", atomic.LoadInt64(&s.acked)))
	})
	return err
}

// Metrics returns read, skip and ack counters.
func (s *JSONLSource) Metrics() map[string]interface{} {
	return map[string]interface{}{
		"lines_read":    atomic.LoadInt64(&s.linesRead),
		"lines_skipped": atomic.LoadInt64(&s.linesSkipped),
		"acked":         atomic.LoadInt64(&s.acked),
	}
}

var _ core.Source = (*JSONLSource)(nil)
