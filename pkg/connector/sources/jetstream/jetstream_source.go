// Package jetstream implements a stream source backed by a durable NATS
// JetStream pull consumer. Messages are acknowledged explicitly, so anything
// not acked before a restart is redelivered by the server.
package jetstream

import (
	"context"
	stderrors "errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-sheets/pkg/config"
	"github.com/ajitpratap0/nebula-sheets/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sheets/pkg/errors"
)

const defaultFetchTimeout = time.Second

// pullConsumer is the part of jetstream.Consumer the source uses.
type pullConsumer interface {
	Next(opts ...jetstream.FetchOpt) (jetstream.Msg, error)
}

// JetStreamSource pulls one message at a time from a durable consumer.
type JetStreamSource struct {
	consumer     pullConsumer
	conn         *nats.Conn
	fetchTimeout time.Duration
	logger       *zap.Logger

	closed    chan struct{}
	closeOnce sync.Once

	consumed int64
	acked    int64
}

// NewJetStreamSource connects to the server and creates (or updates) the
// durable consumer described by cfg.
func NewJetStreamSource(ctx context.Context, cfg config.JetStreamConfig, logger *zap.Logger) (*JetStreamSource, error) {
	if cfg.Stream == "" || cfg.Durable == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "jetstream source requires stream and durable")
	}

	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, nats.Name("nebula-sheets"))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSource, "failed to connect to NATS").
			WithDetail("url", url)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeSource, "failed to create JetStream context")
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, cfg.Stream, consumerConfig(cfg))
	if err != nil {
		nc.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeSource, "failed to create consumer").
			WithDetail("stream", cfg.Stream).
			WithDetail("durable", cfg.Durable)
	}

	s := newJetStreamSource(cons, cfg.FetchTimeout, logger)
	s.conn = nc
	s.logger = s.logger.With(zap.String("stream", cfg.Stream), zap.String("durable", cfg.Durable))
	return s, nil
}

// consumerConfig keeps at most one message outstanding so records reach the
// sink in stream order. AckWait must outlast the slowest delivery or the
// server redelivers a message that is still being appended.
func consumerConfig(cfg config.JetStreamConfig) jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Durable:       cfg.Durable,
		FilterSubject: cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		MaxAckPending: 1,
	}
}

func newJetStreamSource(consumer pullConsumer, fetchTimeout time.Duration, logger *zap.Logger) *JetStreamSource {
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JetStreamSource{
		consumer:     consumer,
		fetchTimeout: fetchTimeout,
		logger:       logger.With(zap.String("component", "jetstream_source")),
		closed:       make(chan struct{}),
	}
}

// Next implements core.Source. A stream has no end; Next polls in
// fetchTimeout slices so cancellation is observed between fetches.
func (s *JetStreamSource) Next(ctx context.Context) (*core.Message, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.closed:
			return nil, errors.New(errors.ErrorTypeSource, "jetstream source is closed")
		default:
		}

		msg, err := s.consumer.Next(jetstream.FetchMaxWait(s.fetchTimeout))
		if err != nil {
			if stderrors.Is(err, nats.ErrTimeout) {
				continue
			}
			return nil, errors.Wrap(err, errors.ErrorTypeSource, "failed to fetch message")
		}

		out := &core.Message{
			Payload:   msg.Data(),
			Timestamp: time.Now(),
			Handle:    msg,
		}
		if md, mdErr := msg.Metadata(); mdErr == nil {
			out.Offset = strconv.FormatUint(md.Sequence.Stream, 10)
			out.Timestamp = md.Timestamp
		}
		atomic.AddInt64(&s.consumed, 1)
		return out, nil
	}
}

// Ack implements core.Source.
func (s *JetStreamSource) Ack(_ context.Context, msg *core.Message) error {
	if msg == nil {
		return errors.New(errors.ErrorTypeSource, "ack of nil message")
	}
	m, ok := msg.Handle.(jetstream.Msg)
	if !ok {
		return errors.New(errors.ErrorTypeSource, "message was not produced by this source")
	}
	if err := m.Ack(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSource, "failed to ack message").
			WithDetail("offset", msg.Offset)
	}
	atomic.AddInt64(&s.acked, 1)
	return nil
}

// Close implements core.Source.
func (s *JetStreamSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.conn != nil {
			if derr := s.conn.Drain(); derr != nil {
				s.conn.Close()
				err = errors.Wrap(derr, errors.ErrorTypeSource, "failed to drain NATS connection")
			}
		}
		s.logger.Info("JetStream source closed",
			zap.Int64("consumed", atomic.LoadInt64(&s.consumed)),
			zap.Int64("acked", atomic.LoadInt64(&s.acked)))
	})
	return err
}

var _ core.Source = (*JetStreamSource)(nil)
