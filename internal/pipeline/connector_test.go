package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/nebula-sheets/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sheets/pkg/errors"
	"github.com/ajitpratap0/nebula-sheets/pkg/models"
)

// fakeSource hands out payloads in order, then returns end (io.EOF by
// default) or blocks until ctx is done when block is set.
type fakeSource struct {
	mu       sync.Mutex
	payloads [][]byte
	pos      int
	end      error
	block    bool
	acked    []string
	ackErr   error
}

func newFakeSource(payloads ...string) *fakeSource {
	s := &fakeSource{}
	for _, p := range payloads {
		s.payloads = append(s.payloads, []byte(p))
	}
	return s
}

func (s *fakeSource) Next(ctx context.Context) (*core.Message, error) {
	s.mu.Lock()
	if s.pos < len(s.payloads) {
		s.pos++
		msg := &core.Message{Payload: s.payloads[s.pos-1], Offset: fmt.Sprint(s.pos), Timestamp: time.Now()}
		s.mu.Unlock()
		return msg, nil
	}
	s.mu.Unlock()

	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.end != nil {
		return nil, s.end
	}
	return nil, io.EOF
}

func (s *fakeSource) Ack(_ context.Context, msg *core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ackErr != nil {
		return s.ackErr
	}
	s.acked = append(s.acked, msg.Offset)
	return nil
}

func (s *fakeSource) Close() error { return nil }

func (s *fakeSource) ackedOffsets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.acked...)
}

// fakeSink fails Connect with connectErrs in order, then hands out
// connections that answer Deliver with deliver.
type fakeSink struct {
	mu          sync.Mutex
	connectErrs []error
	connects    int
	conns       []*fakeConnection
	deliver     func(ctx context.Context, n int, r *models.Record) (core.Outcome, error)
	records     []*models.Record
}

func (s *fakeSink) Connect(ctx context.Context) (core.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	if len(s.connectErrs) > 0 {
		err := s.connectErrs[0]
		s.connectErrs = s.connectErrs[1:]
		return nil, err
	}
	conn := &fakeConnection{sink: s}
	s.conns = append(s.conns, conn)
	return conn, nil
}

func (s *fakeSink) delivered() []*models.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Record(nil), s.records...)
}

type fakeConnection struct {
	sink   *fakeSink
	closed bool
}

func (c *fakeConnection) Deliver(ctx context.Context, r *models.Record) (core.Outcome, error) {
	c.sink.mu.Lock()
	c.sink.records = append(c.sink.records, r)
	n := len(c.sink.records)
	deliver := c.sink.deliver
	c.sink.mu.Unlock()

	if deliver != nil {
		return deliver(ctx, n, r)
	}
	return core.Delivered(200, r.Range, int64(r.Rows()), 0), nil
}

func (c *fakeConnection) Close() error {
	c.closed = true
	return nil
}

func connectErr() error {
	return errors.New(errors.ErrorTypeConnection, "dial tcp: connection refused")
}

func record(tag string) string {
	return `{"range":"Sheet1!A1","values":[["` + tag + `",1]],"major_dimension":"ROWS","spreadsheet_id":"sheet-1"}`
}

// newTestConnector returns a connector whose sleeps are recorded, not slept.
func newTestConnector(t *testing.T, src core.Source, sink core.Sink, cfg *ConnectorConfig) (*Connector, *[]time.Duration) {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = t.Name()
	}
	c := NewConnector(src, sink, cfg, zaptest.NewLogger(t))
	var sleeps []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	return c, &sleeps
}

func TestConnectorFailTwiceThenSucceed(t *testing.T) {
	src := newFakeSource(record("a"), record("b"))
	sink := &fakeSink{connectErrs: []error{connectErr(), connectErr()}}
	c, sleeps := newTestConnector(t, src, sink, &ConnectorConfig{BackoffMin: time.Second, BackoffMax: 24 * time.Hour})

	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *sleeps)
	assert.Equal(t, 3, sink.connects)
	require.Len(t, sink.conns, 1)
	assert.True(t, sink.conns[0].closed)
	assert.Len(t, sink.delivered(), 2)
	assert.Equal(t, []string{"1", "2"}, src.ackedOffsets())
	assert.Equal(t, StateTerminated, c.State())
	assert.Equal(t, int64(2), c.Stats()["delivered"])
}

func TestConnectorStopsSleepingAtCap(t *testing.T) {
	sink := &fakeSink{}
	for i := 0; i < 10; i++ {
		sink.connectErrs = append(sink.connectErrs, connectErr())
	}
	c, sleeps := newTestConnector(t, newFakeSource(), sink, &ConnectorConfig{
		BackoffMin:           time.Second,
		BackoffMax:           4 * time.Second,
		MaxReconnectAttempts: 6,
	})

	err := c.Run(context.Background())

	// waits 1s, 2s are slept; 4s hits the ceiling and is neither slept nor attempted
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *sleeps)
	assert.Equal(t, 2, sink.connects)
	assert.True(t, errors.IsType(err, errors.ErrorTypeExhausted))
}

func TestConnectorSleepsAreNonDecreasing(t *testing.T) {
	sink := &fakeSink{}
	for i := 0; i < 5; i++ {
		sink.connectErrs = append(sink.connectErrs, connectErr())
	}
	c, sleeps := newTestConnector(t, newFakeSource(), sink, &ConnectorConfig{
		BackoffMin: 100 * time.Millisecond,
		BackoffMax: time.Hour,
	})

	require.NoError(t, c.Run(context.Background()))

	require.Len(t, *sleeps, 5)
	for i := 1; i < len(*sleeps); i++ {
		assert.GreaterOrEqual(t, (*sleeps)[i], (*sleeps)[i-1])
	}
	assert.Equal(t, 6, sink.connects)
}

func TestConnectorDecodeFailureKeepsConnection(t *testing.T) {
	src := newFakeSource(record("a"), `not json`, `{"range":"A1"}`, record("b"))
	sink := &fakeSink{}
	c, sleeps := newTestConnector(t, src, sink, &ConnectorConfig{})

	require.NoError(t, c.Run(context.Background()))

	assert.Empty(t, *sleeps)
	assert.Equal(t, 1, sink.connects)
	assert.Len(t, sink.delivered(), 2)
	assert.Equal(t, []string{"1", "2", "3", "4"}, src.ackedOffsets())
	assert.Equal(t, int64(2), c.Stats()["decode_errors"])
}

func TestConnectorPreservesOrder(t *testing.T) {
	var payloads []string
	for i := 0; i < 50; i++ {
		payloads = append(payloads, record(fmt.Sprintf("r%02d", i)))
	}
	sink := &fakeSink{}
	c, _ := newTestConnector(t, newFakeSource(payloads...), sink, &ConnectorConfig{})

	require.NoError(t, c.Run(context.Background()))

	got := sink.delivered()
	require.Len(t, got, 50)
	for i, r := range got {
		assert.Equal(t, fmt.Sprintf("r%02d", i), r.Values[0][0])
	}
}

func TestConnectorRejectionKeepsConnectionByDefault(t *testing.T) {
	src := newFakeSource(record("a"), record("b"), record("c"))
	sink := &fakeSink{deliver: func(_ context.Context, n int, r *models.Record) (core.Outcome, error) {
		if n == 2 {
			return core.Rejected(core.RejectTransport, stderrors.New("connection reset by peer")), nil
		}
		return core.Delivered(200, r.Range, 1, 2), nil
	}}
	c, sleeps := newTestConnector(t, src, sink, &ConnectorConfig{})

	require.NoError(t, c.Run(context.Background()))

	assert.Empty(t, *sleeps)
	assert.Equal(t, 1, sink.connects)
	assert.Equal(t, []string{"1", "2", "3"}, src.ackedOffsets())
	assert.Equal(t, int64(1), c.Stats()["rejected"])
	assert.Equal(t, int64(2), c.Stats()["delivered"])
}

func TestConnectorReconnectOnRejection(t *testing.T) {
	src := newFakeSource(record("a"), record("b"), record("c"))
	sink := &fakeSink{}
	sink.deliver = func(_ context.Context, n int, r *models.Record) (core.Outcome, error) {
		switch n {
		case 1:
			return core.Rejected(core.RejectMalformedRequest, stderrors.New("bad range")), nil
		case 2:
			// the next connect fails once
			sink.connectErrs = append(sink.connectErrs, connectErr())
			return core.Rejected(core.RejectAuthentication, stderrors.New("token expired")), nil
		}
		return core.Delivered(200, r.Range, 1, 2), nil
	}
	c, sleeps := newTestConnector(t, src, sink, &ConnectorConfig{
		BackoffMin:           time.Second,
		BackoffMax:           time.Hour,
		ReconnectOnRejection: true,
	})

	require.NoError(t, c.Run(context.Background()))

	// backoff was reset by the first connect, so the retry waits the minimum
	assert.Equal(t, []time.Duration{time.Second}, *sleeps)
	assert.Equal(t, 3, sink.connects)
	require.Len(t, sink.conns, 2)
	assert.True(t, sink.conns[0].closed)
	assert.True(t, sink.conns[1].closed)
	assert.Equal(t, []string{"1", "2", "3"}, src.ackedOffsets())
}

func TestConnectorMechanismErrorIsFatal(t *testing.T) {
	src := newFakeSource(record("a"), record("b"))
	sink := &fakeSink{deliver: func(context.Context, int, *models.Record) (core.Outcome, error) {
		return core.Outcome{}, errors.New(errors.ErrorTypeInternal, "deliver on closed connection")
	}}
	c, _ := newTestConnector(t, src, sink, &ConnectorConfig{})

	err := c.Run(context.Background())

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
	assert.Empty(t, src.ackedOffsets())
	assert.Len(t, sink.delivered(), 1)
	assert.True(t, sink.conns[0].closed)
}

func TestConnectorConfigErrorIsFatal(t *testing.T) {
	sink := &fakeSink{connectErrs: []error{errors.New(errors.ErrorTypeConfig, "environment variable GOOGLE_PRIVATE_KEY is not set")}}
	c, sleeps := newTestConnector(t, newFakeSource(record("a")), sink, &ConnectorConfig{})

	err := c.Run(context.Background())

	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Empty(t, *sleeps)
	assert.Equal(t, 1, sink.connects)
}

func TestConnectorSourceErrorIsFatal(t *testing.T) {
	src := newFakeSource(record("a"))
	src.end = stderrors.New("broker went away")
	sink := &fakeSink{}
	c, _ := newTestConnector(t, src, sink, &ConnectorConfig{})

	err := c.Run(context.Background())

	assert.True(t, errors.IsType(err, errors.ErrorTypeSource))
	assert.Len(t, sink.delivered(), 1)
	assert.True(t, sink.conns[0].closed)
}

func TestConnectorAckErrorIsFatal(t *testing.T) {
	src := newFakeSource(record("a"))
	src.ackErr = stderrors.New("session closed")
	c, _ := newTestConnector(t, src, &fakeSink{}, &ConnectorConfig{})

	err := c.Run(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeSource))
}

func TestConnectorCancelledDuringBackoff(t *testing.T) {
	sink := &fakeSink{connectErrs: []error{connectErr(), connectErr()}}
	c := NewConnector(newFakeSource(), sink, &ConnectorConfig{Name: t.Name(), BackoffMin: time.Hour, BackoffMax: 24 * time.Hour}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := c.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, sink.connects)
}

func TestConnectorCancelledWaitingForMessage(t *testing.T) {
	src := newFakeSource(record("a"))
	src.block = true
	sink := &fakeSink{}
	c, _ := newTestConnector(t, src, sink, &ConnectorConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := c.Run(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"1"}, src.ackedOffsets())
	require.Len(t, sink.conns, 1)
	assert.True(t, sink.conns[0].closed)
}

func TestConnectorInFlightDeliveryFinishesWithinGrace(t *testing.T) {
	src := newFakeSource(record("a"), record("b"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &fakeSink{deliver: func(dctx context.Context, _ int, r *models.Record) (core.Outcome, error) {
		cancel()
		select {
		case <-time.After(20 * time.Millisecond):
			return core.Delivered(200, r.Range, 1, 2), nil
		case <-dctx.Done():
			return core.Rejected(core.RejectCancelled, dctx.Err()), nil
		}
	}}
	c, _ := newTestConnector(t, src, sink, &ConnectorConfig{ShutdownGrace: 5 * time.Second})

	err := c.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, sink.delivered(), 1)
	assert.Equal(t, int64(1), c.Stats()["delivered"])
	assert.Equal(t, []string{"1"}, src.ackedOffsets())
}

func TestConnectorInFlightDeliveryCancelledAfterGrace(t *testing.T) {
	src := newFakeSource(record("a"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &fakeSink{deliver: func(dctx context.Context, _ int, _ *models.Record) (core.Outcome, error) {
		cancel()
		<-dctx.Done()
		return core.Rejected(core.RejectCancelled, dctx.Err()), nil
	}}
	c, _ := newTestConnector(t, src, sink, &ConnectorConfig{ShutdownGrace: 20 * time.Millisecond})

	start := time.Now()
	err := c.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, int64(1), c.Stats()["rejected"])
	assert.Equal(t, []string{"1"}, src.ackedOffsets())
}

func TestNewConnectorConfigDefaults(t *testing.T) {
	c := NewConnector(newFakeSource(), &fakeSink{}, &ConnectorConfig{Name: "defaults"}, nil)
	assert.Equal(t, time.Second, c.config.BackoffMin)
	assert.Equal(t, 24*time.Hour, c.config.BackoffMax)
	assert.Equal(t, StateReconnecting, c.State())
	assert.Equal(t, "reconnecting", c.State().String())
	assert.Error(t, c.Healthy())

	c.setState(StateConnected)
	assert.NoError(t, c.Healthy())
}
