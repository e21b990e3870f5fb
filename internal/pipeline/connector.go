// Package pipeline runs the connector loop: it keeps a sink connection alive
// with exponential backoff and forwards every message of the stream source to
// it, one at a time and in order.
//
// # States
//
// The loop is a small state machine:
//
//	Reconnecting --connect ok--> Connected
//	Connected --source EOF--> (clean exit)
//	Connected --rejection, reconnect_on_rejection--> Reconnecting
//	any --fatal error--> Terminated
//
// Fatal errors are backoff exhaustion, configuration errors returned by the
// sink, stream source failures and delivery mechanism errors. Connect failures
// are retried; decode failures and remote rejections are logged and the
// message is acknowledged.
//
// # Basic Usage
//
//	conn := pipeline.NewConnector(source, sink, pipeline.NewConnectorConfig(cfg), logger)
//	if err := conn.Run(ctx); err != nil {
//	    logger.Fatal("connector terminated", zap.Error(err))
//	}
package pipeline

import (
	"context"
	stderrors "errors"
	"io"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-sheets/pkg/config"
	"github.com/ajitpratap0/nebula-sheets/pkg/connector/base"
	"github.com/ajitpratap0/nebula-sheets/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sheets/pkg/errors"
	"github.com/ajitpratap0/nebula-sheets/pkg/metrics"
	"github.com/ajitpratap0/nebula-sheets/pkg/models"
	"github.com/ajitpratap0/nebula-sheets/pkg/observability"
)

// State is the connection state of the loop
type State int32

const (
	StateReconnecting State = iota
	StateConnected
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateReconnecting:
		return "reconnecting"
	case StateConnected:
		return "connected"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// errReconnect asks Run to drop the connection and reconnect.
var errReconnect = stderrors.New("connection dropped after rejection")

// ConnectorConfig configures the loop
type ConnectorConfig struct {
	Name                 string
	BackoffMin           time.Duration
	BackoffMax           time.Duration
	MaxReconnectAttempts int
	ReconnectOnRejection bool
	ShutdownGrace        time.Duration
}

// NewConnectorConfig extracts the loop settings from a connector configuration.
func NewConnectorConfig(cfg *config.ConnectorConfig) *ConnectorConfig {
	return &ConnectorConfig{
		Name:                 cfg.Name,
		BackoffMin:           cfg.Reliability.BackoffMin,
		BackoffMax:           cfg.Reliability.BackoffMax,
		MaxReconnectAttempts: cfg.Reliability.MaxReconnectAttempts,
		ReconnectOnRejection: cfg.Reliability.ReconnectOnRejection,
		ShutdownGrace:        cfg.Reliability.ShutdownGrace,
	}
}

// Connector forwards a stream source to a sink. It is not safe to call Run
// more than once at a time.
type Connector struct {
	source core.Source
	sink   core.Sink
	config *ConnectorConfig

	logger  *zap.Logger
	metrics *metrics.Collector
	tracer  *observability.ConnectorTracer

	// hooks replaced by tests
	newBackoff func() base.Backoff
	sleep      func(ctx context.Context, d time.Duration) error

	state        int32
	delivered    int64
	rejected     int64
	decodeErrors int64
	connects     int64
}

// NewConnector creates a connector loop. The source and sink are owned by
// the caller; Run closes connections it opens but not the source.
func NewConnector(source core.Source, sink core.Sink, cfg *ConnectorConfig, logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = config.DefaultBackoffMin
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = config.DefaultBackoffMax
	}

	c := &Connector{
		source:  source,
		sink:    sink,
		config:  cfg,
		logger:  logger.With(zap.String("connector", cfg.Name)),
		metrics: metrics.NewCollector(cfg.Name),
		tracer:  observability.NewConnectorTracer(config.SinkTypeSheets, cfg.Name),
		sleep:   sleepContext,
	}
	c.newBackoff = func() base.Backoff {
		return base.NewReconnectPolicy(cfg.BackoffMin, cfg.BackoffMax, cfg.MaxReconnectAttempts)
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current loop state.
func (c *Connector) State() State {
	return State(atomic.LoadInt32(&c.state))
}

func (c *Connector) setState(s State) {
	atomic.StoreInt32(&c.state, int32(s))
	switch s {
	case StateConnected:
		c.metrics.SetState(metrics.StateConnected)
	case StateTerminated:
		c.metrics.SetState(metrics.StateTerminated)
	default:
		c.metrics.SetState(metrics.StateReconnecting)
	}
}

// Run drives the loop until the source is exhausted (nil), ctx is cancelled
// (ctx.Err()) or a fatal error occurs.
func (c *Connector) Run(ctx context.Context) error {
	c.logger.Info("connector starting",
		zap.Duration("backoff_min", c.config.BackoffMin),
		zap.Duration("backoff_max", c.config.BackoffMax),
		zap.Int("max_reconnect_attempts", c.config.MaxReconnectAttempts),
		zap.Bool("reconnect_on_rejection", c.config.ReconnectOnRejection))

	err := c.run(ctx)
	c.setState(StateTerminated)

	fields := []zap.Field{
		zap.Int64("delivered", atomic.LoadInt64(&c.delivered)),
		zap.Int64("rejected", atomic.LoadInt64(&c.rejected)),
		zap.Int64("decode_errors", atomic.LoadInt64(&c.decodeErrors)),
		zap.Int64("connections", atomic.LoadInt64(&c.connects)),
	}
	switch {
	case err == nil:
		c.logger.Info("stream source exhausted, connector stopped", fields...)
	case ctx.Err() != nil && stderrors.Is(err, ctx.Err()):
		c.logger.Info("connector cancelled", fields...)
	default:
		c.logger.Error("connector terminated", append(fields, zap.Error(err))...)
	}
	return err
}

func (c *Connector) run(ctx context.Context) error {
	bo := c.newBackoff()

	for {
		c.setState(StateReconnecting)
		conn, err := c.reconnect(ctx, bo)
		if err != nil {
			return err
		}

		c.setState(StateConnected)
		err = c.consume(ctx, conn)
		c.closeConnection(conn)

		switch {
		case err == errReconnect:
			continue
		case err == io.EOF:
			return nil
		default:
			return err
		}
	}
}

// reconnect returns a live connection or a fatal error. bo is reset after a
// successful connect.
func (c *Connector) reconnect(ctx context.Context, bo base.Backoff) (core.Connection, error) {
	guarded := false
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		wait, ok := bo.Next()
		if !ok {
			return nil, errors.New(errors.ErrorTypeExhausted, "reconnect attempts exhausted").
				WithDetail("attempts", attempt)
		}
		c.metrics.SetBackoffWait(wait)

		if wait >= bo.Max() {
			// no sleep and no connect; logged once per outage
			c.metrics.RecordConnect(metrics.ConnectGuard)
			if !guarded {
				c.logger.Error("maximum retry interval reached",
					zap.Duration("wait", wait),
					zap.Duration("max", bo.Max()))
				guarded = true
			}
			runtime.Gosched()
			continue
		}

		attempt++
		conn, err := c.sink.Connect(ctx)
		if err == nil {
			bo.Reset()
			c.metrics.RecordConnect(metrics.ConnectSuccess)
			c.metrics.SetBackoffWait(0)
			atomic.AddInt64(&c.connects, 1)
			c.logger.Info("connected to sink", zap.Int("attempt", attempt))
			return conn, nil
		}

		if errors.IsType(err, errors.ErrorTypeConfig) {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		c.metrics.RecordConnect(metrics.ConnectFailure)
		c.logger.Warn("failed to connect to sink, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait))

		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// consume forwards messages until the source ends, a fatal error occurs or a
// rejection asks for a new connection.
func (c *Connector) consume(ctx context.Context, conn core.Connection) error {
	// acks land even when ctx is cancelled after the outcome is known
	ackCtx := context.WithoutCancel(ctx)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := c.source.Next(ctx)
		if err != nil {
			if err == io.EOF {
				return io.EOF
			}
			if ctxErr := ctx.Err(); ctxErr != nil && stderrors.Is(err, ctxErr) {
				return ctxErr
			}
			return errors.Wrap(err, errors.ErrorTypeSource, "stream source failed")
		}

		record, err := models.DecodeRecord(msg.Payload)
		if err != nil {
			atomic.AddInt64(&c.decodeErrors, 1)
			c.metrics.RecordDecodeError()
			c.logger.Error("failed to decode record, skipping",
				zap.String("offset", msg.Offset),
				zap.Int("payload_bytes", len(msg.Payload)),
				zap.Error(err))
			if err := c.ack(ackCtx, msg); err != nil {
				return err
			}
			continue
		}

		outcome, err := c.deliver(ctx, conn, record)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "delivery mechanism failed").
				WithDetail("offset", msg.Offset)
		}
		if err := c.ack(ackCtx, msg); err != nil {
			return err
		}

		if !outcome.Delivered && c.config.ReconnectOnRejection && outcome.Reason.ConnectionLost() {
			c.logger.Warn("dropping connection after rejection", zap.String("reason", string(outcome.Reason)))
			return errReconnect
		}
	}
}

// deliver sends one record. Once started, a delivery survives cancellation
// of ctx for up to ShutdownGrace.
func (c *Connector) deliver(ctx context.Context, conn core.Connection, record *models.Record) (core.Outcome, error) {
	dctx, cancel := c.graceContext(ctx)
	defer cancel()

	dctx, span := c.tracer.StartSpan(dctx, "sheets.deliver")
	defer span.End()
	span.SetAttribute("sheets.spreadsheet_id", record.SpreadsheetID)
	span.SetAttribute("sheets.range", record.Range)
	span.SetAttribute("sheets.rows", record.Rows())

	timer := metrics.NewTimer()
	outcome, err := conn.Deliver(dctx, record)
	latency := timer.Elapsed()
	if err != nil {
		span.Fail("delivery mechanism failed", err)
		return outcome, err
	}

	if outcome.Delivered {
		atomic.AddInt64(&c.delivered, 1)
		c.metrics.RecordDelivered(latency)
		span.SetAttribute("http.status_code", outcome.Status)
		span.Succeed()
		c.logger.Debug("record appended",
			zap.String("record", record.String()),
			zap.Int("status", outcome.Status),
			zap.String("updated_range", outcome.UpdatedRange),
			zap.Int64("updated_rows", outcome.UpdatedRows),
			zap.Int64("updated_cells", outcome.UpdatedCells),
			zap.Duration("latency", latency))
		return outcome, nil
	}

	atomic.AddInt64(&c.rejected, 1)
	c.metrics.RecordRejected(string(outcome.Reason), latency)
	span.SetAttribute("sheets.reject_reason", string(outcome.Reason))
	span.Fail("record rejected", outcome.Err)
	c.logger.Error("record rejected by sink",
		zap.String("record", record.String()),
		zap.String("reason", string(outcome.Reason)),
		zap.Error(outcome.Err))
	return outcome, nil
}

// graceContext detaches from ctx's cancellation and cancels ShutdownGrace
// after ctx is done.
func (c *Connector) graceContext(ctx context.Context) (context.Context, context.CancelFunc) {
	dctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	grace := c.config.ShutdownGrace

	stop := context.AfterFunc(ctx, func() {
		if grace <= 0 {
			cancel()
			return
		}
		c.logger.Info("shutdown requested, waiting for in-flight delivery", zap.Duration("grace", grace))
		t := time.NewTimer(grace)
		defer t.Stop()
		select {
		case <-t.C:
			cancel()
		case <-dctx.Done():
		}
	})

	return dctx, func() {
		stop()
		cancel()
	}
}

func (c *Connector) ack(ctx context.Context, msg *core.Message) error {
	if err := c.source.Ack(ctx, msg); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSource, "failed to acknowledge message").
			WithDetail("offset", msg.Offset)
	}
	return nil
}

func (c *Connector) closeConnection(conn core.Connection) {
	if err := conn.Close(); err != nil {
		c.logger.Warn("failed to close sink connection", zap.Error(err))
	}
}

// Healthy returns nil while a sink connection is open.
func (c *Connector) Healthy() error {
	if s := c.State(); s != StateConnected {
		return errors.Newf(errors.ErrorTypeConnection, "connector is %s", s)
	}
	return nil
}

// Stats returns loop counters.
func (c *Connector) Stats() map[string]interface{} {
	return map[string]interface{}{
		"state":         c.State().String(),
		"delivered":     atomic.LoadInt64(&c.delivered),
		"rejected":      atomic.LoadInt64(&c.rejected),
		"decode_errors": atomic.LoadInt64(&c.decodeErrors),
		"connections":   atomic.LoadInt64(&c.connects),
	}
}
