// Package kafka implements a stream source backed by a Kafka consumer group.
// Offsets are marked only when a message is acknowledged, so anything not yet
// acked is redelivered after a restart or rebalance.
package kafka

import (
	"context"
	stderrors "errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-sheets/pkg/config"
	"github.com/ajitpratap0/nebula-sheets/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sheets/pkg/errors"
)

const rejoinDelay = time.Second

// consumerGroup is the part of sarama.ConsumerGroup the source uses.
type consumerGroup interface {
	Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error
	Errors() <-chan error
	Close() error
}

type delivery struct {
	session sarama.ConsumerGroupSession
	message *sarama.ConsumerMessage
}

// KafkaSource consumes one topic as a member of a consumer group.
type KafkaSource struct {
	topic  string
	group  consumerGroup
	logger *zap.Logger

	deliveries chan delivery
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	startOnce  sync.Once
	closeOnce  sync.Once

	consumed int64
	acked    int64
}

// NewKafkaSource connects a consumer group as described by cfg.
func NewKafkaSource(cfg config.KafkaConfig, logger *zap.Logger) (*KafkaSource, error) {
	saramaConfig, err := buildSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSource, "failed to create Kafka consumer group").
			WithDetail("group_id", cfg.GroupID)
	}

	return newKafkaSource(cfg.Topic, group, logger), nil
}

func newKafkaSource(topic string, group consumerGroup, logger *zap.Logger) *KafkaSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &KafkaSource{
		topic:      topic,
		group:      group,
		logger:     logger.With(zap.String("component", "kafka_source"), zap.String("topic", topic)),
		deliveries: make(chan delivery),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// buildSaramaConfig builds Sarama configuration for consumer
func buildSaramaConfig(cfg config.KafkaConfig) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID

	if cfg.Version != "" {
		version, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid kafka version")
		}
		sc.Version = version
	}

	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Return.Errors = true

	switch cfg.InitialOffset {
	case "", "oldest":
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	case "newest":
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "invalid initial offset %q", cfg.InitialOffset)
	}

	// marked offsets are committed in the background
	sc.Consumer.Offsets.AutoCommit.Enable = true
	sc.Consumer.Offsets.AutoCommit.Interval = time.Second

	return sc, nil
}

func (s *KafkaSource) start() {
	s.startOnce.Do(func() {
		s.wg.Add(2)
		go s.consume()
		go s.logErrors()
	})
}

// consume runs the consumer loop, rejoining the group after every rebalance.
func (s *KafkaSource) consume() {
	defer s.wg.Done()

	for {
		err := s.group.Consume(s.ctx, []string{s.topic}, s)
		if s.ctx.Err() != nil {
			return
		}
		if err != nil {
			if stderrors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			s.logger.Error("consumer group error", zap.Error(err))
			select {
			case <-time.After(rejoinDelay):
			case <-s.ctx.Done():
				return
			}
		}
	}
}

func (s *KafkaSource) logErrors() {
	defer s.wg.Done()

	for {
		select {
		case err, ok := <-s.group.Errors():
			if !ok {
				return
			}
			s.logger.Warn("kafka consumer error", zap.Error(err))
		case <-s.ctx.Done():
			return
		}
	}
}

// Setup implements sarama.ConsumerGroupHandler
func (s *KafkaSource) Setup(session sarama.ConsumerGroupSession) error {
	s.logger.Info("joined consumer group",
		zap.String("member_id", session.MemberID()),
		zap.Int32("generation", session.GenerationID()))
	return nil
}

// Cleanup implements sarama.ConsumerGroupHandler
func (s *KafkaSource) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim implements sarama.ConsumerGroupHandler. Messages are handed to
// Next one at a time, in partition order.
func (s *KafkaSource) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			select {
			case s.deliveries <- delivery{session: session, message: message}:
			case <-session.Context().Done():
				return nil
			}
		case <-session.Context().Done():
			return nil
		}
	}
}

// Next implements core.Source. A Kafka topic has no end, so Next only returns
// when a message arrives or ctx is done.
func (s *KafkaSource) Next(ctx context.Context) (*core.Message, error) {
	s.start()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, errors.New(errors.ErrorTypeSource, "kafka source is closed")
	case d := <-s.deliveries:
		atomic.AddInt64(&s.consumed, 1)
		return &core.Message{
			Payload:   d.message.Value,
			Offset:    d.message.Topic + "/" + strconv.Itoa(int(d.message.Partition)) + "@" + strconv.FormatInt(d.message.Offset, 10),
			Timestamp: d.message.Timestamp,
			Handle:    d,
		}, nil
	}
}

// Ack implements core.Source by marking the message's offset.
func (s *KafkaSource) Ack(_ context.Context, msg *core.Message) error {
	if msg == nil {
		return errors.New(errors.ErrorTypeSource, "ack of nil message")
	}
	d, ok := msg.Handle.(delivery)
	if !ok {
		return errors.New(errors.ErrorTypeSource, "message was not produced by this source")
	}

	d.session.MarkMessage(d.message, "")
	atomic.AddInt64(&s.acked, 1)
	return nil
}

// Close implements core.Source.
func (s *KafkaSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		if cerr := s.group.Close(); cerr != nil {
			err = errors.Wrap(cerr, errors.ErrorTypeSource, "failed to close consumer group")
		}
		s.wg.Wait()
		s.logger.Info("Kafka source closed",
			zap.Int64("consumed", atomic.LoadInt64(&s.consumed)),
			zap.Int64("acked", atomic.LoadInt64(&s.acked)))
	})
	return err
}

var _ core.Source = (*KafkaSource)(nil)
var _ sarama.ConsumerGroupHandler = (*KafkaSource)(nil)
