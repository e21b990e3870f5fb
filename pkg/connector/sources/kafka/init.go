package kafka

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-sheets/pkg/config"
	"github.com/ajitpratap0/nebula-sheets/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sheets/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterSource(config.SourceTypeKafka, func(_ context.Context, cfg *config.ConnectorConfig, logger *zap.Logger) (core.Source, error) {
		return NewKafkaSource(cfg.Source.Kafka, logger)
	}, &registry.ConnectorInfo{
		ConnectorMetadata: core.ConnectorMetadata{Description: "Kafka topic consumed as a consumer group member; offsets marked on ack"},
		Capabilities:      []string{"streaming", "at_least_once"},
	})
}
