package jetstream

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-sheets/pkg/config"
	"github.com/ajitpratap0/nebula-sheets/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sheets/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterSource(config.SourceTypeJetStream, func(ctx context.Context, cfg *config.ConnectorConfig, logger *zap.Logger) (core.Source, error) {
		js := cfg.Source.JetStream
		js.AckWait = cfg.JetStreamAckWait()
		return NewJetStreamSource(ctx, js, logger)
	}, &registry.ConnectorInfo{
		ConnectorMetadata: core.ConnectorMetadata{Description: "NATS JetStream durable pull consumer with explicit acks"},
		Capabilities:      []string{"streaming", "at_least_once"},
	})
}
