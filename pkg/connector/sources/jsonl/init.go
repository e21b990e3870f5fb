package jsonl

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-sheets/pkg/config"
	"github.com/ajitpratap0/nebula-sheets/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sheets/pkg/connector/registry"
)

func init() {
	factory := func(_ context.Context, cfg *config.ConnectorConfig, logger *zap.Logger) (core.Source, error) {
		return Open(&cfg.Source, logger)
	}

	_ = registry.RegisterSource(config.SourceTypeStdin, factory, &registry.ConnectorInfo{
		ConnectorMetadata: core.ConnectorMetadata{Description: "Line-delimited JSON records read from standard input"},
		Capabilities:      []string{"streaming", "json_lines"},
	})
	_ = registry.RegisterSource(config.SourceTypeFile, factory, &registry.ConnectorInfo{
		ConnectorMetadata: core.ConnectorMetadata{Description: "Line-delimited JSON records read from a file"},
		Capabilities:      []string{"json_lines"},
	})
}
