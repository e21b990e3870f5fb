package sheets

import (
	"go.uber.org/zap"

	"github.com/ajitpratap0/nebula-sheets/pkg/config"
	"github.com/ajitpratap0/nebula-sheets/pkg/connector/core"
	"github.com/ajitpratap0/nebula-sheets/pkg/connector/registry"
)

func init() {
	_ = registry.RegisterSink(config.SinkTypeSheets, func(cfg *config.ConnectorConfig, logger *zap.Logger) (core.Sink, error) {
		return NewSheetsSink(cfg, logger)
	}, &registry.ConnectorInfo{
		ConnectorMetadata: core.ConnectorMetadata{Description: "Appends records to a Google Sheets range with a service account"},
		Capabilities:      []string{"append", "rate_limit"},
	})
}
